package stages

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hazyhaar/docparse/parser"
)

var (
	multiBlank    = regexp.MustCompile(`\n{3,}`)
	errEmptyChunk = errors.New("chunk empty after normalization")
)

// Normalize tightens whitespace, drops chunks that cleaned down to
// nothing and reindexes the survivors, then rebuilds the document text
// from them.
type Normalize struct {
	logger *slog.Logger
}

func NewNormalize(logger *slog.Logger) *Normalize {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalize{logger: logger}
}

func (n *Normalize) Phase() parser.Phase { return parser.PhaseNormalization }

func (n *Normalize) Supports(parser.Format) bool { return true }

func (n *Normalize) Process(ctx context.Context, doc *parser.Document, _ *parser.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kept := doc.Chunks[:0]
	for _, ch := range doc.Chunks {
		ch.Content = normalizeText(ch.Content)
		if ch.Content == "" {
			doc.Skip(n.logger, parser.PhaseNormalization, ch.ID, errEmptyChunk)
			continue
		}
		ch.Index = len(kept)
		ch.Meta.Words = len(strings.Fields(ch.Content))
		kept = append(kept, ch)
	}
	doc.Chunks = kept

	var sb strings.Builder
	for i := range doc.Chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Chunks[i].Content)
	}
	doc.Text = sb.String()
	return nil
}

// normalizeText trims each line's trailing space and collapses runs of
// blank lines to one.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = multiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
