package stages

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docparse/parser"
)

// Index computes per-chunk word counts and the document total.
type Index struct {
	logger *slog.Logger
}

func NewIndex(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{logger: logger}
}

func (x *Index) Phase() parser.Phase { return parser.PhaseIndexing }

func (x *Index) Supports(parser.Format) bool { return true }

func (x *Index) Process(ctx context.Context, doc *parser.Document, _ *parser.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	total := 0
	for i := range doc.Chunks {
		ch := &doc.Chunks[i]
		if ch.Meta.Words == 0 && ch.Content != "" {
			ch.Meta.Words = len(strings.Fields(ch.Content))
		}
		total += ch.Meta.Words
	}
	doc.WordCount = total
	return nil
}
