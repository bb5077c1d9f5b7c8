package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/workpool"
)

// Render produces markdown. Chunks that kept their source markup go
// through the HTML converter; plain-text chunks get their heading
// lines promoted to markdown headings instead. A chunk whose
// conversion fails falls back to its plain content and is recorded as
// skipped.
type Render struct {
	pool   *workpool.Pool
	logger *slog.Logger
	conv   *converter.Converter
}

func NewRender(pool *workpool.Pool, logger *slog.Logger) *Render {
	if logger == nil {
		logger = slog.Default()
	}
	return &Render{
		pool:   pool,
		logger: logger,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (r *Render) Phase() parser.Phase { return parser.PhaseRendering }

func (r *Render) Supports(parser.Format) bool { return true }

func (r *Render) Process(ctx context.Context, doc *parser.Document, opts *parser.Options) error {
	idxs := make([]int, len(doc.Chunks))
	for i := range idxs {
		idxs[i] = i
	}
	errs := workpool.ForEachBatch(ctx, r.pool, idxs, opts.Parallelism, func(_ context.Context, _ int, i int) error {
		ch := &doc.Chunks[i]
		if ch.HTML == "" {
			ch.Markdown = headingsToMarkdown(ch.Content, ch.Meta.Headings)
			return nil
		}
		md, err := r.conv.ConvertString(ch.HTML)
		if err != nil || strings.TrimSpace(md) == "" {
			ch.Markdown = ch.Content
			if err != nil {
				return fmt.Errorf("convert chunk %s: %w", ch.ID, err)
			}
			return nil
		}
		ch.Markdown = strings.TrimSpace(md)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, err := range errs {
		if err != nil {
			doc.Skip(r.logger, parser.PhaseRendering, doc.Chunks[idxs[i]].ID, err)
		}
	}

	var sb strings.Builder
	for i := range doc.Chunks {
		if doc.Chunks[i].Markdown == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Chunks[i].Markdown)
	}
	doc.Markdown = sb.String()
	return nil
}

// headingsToMarkdown prefixes lines recognized as headings with the
// matching number of hash marks.
func headingsToMarkdown(content string, headings []parser.Heading) string {
	if len(headings) == 0 {
		return content
	}
	level := make(map[string]int, len(headings))
	for _, h := range headings {
		if _, dup := level[h.Text]; !dup {
			level[h.Text] = h.Level
		}
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lvl, ok := level[strings.TrimSpace(line)]; ok {
			lines[i] = strings.Repeat("#", lvl) + " " + strings.TrimSpace(line)
		}
	}
	return strings.Join(lines, "\n")
}
