// Package stages holds the format-independent pipeline stages that run
// after extraction: cleaning, normalization, rendering and indexing.
// All of them register under the wildcard format.
package stages

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/workpool"
)

// Clean sanitizes chunk markup and scrubs control characters from
// extracted text. Chunks carry untrusted document content; the UGC
// policy strips scripts, event handlers and embedded styling while
// keeping the structural elements the rendering stage needs.
type Clean struct {
	pool   *workpool.Pool
	logger *slog.Logger
	policy *bluemonday.Policy
}

func NewClean(pool *workpool.Pool, logger *slog.Logger) *Clean {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clean{pool: pool, logger: logger, policy: bluemonday.UGCPolicy()}
}

func (c *Clean) Phase() parser.Phase { return parser.PhaseCleaning }

func (c *Clean) Supports(parser.Format) bool { return true }

func (c *Clean) Process(ctx context.Context, doc *parser.Document, opts *parser.Options) error {
	idxs := make([]int, len(doc.Chunks))
	for i := range idxs {
		idxs[i] = i
	}
	workpool.ForEachBatch(ctx, c.pool, idxs, opts.Parallelism, func(_ context.Context, _ int, i int) error {
		ch := &doc.Chunks[i]
		if ch.HTML != "" {
			ch.HTML = c.policy.Sanitize(ch.HTML)
		}
		ch.Content = scrub(ch.Content)
		ch.Meta.Title = scrub(ch.Meta.Title)
		for j := range ch.Meta.Headings {
			ch.Meta.Headings[j].Text = scrub(ch.Meta.Headings[j].Text)
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	doc.Text = scrub(doc.Text)
	return nil
}

// scrub drops control runes, keeping newlines and tabs.
func scrub(s string) string {
	if !strings.ContainsFunc(s, isControl) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if !isControl(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t'
}
