package stages

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docparse/idgen"
	"github.com/hazyhaar/docparse/parser"
)

// Text is the extraction stage for formats that need no container
// parsing. HTML files keep their markup on the chunk for the cleaning
// and rendering stages; markdown files get their ATX headings
// collected; everything else becomes one plain chunk.
type Text struct {
	logger *slog.Logger
	newID  idgen.Generator
}

func NewText(logger *slog.Logger) *Text {
	if logger == nil {
		logger = slog.Default()
	}
	return &Text{logger: logger, newID: idgen.Prefixed("chunk_", idgen.NanoID(10))}
}

func (t *Text) Phase() parser.Phase { return parser.PhaseExtraction }

func (t *Text) Supports(f parser.Format) bool {
	switch f {
	case parser.FormatHTML, parser.FormatText, parser.FormatMarkdown, parser.FormatCSV, parser.FormatJSON:
		return true
	}
	return false
}

func (t *Text) Process(ctx context.Context, doc *parser.Document, _ *parser.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content := string(doc.File.Data)
	ch := parser.Chunk{
		ID:      t.newID(),
		Content: content,
	}
	var headings []parser.Heading
	switch doc.Format {
	case parser.FormatHTML:
		ch.HTML = content
	case parser.FormatMarkdown:
		headings = atxHeadings(content)
		ch.Markdown = content
	}
	ch.Meta = parser.ChunkMeta{
		Headings: headings,
		Words:    len(strings.Fields(content)),
	}

	doc.Chunks = append(doc.Chunks, ch)
	doc.Text = content
	if doc.Format != parser.FormatHTML {
		// Raw markup makes a useless title; HTML falls through to the
		// filename.
		doc.Metadata.Title = textTitle(content, headings)
	}
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = doc.File.Stem()
	}
	return nil
}

// atxHeadings collects # style markdown headings.
func atxHeadings(content string) []parser.Heading {
	var out []parser.Heading
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		level := 0
		for level < len(trimmed) && trimmed[level] == '#' && level < 6 {
			level++
		}
		text := strings.TrimSpace(trimmed[level:])
		if text != "" {
			out = append(out, parser.Heading{Level: level, Text: text})
		}
	}
	return out
}

// textTitle takes the first heading, else the first non-empty line.
func textTitle(content string, headings []parser.Heading) string {
	if len(headings) > 0 {
		return headings[0].Text
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return ""
}
