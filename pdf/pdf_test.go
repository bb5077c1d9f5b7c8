package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/workpool"
)

func TestSplitPages(t *testing.T) {
	// WHAT: Page ranges derive from the chunk byte budget, last range
	// truncated to the page count.
	tests := []struct {
		pages     int
		chunkSize int
		want      []pageRange
	}{
		{0, 1 << 20, nil},
		{3, 1 << 20, []pageRange{{1, 3}}},
		{12, 1 << 20, []pageRange{{1, 5}, {6, 10}, {11, 12}}},
		{5, 100, []pageRange{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}}},
	}
	for _, tt := range tests {
		got := splitPages(tt.pages, tt.chunkSize)
		if len(got) != len(tt.want) {
			t.Errorf("splitPages(%d, %d) = %v, want %v", tt.pages, tt.chunkSize, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitPages(%d, %d)[%d] = %v, want %v", tt.pages, tt.chunkSize, i, got[i], tt.want[i])
			}
		}
	}
}

func TestTokenize_HeadingAndParagraphs(t *testing.T) {
	// WHAT: A line in a font materially larger than the body becomes a
	// heading; a vertical move past the gap threshold becomes a
	// paragraph break.
	stream := []byte("BT\n" +
		"/F1 24 Tf\n72 720 Td\n(Chapter One) Tj\n" +
		"/F1 12 Tf\n0 -40 Td\n(Body starts here.) Tj\n" +
		"0 -14 Td\n(Same paragraph line.) Tj\n" +
		"0 -40 Td\n(New paragraph.) Tj\n" +
		"ET")
	pc := tokenizeContent(stream, 14)
	text, headings := assemblePage(pc, 1.2)

	if len(headings) != 1 || headings[0].Text != "Chapter One" || headings[0].Level != 1 {
		t.Fatalf("headings = %+v", headings)
	}
	if !strings.Contains(text, "Body starts here.\nSame paragraph line.") {
		t.Errorf("small move should not break paragraph:\n%q", text)
	}
	if !strings.Contains(text, "Same paragraph line.\n\nNew paragraph.") {
		t.Errorf("large move should break paragraph:\n%q", text)
	}
}

func TestTokenize_OperatorsAndEscapes(t *testing.T) {
	// WHAT: TJ arrays, the ' operator and octal escapes all decode.
	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n" +
		"[(Hel) -20 (lo)] TJ\n" +
		"(and\\040more) '\n" +
		"(open \\( paren) Tj\n" +
		"ET")
	pc := tokenizeContent(stream, 14)
	text, _ := assemblePage(pc, 1.2)
	for _, want := range []string{"Hello", "and more", "open ( paren"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
}

func TestTokenize_EmptyStream(t *testing.T) {
	text, headings := assemblePage(tokenizeContent(nil, 14), 1.2)
	if text != "" || headings != nil {
		t.Errorf("got %q, %v", text, headings)
	}
}

func newTestStage(t *testing.T) *Stage {
	t.Helper()
	pool := workpool.NewPool(workpool.PoolOptions{MinWorkers: 2, MaxWorkers: 4, QueueSize: 16})
	t.Cleanup(func() { pool.Close() })
	return New(pool, slog.Default())
}

func TestProcess_MultiPage(t *testing.T) {
	// WHAT: A 12-page document becomes exactly 12 chunks ordered by page
	// number, one per page, while the default chunk size batches the
	// pages into 5/5/2 ranges internally.
	// WHY: Range extraction completes out of order on the pool, and the
	// range is a batching unit only, never a chunk boundary.
	s := newTestStage(t)
	var streams []string
	for p := 1; p <= 12; p++ {
		streams = append(streams, fmt.Sprintf("BT\n/F1 12 Tf\n72 720 Td\n(page %02d body text) Tj\nET", p))
	}
	f := &parser.File{Name: "twelve.pdf", Data: buildPDF(t, streams, nil, nil)}

	doc := &parser.Document{File: f, Format: parser.FormatPDF}
	opts := parser.DefaultOptions()
	if err := s.Process(context.Background(), doc, &opts); err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.Metadata.PageCount != 12 {
		t.Errorf("page count = %d", doc.Metadata.PageCount)
	}
	if doc.Metadata.Title != "twelve" {
		t.Errorf("title fallback = %q", doc.Metadata.Title)
	}
	if len(doc.Chunks) != 12 {
		t.Fatalf("chunks = %d, want 12 (one per page)", len(doc.Chunks))
	}
	for i := range doc.Chunks {
		if doc.Chunks[i].Index != i {
			t.Errorf("chunk %d has index %d", i, doc.Chunks[i].Index)
		}
		if doc.Chunks[i].Meta.Page != i+1 {
			t.Errorf("chunk %d has page %d, want %d", i, doc.Chunks[i].Meta.Page, i+1)
		}
	}
	if !strings.Contains(doc.Chunks[0].Content, "page 01") || !strings.Contains(doc.Chunks[11].Content, "page 12") {
		t.Errorf("per-page content wrong: first %q, last %q", doc.Chunks[0].Content, doc.Chunks[11].Content)
	}
	if !strings.Contains(doc.Text, "page 01") || !strings.Contains(doc.Text, "page 12") {
		t.Errorf("text missing page content: %q", doc.Text)
	}
}

func TestProcess_InfoDict(t *testing.T) {
	// WHAT: The Info dictionary maps onto document metadata.
	s := newTestStage(t)
	info := map[string]string{
		"Title":    "Annual Report",
		"Author":   "Jane Doe",
		"Producer": "unit test",
	}
	streams := []string{"BT\n/F1 12 Tf\n72 720 Td\n(hello) Tj\nET"}
	f := &parser.File{Name: "report.pdf", Data: buildPDF(t, streams, info, nil)}

	doc := &parser.Document{File: f, Format: parser.FormatPDF}
	opts := parser.DefaultOptions()
	if err := s.Process(context.Background(), doc, &opts); err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.Metadata.Title != "Annual Report" || doc.Metadata.Author != "Jane Doe" || doc.Metadata.Producer != "unit test" {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
}

func TestProcess_Outline(t *testing.T) {
	// WHAT: Outline entries resolve to titles and 1-based page numbers.
	s := newTestStage(t)
	streams := []string{
		"BT\n/F1 12 Tf\n72 720 Td\n(one) Tj\nET",
		"BT\n/F1 12 Tf\n72 720 Td\n(two) Tj\nET",
	}
	outline := []outlineSpec{{title: "Intro", page: 1}, {title: "Details", page: 2}}
	f := &parser.File{Name: "toc.pdf", Data: buildPDF(t, streams, nil, outline)}

	doc := &parser.Document{File: f, Format: parser.FormatPDF}
	opts := parser.DefaultOptions()
	if err := s.Process(context.Background(), doc, &opts); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(doc.Toc) != 2 {
		t.Fatalf("toc = %+v, want 2 roots", doc.Toc)
	}
	if doc.Toc[0].Title != "Intro" || doc.Toc[0].Page != 1 || doc.Toc[0].Level != 1 {
		t.Errorf("toc[0] = %+v", doc.Toc[0])
	}
	if doc.Toc[1].Title != "Details" || doc.Toc[1].Page != 2 {
		t.Errorf("toc[1] = %+v", doc.Toc[1])
	}
}

func TestProcess_NotAPDF(t *testing.T) {
	// WHAT: Garbage bytes report a container error, not a panic.
	s := newTestStage(t)
	doc := &parser.Document{File: &parser.File{Name: "x.pdf", Data: []byte("definitely not a pdf")}}
	opts := parser.DefaultOptions()
	err := s.Process(context.Background(), doc, &opts)
	var ce *parser.ContainerError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContainerError", err)
	}
	if ce.Format != parser.FormatPDF {
		t.Errorf("format = %v", ce.Format)
	}
}

func TestProcess_Cancelled(t *testing.T) {
	// WHAT: A cancelled context surfaces as the context error.
	s := newTestStage(t)
	streams := []string{"BT\n/F1 12 Tf\n72 720 Td\n(x) Tj\nET"}
	f := &parser.File{Name: "x.pdf", Data: buildPDF(t, streams, nil, nil)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := &parser.Document{File: f}
	opts := parser.DefaultOptions()
	if err := s.Process(ctx, doc, &opts); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStage_Identity(t *testing.T) {
	s := newTestStage(t)
	if s.Phase() != parser.PhaseExtraction {
		t.Errorf("phase = %v", s.Phase())
	}
	if !s.Supports(parser.FormatPDF) || s.Supports(parser.FormatEPUB) {
		t.Error("format support wrong")
	}
}

// --- fixture builder ---

type outlineSpec struct {
	title string
	page  int // 1-based
}

// buildPDF writes a valid single-xref PDF with one content stream per
// page, an optional Info dictionary and an optional flat outline.
//
// Object layout: 1 catalog, 2 pages root, 2+i page i, 2+n+i content i,
// 3+2n font, then outline root and items, then info.
func buildPDF(t *testing.T, streams []string, info map[string]string, outline []outlineSpec) []byte {
	t.Helper()
	n := len(streams)
	fontObj := 3 + 2*n
	nextObj := fontObj + 1

	outlineRoot := 0
	if len(outline) > 0 {
		outlineRoot = nextObj
		nextObj += 1 + len(outline)
	}
	infoObj := 0
	if len(info) > 0 {
		infoObj = nextObj
		nextObj++
	}
	total := nextObj // object numbers 1..total-1

	var b strings.Builder
	offsets := make([]int, total)
	add := func(nr int, body string) {
		offsets[nr] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", nr, body)
	}

	b.WriteString("%PDF-1.4\n")

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if outlineRoot > 0 {
		catalog += fmt.Sprintf(" /Outlines %d 0 R", outlineRoot)
	}
	catalog += " >>"
	add(1, catalog)

	kids := make([]string, n)
	for i := range streams {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	add(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))

	for i := range streams {
		add(3+i, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>", 3+n+i, fontObj))
	}
	for i, stream := range streams {
		add(3+n+i, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	add(fontObj, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	if outlineRoot > 0 {
		first, last := outlineRoot+1, outlineRoot+len(outline)
		add(outlineRoot, fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>", first, last, len(outline)))
		for i, item := range outline {
			nr := outlineRoot + 1 + i
			body := fmt.Sprintf("<< /Title (%s) /Parent %d 0 R /Dest [%d 0 R /XYZ null null null]", item.title, outlineRoot, 2+item.page)
			if i > 0 {
				body += fmt.Sprintf(" /Prev %d 0 R", nr-1)
			}
			if i < len(outline)-1 {
				body += fmt.Sprintf(" /Next %d 0 R", nr+1)
			}
			add(nr, body+" >>")
		}
	}
	if infoObj > 0 {
		var sb strings.Builder
		sb.WriteString("<<")
		for _, key := range []string{"Title", "Author", "Subject", "Keywords", "Creator", "Producer"} {
			if v, ok := info[key]; ok {
				fmt.Fprintf(&sb, " /%s (%s)", key, v)
			}
		}
		sb.WriteString(" >>")
		add(infoObj, sb.String())
	}

	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", total)
	b.WriteString("0000000000 65535 f \n")
	for nr := 1; nr < total; nr++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[nr])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R", total)
	if infoObj > 0 {
		fmt.Fprintf(&b, " /Info %d 0 R", infoObj)
	}
	b.WriteString(" >>\nstartxref\n")
	fmt.Fprintf(&b, "%d\n%%%%EOF\n", xrefOffset)
	return []byte(b.String())
}
