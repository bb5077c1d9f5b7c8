package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/workpool"
)

// epubBuilder assembles a minimal EPUB in memory. Paths in entries are
// relative to the archive root.
type epubBuilder struct {
	entries map[string]string
	spine   []string // manifest ids in reading order
	items   map[string]opfItem
	meta    string
	tocID   string
}

func newEpubBuilder() *epubBuilder {
	return &epubBuilder{
		entries: map[string]string{},
		items:   map[string]opfItem{},
		meta:    "<dc:title>Test Book</dc:title><dc:creator>Ada</dc:creator><dc:language>en</dc:language>",
	}
}

func (b *epubBuilder) addChapter(id, href, body string) *epubBuilder {
	b.entries["OEBPS/"+href] = "<html><head><title>" + id + "</title></head><body>" + body + "</body></html>"
	b.items[id] = opfItem{ID: id, Href: href, MediaType: "application/xhtml+xml"}
	b.spine = append(b.spine, id)
	return b
}

func (b *epubBuilder) addNCX(points string) *epubBuilder {
	b.entries["OEBPS/toc.ncx"] = `<?xml version="1.0"?><ncx><navMap>` + points + `</navMap></ncx>`
	b.items["ncx"] = opfItem{ID: "ncx", Href: "toc.ncx", MediaType: "application/x-dtbncx+xml"}
	b.tocID = "ncx"
	return b
}

func (b *epubBuilder) addRaw(name, data string) *epubBuilder {
	b.entries[name] = data
	return b
}

func (b *epubBuilder) build(t *testing.T) *parser.File {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><package xmlns:dc="http://purl.org/dc/elements/1.1/"><metadata>`)
	sb.WriteString(b.meta)
	sb.WriteString(`</metadata><manifest>`)
	for _, it := range b.items {
		fmt.Fprintf(&sb, `<item id=%q href=%q media-type=%q properties=%q/>`, it.ID, it.Href, it.MediaType, it.Properties)
	}
	sb.WriteString(`</manifest><spine toc="` + b.tocID + `">`)
	for _, id := range b.spine {
		fmt.Fprintf(&sb, `<itemref idref=%q/>`, id)
	}
	sb.WriteString(`</spine></package>`)

	files := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": `<?xml version="1.0"?><container><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`,
		"OEBPS/content.opf":      sb.String(),
	}
	for k, v := range b.entries {
		files[k] = v
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(data)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return &parser.File{Name: "book.epub", MIME: "application/epub+zip", Data: buf.Bytes()}
}

func newTestStage(t *testing.T) (*Stage, *workpool.Pool) {
	t.Helper()
	pool := workpool.NewPool(workpool.PoolOptions{MinWorkers: 2, MaxWorkers: 4, QueueSize: 16})
	t.Cleanup(func() { pool.Close() })
	return New(pool, slog.Default()), pool
}

func runStage(t *testing.T, s *Stage, f *parser.File) *parser.Document {
	t.Helper()
	doc := &parser.Document{File: f, Format: parser.FormatEPUB}
	opts := parser.DefaultOptions()
	if err := s.Process(context.Background(), doc, &opts); err != nil {
		t.Fatalf("process: %v", err)
	}
	return doc
}

func TestProcess_SpineOrderAndMetadata(t *testing.T) {
	// WHAT: Three spine documents become three chunks in spine order,
	// with OPF metadata carried over.
	// WHY: Batch completion order is nondeterministic; output must not be.
	s, _ := newTestStage(t)
	f := newEpubBuilder().
		addChapter("c1", "ch1.xhtml", "<h1>One</h1><p>first chapter</p>").
		addChapter("c2", "ch2.xhtml", "<h1>Two</h1><p>second chapter</p>").
		addChapter("c3", "ch3.xhtml", "<h1>Three</h1><p>third chapter</p>").
		build(t)

	doc := runStage(t, s, f)
	if len(doc.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(doc.Chunks))
	}
	for i, want := range []string{"One", "Two", "Three"} {
		if doc.Chunks[i].Index != i {
			t.Errorf("chunk %d index = %d", i, doc.Chunks[i].Index)
		}
		if !strings.Contains(doc.Chunks[i].Content, want) {
			t.Errorf("chunk %d content %q missing %q", i, doc.Chunks[i].Content, want)
		}
		if doc.Chunks[i].HTML == "" {
			t.Errorf("chunk %d has no source html", i)
		}
	}
	if doc.Metadata.Title != "Test Book" || doc.Metadata.Author != "Ada" || doc.Metadata.Language != "en" {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
	if !strings.Contains(doc.Text, "first chapter") || !strings.Contains(doc.Text, "third chapter") {
		t.Errorf("text missing chapters: %q", doc.Text)
	}
}

func TestProcess_HeadingsCollected(t *testing.T) {
	// WHAT: h1-h6 elements land in chunk meta with their levels.
	s, _ := newTestStage(t)
	f := newEpubBuilder().
		addChapter("c1", "ch1.xhtml", "<h1>Top</h1><p>x</p><h2>Sub</h2><p>y</p>").
		build(t)

	doc := runStage(t, s, f)
	hs := doc.Chunks[0].Meta.Headings
	if len(hs) != 2 || hs[0].Level != 1 || hs[0].Text != "Top" || hs[1].Level != 2 || hs[1].Text != "Sub" {
		t.Fatalf("headings = %+v", hs)
	}
}

func TestProcess_PartialFailureSkips(t *testing.T) {
	// WHAT: A spine id whose file is missing from the archive yields a
	// skip record; the other chapters still come through.
	// WHY: One corrupt member must not abort the whole book.
	s, _ := newTestStage(t)
	b := newEpubBuilder().
		addChapter("c1", "ch1.xhtml", "<p>alpha</p>").
		addChapter("c2", "missing.xhtml", "").
		addChapter("c3", "ch3.xhtml", "<p>gamma</p>")
	delete(b.entries, "OEBPS/missing.xhtml")
	f := b.build(t)

	doc := runStage(t, s, f)
	if len(doc.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(doc.Chunks))
	}
	if len(doc.Skipped) != 1 {
		t.Fatalf("skipped = %+v, want 1 entry", doc.Skipped)
	}
	if doc.Skipped[0].Phase != parser.PhaseExtraction || !strings.Contains(doc.Skipped[0].Item, "missing.xhtml") {
		t.Errorf("skip record = %+v", doc.Skipped[0])
	}
}

func TestProcess_NCXTree(t *testing.T) {
	// WHAT: Nested navPoints become a TOC forest ordered by playOrder.
	s, _ := newTestStage(t)
	f := newEpubBuilder().
		addChapter("c1", "ch1.xhtml", "<p>a</p>").
		addNCX(`<navPoint id="n2" playOrder="2"><navLabel><text>Second</text></navLabel><content src="ch2.xhtml"/></navPoint>` +
			`<navPoint id="n1" playOrder="1"><navLabel><text>First</text></navLabel><content src="ch1.xhtml#top"/>` +
			`<navPoint id="n1a" playOrder="3"><navLabel><text>Nested</text></navLabel><content src="ch1.xhtml#s1"/></navPoint></navPoint>`).
		build(t)

	doc := runStage(t, s, f)
	if len(doc.Toc) != 2 {
		t.Fatalf("toc roots = %d, want 2", len(doc.Toc))
	}
	if doc.Toc[0].Title != "First" || doc.Toc[1].Title != "Second" {
		t.Fatalf("toc order = %q, %q", doc.Toc[0].Title, doc.Toc[1].Title)
	}
	if doc.Toc[0].Href != "ch1.xhtml" {
		t.Errorf("fragment not stripped: %q", doc.Toc[0].Href)
	}
	if len(doc.Toc[0].Children) != 1 || doc.Toc[0].Children[0].Level != 2 {
		t.Errorf("nested toc = %+v", doc.Toc[0].Children)
	}
}

func TestProcess_NoNCX(t *testing.T) {
	// WHAT: A book without an NCX parses fine with an empty TOC.
	s, _ := newTestStage(t)
	f := newEpubBuilder().addChapter("c1", "ch1.xhtml", "<p>a</p>").build(t)
	doc := runStage(t, s, f)
	if doc.Toc != nil {
		t.Errorf("toc = %+v, want nil", doc.Toc)
	}
}

func TestProcess_CoverFromManifest(t *testing.T) {
	// WHAT: A manifest item with the cover-image property is surfaced
	// as an asset.
	s, _ := newTestStage(t)
	b := newEpubBuilder().addChapter("c1", "ch1.xhtml", "<p>a</p>")
	b.items["cov"] = opfItem{ID: "cov", Href: "img/cover.jpg", MediaType: "image/jpeg", Properties: "cover-image"}
	b.addRaw("OEBPS/img/cover.jpg", "\xff\xd8\xff")
	f := b.build(t)

	doc := runStage(t, s, f)
	if len(doc.Assets) != 1 || doc.Assets[0].Name != "cover.jpg" || doc.Assets[0].MediaType != "image/jpeg" {
		t.Fatalf("assets = %+v", doc.Assets)
	}
}

func TestProcess_CoverFallbackPath(t *testing.T) {
	// WHAT: With no manifest cover, the conventional path probe finds it.
	s, _ := newTestStage(t)
	f := newEpubBuilder().
		addChapter("c1", "ch1.xhtml", "<p>a</p>").
		addRaw("OEBPS/cover.jpg", "\xff\xd8\xff").
		build(t)
	doc := runStage(t, s, f)
	if len(doc.Assets) != 1 || doc.Assets[0].Name != "cover.jpg" {
		t.Fatalf("assets = %+v", doc.Assets)
	}
}

func TestProcess_TitleFallsBackToFilename(t *testing.T) {
	// WHAT: Missing dc:title falls back to the file stem.
	s, _ := newTestStage(t)
	b := newEpubBuilder().addChapter("c1", "ch1.xhtml", "<p>a</p>")
	b.meta = "<dc:creator>Ada</dc:creator>"
	f := b.build(t)
	f.Name = "war-and-peace.epub"

	doc := runStage(t, s, f)
	if doc.Metadata.Title != "war-and-peace" {
		t.Errorf("title = %q", doc.Metadata.Title)
	}
}

func TestProcess_NotAZip(t *testing.T) {
	// WHAT: Garbage bytes report a container error, not a panic.
	s, _ := newTestStage(t)
	doc := &parser.Document{File: &parser.File{Name: "x.epub", Data: []byte("not a zip at all")}}
	opts := parser.DefaultOptions()
	err := s.Process(context.Background(), doc, &opts)
	var ce *parser.ContainerError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContainerError", err)
	}
	if ce.Format != parser.FormatEPUB {
		t.Errorf("format = %v", ce.Format)
	}
}

func TestProcess_MissingContainerXML(t *testing.T) {
	// WHAT: A zip without META-INF/container.xml is rejected with the
	// offending entry named.
	s, _ := newTestStage(t)
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("mimetype")
	fw.Write([]byte("application/epub+zip"))
	w.Close()
	doc := &parser.Document{File: &parser.File{Name: "x.epub", Data: buf.Bytes()}}
	opts := parser.DefaultOptions()
	err := s.Process(context.Background(), doc, &opts)
	var ce *parser.ContainerError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContainerError", err)
	}
	if !strings.Contains(ce.Entry, "container.xml") {
		t.Errorf("entry = %q", ce.Entry)
	}
}

func TestProcess_Cancelled(t *testing.T) {
	// WHAT: A cancelled context surfaces as the context error.
	s, _ := newTestStage(t)
	f := newEpubBuilder().addChapter("c1", "ch1.xhtml", "<p>a</p>").build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := &parser.Document{File: f}
	opts := parser.DefaultOptions()
	if err := s.Process(ctx, doc, &opts); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStage_Identity(t *testing.T) {
	s, _ := newTestStage(t)
	if s.Phase() != parser.PhaseExtraction {
		t.Errorf("phase = %v", s.Phase())
	}
	if !s.Supports(parser.FormatEPUB) || s.Supports(parser.FormatPDF) {
		t.Error("format support wrong")
	}
}
