// Package epub implements the EPUB extraction stage.
//
// An EPUB is a zip archive: META-INF/container.xml points at the OPF
// package document, which carries Dublin Core metadata, the manifest
// (id → href/media-type) and the spine (reading order). The legacy NCX
// document, when present, supplies the navigation tree. Spine content
// documents are XHTML and are chunked in bounded-concurrency batches on
// the shared worker pool.
package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/docparse/idgen"
	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/workpool"
)

// coverCandidates are conventional cover image paths probed when the
// manifest does not declare a cover. First hit wins; absence is fine.
var coverCandidates = []string{
	"cover.jpg", "cover.jpeg", "cover.png",
	"OEBPS/cover.jpg", "OEBPS/cover.jpeg", "OEBPS/cover.png",
	"OEBPS/images/cover.jpg", "OEBPS/images/cover.png",
	"OPS/cover.jpg", "images/cover.jpg",
}

// Stage extracts metadata, chunks, text, TOC and cover from EPUB files.
type Stage struct {
	pool   *workpool.Pool
	logger *slog.Logger
	newID  idgen.Generator
}

// New creates the stage. The pool is shared with the other stages.
func New(pool *workpool.Pool, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{pool: pool, logger: logger, newID: idgen.Prefixed("chunk_", idgen.NanoID(10))}
}

func (s *Stage) Phase() parser.Phase { return parser.PhaseExtraction }

func (s *Stage) Supports(f parser.Format) bool { return f == parser.FormatEPUB }

// Process runs the extraction algorithm over doc.File.
func (s *Stage) Process(ctx context.Context, doc *parser.Document, opts *parser.Options) error {
	f := doc.File
	zr, err := zip.NewReader(bytes.NewReader(f.Data), f.Size())
	if err != nil {
		return parser.BadContainer(parser.FormatEPUB, "", fmt.Errorf("open zip: %w", err))
	}
	entries := indexEntries(zr)

	opfPath, err := rootfilePath(entries)
	if err != nil {
		return parser.BadContainer(parser.FormatEPUB, "META-INF/container.xml", err)
	}
	pkg, err := readPackage(entries, opfPath)
	if err != nil {
		return parser.BadContainer(parser.FormatEPUB, opfPath, err)
	}
	opfDir := path.Dir(opfPath)

	manifest := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, it := range pkg.Manifest.Items {
		manifest[it.ID] = it
	}

	// Legacy TOC: absence is non-fatal.
	doc.Toc = s.readNCX(entries, pkg, manifest, opfDir)

	// Resolve the spine through the manifest; ids without a manifest
	// entry are dropped.
	type spineDoc struct {
		pos  int
		path string
	}
	var docs []spineDoc
	for i, ref := range pkg.Spine.Refs {
		it, ok := manifest[ref.IDRef]
		if !ok {
			continue
		}
		docs = append(docs, spineDoc{pos: i, path: resolveHref(opfDir, it.Href)})
	}

	chunks := make([]*parser.Chunk, len(docs))
	errs := workpool.ForEachBatch(ctx, s.pool, docs, opts.Parallelism, func(ctx context.Context, idx int, d spineDoc) error {
		data, err := readEntry(entries, d.path)
		if err != nil {
			return err
		}
		ch, err := s.chunkXHTML(data, d.pos)
		if err != nil {
			return err
		}
		chunks[idx] = ch
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, err := range errs {
		if err != nil {
			// One bad content document never aborts the stage.
			doc.Skip(s.logger, parser.PhaseExtraction, docs[i].path, err)
		}
	}

	// Batch completion order is arbitrary; spine position decides.
	for _, ch := range chunks {
		if ch != nil {
			doc.Chunks = append(doc.Chunks, *ch)
		}
	}
	sort.Slice(doc.Chunks, func(i, j int) bool { return doc.Chunks[i].Index < doc.Chunks[j].Index })

	var sb strings.Builder
	for i := range doc.Chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Chunks[i].Content)
	}
	doc.Text = sb.String()

	doc.Metadata = pkg.metadata()
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = f.Stem()
	}

	if cover := s.findCover(entries, manifest, opfDir); cover != nil {
		doc.Assets = append(doc.Assets, *cover)
	}
	return nil
}

// --- container.xml / OPF / NCX ---

type containerXML struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type packageDoc struct {
	Meta struct {
		Titles      []string `xml:"title"`
		Creators    []string `xml:"creator"`
		Language    string   `xml:"language"`
		Publisher   string   `xml:"publisher"`
		Identifier  string   `xml:"identifier"`
		Description string   `xml:"description"`
		Date        string   `xml:"date"`
		Subjects    []string `xml:"subject"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc  string `xml:"toc,attr"`
		Refs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func (p *packageDoc) metadata() parser.Metadata {
	md := parser.Metadata{
		Author:      strings.Join(p.Meta.Creators, ", "),
		Language:    p.Meta.Language,
		Publisher:   p.Meta.Publisher,
		Identifier:  p.Meta.Identifier,
		Description: p.Meta.Description,
		Keywords:    strings.Join(p.Meta.Subjects, ", "),
	}
	if len(p.Meta.Titles) > 0 {
		md.Title = strings.TrimSpace(p.Meta.Titles[0])
	}
	if p.Meta.Date != "" {
		md.CreationDate = p.Meta.Date
	}
	return md
}

func indexEntries(zr *zip.Reader) map[string]*zip.File {
	m := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		m[path.Clean(f.Name)] = f
	}
	return m
}

func readEntry(entries map[string]*zip.File, name string) ([]byte, error) {
	zf, ok := entries[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("entry %s not found in archive", name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func rootfilePath(entries map[string]*zip.File) (string, error) {
	data, err := readEntry(entries, "META-INF/container.xml")
	if err != nil {
		return "", err
	}
	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	for _, rf := range c.Rootfiles {
		if rf.FullPath != "" {
			return rf.FullPath, nil
		}
	}
	return "", fmt.Errorf("container.xml has no rootfile entry")
}

func readPackage(entries map[string]*zip.File, opfPath string) (*packageDoc, error) {
	data, err := readEntry(entries, opfPath)
	if err != nil {
		return nil, err
	}
	var pkg packageDoc
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}
	return &pkg, nil
}

type ncxDoc struct {
	NavPoints []navPoint `xml:"navMap>navPoint"`
}

type navPoint struct {
	ID        string `xml:"id,attr"`
	PlayOrder string `xml:"playOrder,attr"`
	Label     string `xml:"navLabel>text"`
	Content   struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []navPoint `xml:"navPoint"`
}

// readNCX locates the NCX by manifest media-type (falling back to the
// spine's toc idref) and parses its navigation points. Any failure
// yields an empty TOC.
func (s *Stage) readNCX(entries map[string]*zip.File, pkg *packageDoc, manifest map[string]opfItem, opfDir string) []*parser.TocItem {
	var ncxHref string
	for _, it := range pkg.Manifest.Items {
		if it.MediaType == "application/x-dtbncx+xml" {
			ncxHref = it.Href
			break
		}
	}
	if ncxHref == "" && pkg.Spine.Toc != "" {
		if it, ok := manifest[pkg.Spine.Toc]; ok {
			ncxHref = it.Href
		}
	}
	if ncxHref == "" {
		return nil
	}
	data, err := readEntry(entries, resolveHref(opfDir, ncxHref))
	if err != nil {
		s.logger.Warn("epub: ncx unreadable", "href", ncxHref, "error", err)
		return nil
	}
	var ncx ncxDoc
	if err := xml.Unmarshal(data, &ncx); err != nil {
		s.logger.Warn("epub: ncx unparsable", "href", ncxHref, "error", err)
		return nil
	}
	return s.toTocItems(ncx.NavPoints, 1)
}

func (s *Stage) toTocItems(points []navPoint, level int) []*parser.TocItem {
	if len(points) == 0 {
		return nil
	}
	sort.SliceStable(points, func(i, j int) bool {
		return playOrder(points[i]) < playOrder(points[j])
	})
	items := make([]*parser.TocItem, 0, len(points))
	for _, p := range points {
		id := p.ID
		if id == "" {
			id = s.newID()
		}
		items = append(items, &parser.TocItem{
			ID:       id,
			Title:    strings.TrimSpace(p.Label),
			Level:    level,
			Href:     stripFragment(p.Content.Src),
			Children: s.toTocItems(p.Children, level+1),
		})
	}
	return items
}

func playOrder(p navPoint) int {
	n, err := strconv.Atoi(p.PlayOrder)
	if err != nil {
		return 1 << 30
	}
	return n
}

func stripFragment(src string) string {
	if i := strings.IndexByte(src, '#'); i >= 0 {
		return src[:i]
	}
	return src
}

func resolveHref(dir, href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	href = stripFragment(href)
	if dir == "." || dir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(dir, href))
}

// findCover probes the manifest (EPUB 3 cover-image property, then the
// conventional "cover" id) and finally the fixed path list.
func (s *Stage) findCover(entries map[string]*zip.File, manifest map[string]opfItem, opfDir string) *parser.Asset {
	for _, it := range manifest {
		if strings.Contains(it.Properties, "cover-image") {
			if a := loadAsset(entries, resolveHref(opfDir, it.Href), it.MediaType); a != nil {
				return a
			}
		}
	}
	for _, id := range []string{"cover", "cover-image"} {
		if it, ok := manifest[id]; ok && strings.HasPrefix(it.MediaType, "image/") {
			if a := loadAsset(entries, resolveHref(opfDir, it.Href), it.MediaType); a != nil {
				return a
			}
		}
	}
	for _, p := range coverCandidates {
		if a := loadAsset(entries, p, mimeForExt(p)); a != nil {
			return a
		}
	}
	return nil
}

func loadAsset(entries map[string]*zip.File, name, mediaType string) *parser.Asset {
	data, err := readEntry(entries, name)
	if err != nil {
		return nil
	}
	return &parser.Asset{Name: path.Base(name), MediaType: mediaType, Data: data}
}

func mimeForExt(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
