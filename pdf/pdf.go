// Package pdf implements the PDF extraction stage on top of pdfcpu.
//
// A pdfcpu model.Context is not safe for concurrent use, so every
// access to the open document runs through a single actor. Page ranges
// are fanned out on the shared worker pool; each batch slot forwards
// its range to the actor and waits for the serialized answer, which
// keeps extraction cancellable without sharing the document handle.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/docparse/idgen"
	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/workpool"
)

// pageSizeEstimate is the assumed byte weight of one page when turning
// Options.ChunkSize into a pages-per-chunk count.
const pageSizeEstimate = 200 << 10

// Stage extracts metadata, outline and page text from PDF files.
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

func (s *Stage) Supports(f parser.Format) bool { return f == parser.FormatPDF }

type pageRange struct {
	from, to int // inclusive, 1-based
}

type pageSkip struct {
	page int
	err  error
}

type rangeResult struct {
	chunks []parser.Chunk
	skips  []pageSkip
}

// Process opens the document, reads metadata and outline, then
// extracts one chunk per page through the actor, batched by page range.
func (s *Stage) Process(ctx context.Context, doc *parser.Document, opts *parser.Options) error {
	f := doc.File
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(f.Data), conf)
	if err != nil {
		return parser.BadContainer(parser.FormatPDF, "", fmt.Errorf("pdfcpu read: %w", err))
	}

	doc.Metadata = readInfo(pdfCtx)
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = f.Stem()
	}
	doc.Metadata.PageCount = pdfCtx.PageCount

	if toc, err := readOutline(pdfCtx, s.newID); err != nil {
		doc.Skip(s.logger, parser.PhaseExtraction, "outline", err)
	} else {
		doc.Toc = toc
	}

	ranges := splitPages(pdfCtx.PageCount, opts.ChunkSize)
	if len(ranges) == 0 {
		return nil
	}

	actor := workpool.NewActor(func(_ context.Context, _ string, payload any) (any, error) {
		return s.extractRange(pdfCtx, payload.(pageRange), opts), nil
	}, workpool.ActorOptions{Logger: s.logger})
	defer actor.Terminate()

	results := make([]rangeResult, len(ranges))
	errs := workpool.ForEachBatch(ctx, s.pool, ranges, opts.Parallelism, func(ctx context.Context, idx int, rng pageRange) error {
		v, err := actor.Process(ctx, "extract", rng)
		if err != nil {
			return err
		}
		results[idx] = v.(rangeResult)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, err := range errs {
		if err != nil {
			doc.Skip(s.logger, parser.PhaseExtraction, fmt.Sprintf("pages %d-%d", ranges[i].from, ranges[i].to), err)
		}
	}

	for _, res := range results {
		for _, sk := range res.skips {
			doc.Skip(s.logger, parser.PhaseExtraction, fmt.Sprintf("page %d", sk.page), sk.err)
		}
		doc.Chunks = append(doc.Chunks, res.chunks...)
	}
	sort.Slice(doc.Chunks, func(i, j int) bool { return doc.Chunks[i].Index < doc.Chunks[j].Index })

	var parts []string
	for i := range doc.Chunks {
		if doc.Chunks[i].Content != "" {
			parts = append(parts, doc.Chunks[i].Content)
		}
	}
	doc.Text = strings.Join(parts, "\n\n")

	if detectImageStreams(pdfCtx) {
		doc.Skip(s.logger, parser.PhaseExtraction, "images", fmt.Errorf("image streams present, not extracted"))
	}
	return nil
}

// extractRange runs inside the actor: it is the only code that touches
// the open model.Context after setup. The range is a memory-bounding
// batch unit only; every page yields its own chunk.
func (s *Stage) extractRange(pdfCtx *model.Context, rng pageRange, opts *parser.Options) rangeResult {
	var res rangeResult
	for nr := rng.from; nr <= rng.to; nr++ {
		pc, err := extractPage(pdfCtx, nr, opts.LineGap)
		if err != nil {
			res.skips = append(res.skips, pageSkip{page: nr, err: err})
			continue
		}
		text, headings := assemblePage(pc, opts.HeadingScale)
		title := ""
		if len(headings) > 0 {
			title = headings[0].Text
		}
		res.chunks = append(res.chunks, parser.Chunk{
			ID:      s.newID(),
			Index:   nr - 1,
			Content: text,
			Meta: parser.ChunkMeta{
				Title:    title,
				Headings: headings,
				Page:     nr,
				Words:    len(strings.Fields(text)),
			},
		})
	}
	return res
}

// extractPage reads one page's content stream and tokenizes it.
func extractPage(pdfCtx *model.Context, pageNr int, lineGap float64) (pageContent, error) {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil {
		return pageContent{}, fmt.Errorf("page %d content: %w", pageNr, err)
	}
	if r == nil {
		return pageContent{page: pageNr}, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return pageContent{}, fmt.Errorf("page %d read: %w", pageNr, err)
	}
	pc := tokenizeContent(data, lineGap)
	pc.page = pageNr
	return pc, nil
}

// splitPages cuts 1..pageCount into ranges of pagesPerChunk derived
// from the requested chunk byte size.
func splitPages(pageCount, chunkSize int) []pageRange {
	if pageCount <= 0 {
		return nil
	}
	per := chunkSize / pageSizeEstimate
	if per < 1 {
		per = 1
	}
	var ranges []pageRange
	for from := 1; from <= pageCount; from += per {
		to := from + per - 1
		if to > pageCount {
			to = pageCount
		}
		ranges = append(ranges, pageRange{from: from, to: to})
	}
	return ranges
}
