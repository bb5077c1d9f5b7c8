// Package parser implements a staged document parsing pipeline.
//
// An Engine detects the input format, selects the stages registered for
// that format, and runs them in fixed phase order over a shared Document,
// reporting weighted progress through callbacks and honouring cooperative
// cancellation at stage boundaries. Extraction stages for EPUB and PDF
// live in their own packages and are registered on a Registry at startup;
// the generic cleaning/normalization/rendering/indexing stages apply to
// every format.
package parser

import (
	"log/slog"
	"time"
)

// Format identifies a document type.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatEPUB     Format = "epub"
	FormatHTML     Format = "html"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatUnknown  Format = "unknown"

	// FormatAny registers a stage for every detected format.
	FormatAny Format = "*"
)

// Phase is a pipeline phase. Execution order is fixed by phaseOrder and
// independent of registration order.
type Phase string

const (
	PhaseExtraction    Phase = "extraction"
	PhaseCleaning      Phase = "cleaning"
	PhaseNormalization Phase = "normalization"
	PhaseRendering     Phase = "rendering"
	PhaseIndexing      Phase = "indexing"
)

// phaseOrder is the total execution order over phases.
var phaseOrder = []Phase{PhaseExtraction, PhaseCleaning, PhaseNormalization, PhaseRendering, PhaseIndexing}

// phaseWeights are the base progress shares per phase. For each run they
// are normalized over the active phase subset to sum to 99; the last
// percent is reserved for finalization.
var phaseWeights = map[Phase]int{
	PhaseExtraction:    40,
	PhaseCleaning:      20,
	PhaseNormalization: 20,
	PhaseRendering:     15,
	PhaseIndexing:      5,
}

// Heading is a heading occurrence inside one chunk.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ChunkMeta carries structural metadata for a chunk.
type ChunkMeta struct {
	Title    string    `json:"title,omitempty"`
	Headings []Heading `json:"headings,omitempty"`
	// Page is the 1-based page number for page-based formats, 0 otherwise.
	Page int `json:"page,omitempty"`
	// Words is filled by the indexing phase.
	Words int `json:"words,omitempty"`
}

// Chunk is one ordered unit of extracted content. After a stage
// completes, a document's chunks are sorted strictly by Index, which
// encodes structural position (spine slot, page number), never batch
// completion order.
type Chunk struct {
	ID      string    `json:"id"`
	Index   int       `json:"index"`
	Content string    `json:"content"`
	Meta    ChunkMeta `json:"meta"`

	// HTML is the chunk's source markup when the format has one. The
	// cleaning stage sanitizes it, the rendering stage converts it to
	// markdown. Empty for plain-text extractions.
	HTML string `json:"-"`

	// Markdown is filled by the rendering phase.
	Markdown string `json:"markdown,omitempty"`
}

// TocItem is a node of the navigation tree. Items form a forest
// mirroring the document's own navigation structure.
type TocItem struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Level    int        `json:"level"`
	Href     string     `json:"href,omitempty"`
	Page     int        `json:"page,omitempty"`
	Children []*TocItem `json:"children,omitempty"`
}

// Metadata holds best-effort document metadata; fields stay empty when
// the source lacks them.
type Metadata struct {
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	Publisher    string `json:"publisher,omitempty"`
	Language     string `json:"language,omitempty"`
	Identifier   string `json:"identifier,omitempty"`
	Description  string `json:"description,omitempty"`
	CreationDate string `json:"creation_date,omitempty"`
	ModDate      string `json:"mod_date,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
}

// Asset is a referenced binary resource (e.g. the cover image).
type Asset struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

// SkippedItem records one item-level failure that was absorbed during a
// stage instead of aborting it.
type SkippedItem struct {
	Phase Phase  `json:"phase"`
	Item  string `json:"item"`
	Err   string `json:"error"`
}

// Metrics describes one parse run.
type Metrics struct {
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at"`
	StageDurations map[Phase]time.Duration `json:"stage_durations"`
	BytesProcessed int64                   `json:"bytes_processed"`
	WordCount      int                     `json:"word_count"`
}

// Result is the terminal, immutable output of one parse.
type Result struct {
	Format   Format        `json:"format"`
	Metadata Metadata      `json:"metadata"`
	Chunks   []Chunk       `json:"chunks"`
	Text     string        `json:"text"`
	Markdown string        `json:"markdown,omitempty"`
	Toc      []*TocItem    `json:"toc,omitempty"`
	Assets   []Asset       `json:"assets,omitempty"`
	Skipped  []SkippedItem `json:"skipped,omitempty"`
	Metrics  Metrics       `json:"metrics"`
}

// Document is the mutable bag shared by the stages of one run. Each
// stage augments it; fields it does not own pass through untouched.
type Document struct {
	File     *File
	Format   Format
	Metadata Metadata
	Chunks   []Chunk
	Text     string
	Markdown string
	Toc      []*TocItem
	Assets   []Asset
	Skipped  []SkippedItem

	// WordCount is set by the indexing phase and copied into Metrics.
	WordCount int
}

// Skip records an absorbed item-level failure and logs it.
func (d *Document) Skip(logger *slog.Logger, phase Phase, item string, err error) {
	d.Skipped = append(d.Skipped, SkippedItem{Phase: phase, Item: item, Err: err.Error()})
	if logger != nil {
		logger.Warn("parser: item skipped", "phase", phase, "item", item, "error", err)
	}
}

// finalize snapshots the document into an immutable Result.
func (d *Document) finalize(m Metrics) *Result {
	m.WordCount = d.WordCount
	return &Result{
		Format:   d.Format,
		Metadata: d.Metadata,
		Chunks:   append([]Chunk(nil), d.Chunks...),
		Text:     d.Text,
		Markdown: d.Markdown,
		Toc:      d.Toc,
		Assets:   append([]Asset(nil), d.Assets...),
		Skipped:  append([]SkippedItem(nil), d.Skipped...),
		Metrics:  m,
	}
}
