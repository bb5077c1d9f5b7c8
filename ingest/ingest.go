// Package ingest ties the pipeline together: it accepts uploads or
// URLs, tracks per-submission progress, runs the parser in the
// background and persists outcomes to the article store.
//
// Registry, cache and worker pool are shared across submissions; each
// run gets its own engine so one upload's cancellation never touches
// another's.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docparse/cache"
	"github.com/hazyhaar/docparse/epub"
	"github.com/hazyhaar/docparse/fetch"
	"github.com/hazyhaar/docparse/idgen"
	"github.com/hazyhaar/docparse/parser"
	"github.com/hazyhaar/docparse/pdf"
	"github.com/hazyhaar/docparse/stages"
	"github.com/hazyhaar/docparse/store"
	"github.com/hazyhaar/docparse/workpool"
)

// Process tracks one submission through the pipeline.
type Process struct {
	ID         string    `json:"process_id"`
	ArticleID  string    `json:"article_id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"` // pending | ready | error
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	// FinishedAt is nil while the run is still in flight; omitempty
	// only omits nil, not a zero time.Time.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Config configures the ingester.
type Config struct {
	Store   *store.Store
	Fetcher *fetch.Fetcher
	Logger  *slog.Logger

	// Options is the base parser configuration applied to every run.
	Options parser.Options
	// CacheCapacity bounds the shared result cache. Default: 128.
	CacheCapacity int
}

// Ingester runs submissions through the parser pipeline.
type Ingester struct {
	store    *store.Store
	fetcher  *fetch.Fetcher
	logger   *slog.Logger
	registry *parser.Registry
	detector *parser.Detector
	cache    *cache.Cache[*parser.Result]
	pool     *workpool.Pool
	opts     parser.Options
	newID    idgen.Generator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	processes map[string]*Process
	engines   map[string]*parser.Engine
}

// New builds an Ingester with the default stage set registered: EPUB
// and PDF extraction plus the wildcard cleaning, normalization,
// rendering and indexing stages.
func New(cfg Config) *Ingester {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = fetch.New(fetch.Config{})
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 128
	}

	pool := workpool.NewPool(workpool.PoolOptions{Logger: cfg.Logger})
	reg := parser.NewRegistry()
	reg.Add(parser.FormatEPUB, epub.New(pool, cfg.Logger))
	reg.Add(parser.FormatPDF, pdf.New(pool, cfg.Logger))
	text := stages.NewText(cfg.Logger)
	for _, f := range []parser.Format{parser.FormatHTML, parser.FormatText, parser.FormatMarkdown, parser.FormatCSV, parser.FormatJSON} {
		reg.Add(f, text)
	}
	reg.Add(parser.FormatAny, stages.NewClean(pool, cfg.Logger))
	reg.Add(parser.FormatAny, stages.NewNormalize(cfg.Logger))
	reg.Add(parser.FormatAny, stages.NewRender(pool, cfg.Logger))
	reg.Add(parser.FormatAny, stages.NewIndex(cfg.Logger))

	ctx, cancel := context.WithCancel(context.Background())
	return &Ingester{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		logger:    cfg.Logger,
		registry:  reg,
		detector:  parser.NewDetector(),
		cache:     cache.New[*parser.Result](cache.Options{Capacity: cfg.CacheCapacity, TTL: cfg.Options.CacheTTL}),
		pool:      pool,
		opts:      cfg.Options,
		newID:     idgen.Prefixed("proc_", idgen.Default),
		ctx:       ctx,
		cancel:    cancel,
		processes: make(map[string]*Process),
		engines:   make(map[string]*parser.Engine),
	}
}

// Close stops background runs and releases the shared resources.
// In-flight runs observe the cancellation at their next stage boundary.
func (i *Ingester) Close() {
	i.cancel()
	i.wg.Wait()
	i.pool.Close()
	i.cache.Close()
}

// Submit registers the file and starts a background parse. When an
// identical document (by content hash) is already stored and ready,
// the returned process points at it and finishes immediately.
func (i *Ingester) Submit(ctx context.Context, f *parser.File) (*Process, error) {
	hash := f.Hash()
	if existing, err := i.store.GetByHash(ctx, hash); err != nil {
		return nil, fmt.Errorf("hash lookup: %w", err)
	} else if existing != nil && existing.Status == store.StatusReady {
		now := time.Now()
		proc := &Process{
			ID:         i.newID(),
			ArticleID:  existing.ID,
			Filename:   f.Name,
			Status:     store.StatusReady,
			Progress:   100,
			StartedAt:  now,
			FinishedAt: &now,
		}
		i.track(proc)
		i.logger.Info("ingest: duplicate content, reusing article",
			"process_id", proc.ID, "article_id", existing.ID)
		return proc, nil
	}

	articleID := idgen.Default()
	article := &store.Article{
		ID:          articleID,
		Title:       f.Stem(),
		Filename:    f.Name,
		Fingerprint: f.Fingerprint(),
		ContentHash: hash,
	}
	if err := i.store.Insert(ctx, article); err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}

	proc := &Process{
		ID:        i.newID(),
		ArticleID: articleID,
		Filename:  f.Name,
		Status:    store.StatusPending,
		StartedAt: time.Now(),
	}
	i.track(proc)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.run(proc, f)
	}()
	return proc, nil
}

// SubmitURL downloads the document, then submits it.
func (i *Ingester) SubmitURL(ctx context.Context, rawURL string) (*Process, error) {
	f, err := i.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return i.Submit(ctx, f)
}

// Status returns a snapshot of the process, false when unknown.
func (i *Ingester) Status(id string) (Process, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.processes[id]
	if !ok {
		return Process{}, false
	}
	return *p, true
}

// Cancel aborts a running process. Unknown or finished processes are
// a no-op.
func (i *Ingester) Cancel(id string) {
	i.mu.Lock()
	eng := i.engines[id]
	i.mu.Unlock()
	if eng != nil {
		eng.CancelProcessing()
	}
}

func (i *Ingester) track(p *Process) {
	i.mu.Lock()
	i.processes[p.ID] = p
	i.mu.Unlock()
}

func (i *Ingester) setProgress(p *Process, progress int) {
	i.mu.Lock()
	if progress > p.Progress {
		p.Progress = progress
	}
	i.mu.Unlock()
}

func (i *Ingester) finish(p *Process, status, errMsg string) {
	i.mu.Lock()
	p.Status = status
	p.Error = errMsg
	if status == store.StatusReady {
		p.Progress = 100
	}
	now := time.Now()
	p.FinishedAt = &now
	delete(i.engines, p.ID)
	i.mu.Unlock()
}

func (i *Ingester) run(proc *Process, f *parser.File) {
	log := i.logger.With("process_id", proc.ID, "article_id", proc.ArticleID, "file", f.Name)

	engine := parser.NewEngine(parser.Config{
		Detector: i.detector,
		Registry: i.registry,
		Cache:    i.cache,
		Logger:   i.logger,
	})
	i.mu.Lock()
	i.engines[proc.ID] = engine
	i.mu.Unlock()

	opts := i.opts
	opts.Logger = i.logger
	opts.OnProgress = func(percent int) {
		i.setProgress(proc, percent)
	}
	opts.OnStageComplete = func(phase parser.Phase, _ *parser.Document) {
		// Persist coarse progress so status survives a restart.
		if err := i.store.SetProgress(i.ctx, proc.ArticleID, store.StatusPending, engine.GetProgress(), ""); err != nil {
			log.Warn("ingest: progress update failed", "phase", phase, "error", err)
		}
	}

	result, err := engine.ParseFile(i.ctx, f, opts)
	if err != nil {
		log.Error("ingest: parse failed", "error", err)
		i.finish(proc, store.StatusError, err.Error())
		if serr := i.store.SetProgress(i.ctx, proc.ArticleID, store.StatusError, proc.Progress, err.Error()); serr != nil {
			log.Warn("ingest: error state not stored", "error", serr)
		}
		return
	}

	article, err := articleFromResult(proc.ArticleID, f, result)
	if err != nil {
		log.Error("ingest: result mapping failed", "error", err)
		i.finish(proc, store.StatusError, err.Error())
		return
	}
	if err := i.store.SetResult(i.ctx, article); err != nil {
		log.Error("ingest: result not stored", "error", err)
		i.finish(proc, store.StatusError, err.Error())
		return
	}
	i.finish(proc, store.StatusReady, "")
	log.Info("ingest: article ready",
		"format", result.Format, "chunks", len(result.Chunks), "words", result.Metrics.WordCount)
}

// articleFromResult maps a parse result onto its article row.
func articleFromResult(id string, f *parser.File, r *parser.Result) (*store.Article, error) {
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	toc := r.Toc
	if toc == nil {
		toc = []*parser.TocItem{}
	}
	tocJSON, err := json.Marshal(toc)
	if err != nil {
		return nil, fmt.Errorf("marshal toc: %w", err)
	}

	a := &store.Article{
		ID:           id,
		Title:        r.Metadata.Title,
		Author:       r.Metadata.Author,
		Filename:     f.Name,
		Format:       string(r.Format),
		WordCount:    r.Metrics.WordCount,
		PageCount:    r.Metadata.PageCount,
		Fingerprint:  f.Fingerprint(),
		ContentHash:  f.Hash(),
		MetadataJSON: string(metaJSON),
		TocJSON:      string(tocJSON),
		Markdown:     r.Markdown,
		PlainText:    r.Text,
	}
	if a.Title == "" {
		a.Title = f.Stem()
	}
	for _, asset := range r.Assets {
		if len(asset.Data) > 0 {
			a.Cover = asset.Data
			a.CoverType = asset.MediaType
			break
		}
	}
	return a, nil
}
