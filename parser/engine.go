package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/docparse/cache"
)

// Config configures an Engine. Registry and Cache are shared objects:
// many engines can point at the same ones, which is how the ingest layer
// runs concurrent parses without sharing per-run state.
type Config struct {
	Detector *Detector
	Registry *Registry
	// Cache holds finished results keyed by content hash. Nil disables
	// caching regardless of Options.
	Cache  *cache.Cache[*Result]
	Logger *slog.Logger
}

// Engine orchestrates one parse at a time: detect, select stages, run
// them in phase order with weighted progress, finalize, cache.
type Engine struct {
	detector *Detector
	registry *Registry
	cache    *cache.Cache[*Result]
	logger   *slog.Logger

	cancelled atomic.Bool

	mu        sync.Mutex
	running   bool
	progress  int
	runCancel context.CancelFunc
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Detector == nil {
		cfg.Detector = NewDetector()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		detector: cfg.Detector,
		registry: cfg.Registry,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
	}
}

// AddStage registers s for format on the engine's registry.
func (e *Engine) AddStage(format Format, s Stage) { e.registry.Add(format, s) }

// RemoveStage drops the (phase, format) registration.
func (e *Engine) RemoveStage(phase Phase, format Format) { e.registry.Remove(phase, format) }

// GetProgress returns the last recorded percentage of the current or
// most recent run.
func (e *Engine) GetProgress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// CancelProcessing requests a cooperative abort. The engine observes the
// signal at the next stage boundary; the run's context is cancelled too,
// so in-flight batch tasks that check it stop early.
func (e *Engine) CancelProcessing() {
	e.cancelled.Store(true)
	e.mu.Lock()
	cancel := e.runCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ParseFile runs the pipeline over f. One call at a time per engine;
// a second concurrent call fails with ErrBusy.
func (e *Engine) ParseFile(ctx context.Context, f *File, opts Options) (*Result, error) {
	o := opts.merged()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.running = true
	e.progress = 0
	e.runCancel = cancel
	e.cancelled.Store(false)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.runCancel = nil
		e.mu.Unlock()
	}()

	caching := !o.DisableCaching && e.cache != nil
	if caching {
		if res, ok := e.cache.Get(f.Hash()); ok {
			e.logger.Debug("parser: cache hit", "file", f.Name)
			e.setProgress(100)
			o.progress(100)
			return res, nil
		}
	}

	format := e.detector.Detect(f)
	stages := e.registry.Select(format)
	e.logger.Debug("parser: run starting", "file", f.Name, "format", format, "stages", len(stages))

	metrics := Metrics{
		StartedAt:      time.Now(),
		StageDurations: make(map[Phase]time.Duration),
		BytesProcessed: f.Size(),
	}

	if len(stages) == 0 {
		// No stage claims the format: the pipeline is the identity
		// transform and the input comes back as a minimal result.
		metrics.FinishedAt = time.Now()
		e.setProgress(100)
		o.progress(100)
		return &Result{
			Format:   format,
			Metadata: Metadata{Title: f.Stem()},
			Text:     string(f.Data),
			Metrics:  metrics,
		}, nil
	}

	weights := stageWeights(stages)
	doc := &Document{File: f, Format: format}
	done := 0

	for i, st := range stages {
		if e.cancelled.Load() || runCtx.Err() != nil {
			e.logger.Info("parser: run cancelled", "file", f.Name, "phase", st.Phase())
			return nil, ErrCancelled
		}

		phase := st.Phase()
		stageStart := time.Now()
		if err := st.Process(runCtx, doc, &o); err != nil {
			// A stage interrupted mid-flight reports the run context's
			// error; fold that into the cancellation result.
			if errors.Is(err, context.Canceled) && (e.cancelled.Load() || runCtx.Err() != nil) {
				e.logger.Info("parser: run cancelled", "file", f.Name, "phase", phase)
				return nil, ErrCancelled
			}
			o.fail(err, phase)
			return nil, fmt.Errorf("stage %s: %w", phase, err)
		}
		metrics.StageDurations[phase] += time.Since(stageStart)

		// Callbacks get a snapshot; mutating it must not corrupt the run.
		snapshot := *doc
		o.stageComplete(phase, &snapshot)
		done += weights[i]
		e.setProgress(done)
		o.progress(done)
	}

	metrics.FinishedAt = time.Now()
	result := doc.finalize(metrics)

	if caching {
		if err := e.cache.SetTTL(f.Hash(), result, o.CacheTTL); err != nil {
			e.logger.Warn("parser: cache store failed", "error", err)
		}
	}

	e.setProgress(100)
	o.progress(100)
	return result, nil
}

func (e *Engine) setProgress(p int) {
	e.mu.Lock()
	e.progress = p
	e.mu.Unlock()
}

// stageWeights normalizes the base phase weights over the active stage
// subset so they sum to exactly 99 (largest-remainder rounding); the
// reserved last percent covers finalization.
func stageWeights(stages []Stage) []int {
	total := 0
	for _, s := range stages {
		total += phaseWeights[s.Phase()]
	}
	weights := make([]int, len(stages))
	if total == 0 {
		return weights
	}

	type slot struct{ idx, rem int }
	var slots []slot
	sum := 0
	for i, s := range stages {
		scaled := phaseWeights[s.Phase()] * 99
		weights[i] = scaled / total
		slots = append(slots, slot{idx: i, rem: scaled % total})
		sum += weights[i]
	}
	sort.SliceStable(slots, func(a, b int) bool { return slots[a].rem > slots[b].rem })
	for i := 0; sum < 99; i++ {
		weights[slots[i%len(slots)].idx]++
		sum++
	}
	return weights
}
