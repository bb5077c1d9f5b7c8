package parser

import (
	"log/slog"
	"time"
)

// Options configures one parse run. Supplied options are merged over the
// defaults; the zero value is usable.
type Options struct {
	// ChunkSize is the approximate byte budget per batch item group. It
	// drives the PDF pages-per-chunk derivation. Default: 1 MiB.
	ChunkSize int `yaml:"chunk_size"`
	// Parallelism is the batch width for stage-internal parallel work.
	// Default: 4.
	Parallelism int `yaml:"parallelism"`
	// DisableCaching turns off storing and serving finished results.
	// Caching is on by default whenever the engine owns a cache.
	DisableCaching bool `yaml:"disable_caching"`
	// UseStreaming is a capability hint; a no-op for in-memory inputs.
	UseStreaming bool `yaml:"use_streaming"`
	// CacheTTL bounds how long a cached result stays fresh. Default: 30m.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// HeadingScale is the PDF tuning knob: a text run whose font size
	// exceeds HeadingScale times the dominant body font classifies as a
	// heading. Default: 1.2.
	HeadingScale float64 `yaml:"heading_scale"`
	// LineGap is the PDF tuning knob: a vertical offset between
	// consecutive runs beyond this many text-space units breaks a
	// paragraph. Default: 14.
	LineGap float64 `yaml:"line_gap"`

	// OnProgress receives the cumulative percentage, a non-decreasing
	// sequence ending at exactly 100 on success.
	OnProgress func(percent int) `yaml:"-"`
	// OnStageComplete receives the phase and a snapshot view of the
	// shared document after each stage.
	OnStageComplete func(phase Phase, doc *Document) `yaml:"-"`
	// OnError is invoked once with the failing phase before the error
	// propagates to the caller.
	OnError func(err error, phase Phase) `yaml:"-"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    1 << 20,
		Parallelism:  4,
		CacheTTL:     30 * time.Minute,
		HeadingScale: 1.2,
		LineGap:      14,
	}
}

// merged returns o with every unset field replaced by its default.
func (o Options) merged() Options {
	def := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = def.Parallelism
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = def.CacheTTL
	}
	if o.HeadingScale <= 0 {
		o.HeadingScale = def.HeadingScale
	}
	if o.LineGap <= 0 {
		o.LineGap = def.LineGap
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o *Options) progress(p int) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o *Options) stageComplete(phase Phase, doc *Document) {
	if o.OnStageComplete != nil {
		o.OnStageComplete(phase, doc)
	}
}

func (o *Options) fail(err error, phase Phase) {
	if o.OnError != nil {
		o.OnError(err, phase)
	}
}
