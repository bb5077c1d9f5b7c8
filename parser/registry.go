package parser

import (
	"context"
	"sync"
)

// Stage is the contract every pipeline stage implements.
type Stage interface {
	// Phase places the stage in the fixed execution order.
	Phase() Phase
	// Supports reports whether the stage applies to a format. The
	// registry consults it in addition to the registration key.
	Supports(f Format) bool
	// Process augments the shared document. ctx carries the run's
	// cancellation; batch tasks inside a stage must observe it.
	Process(ctx context.Context, doc *Document, opts *Options) error
}

type stageKey struct {
	phase  Phase
	format Format
}

// Registry holds stages keyed by (phase, format). Keying on the
// composite lets the EPUB and PDF extraction stages coexist in the same
// phase; per detected format exactly one stage per phase is selected,
// preferring the exact format key over a FormatAny registration.
type Registry struct {
	mu     sync.RWMutex
	stages map[stageKey]Stage
}

// NewRegistry creates an empty Registry. It is safe for concurrent use.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[stageKey]Stage)}
}

// Add registers s under (s.Phase(), format), replacing any previous
// registration for that key. Use FormatAny for a stage that applies to
// every format.
func (r *Registry) Add(format Format, s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stageKey{phase: s.Phase(), format: format}] = s
}

// Remove drops the stage registered under (phase, format).
func (r *Registry) Remove(phase Phase, format Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stages, stageKey{phase: phase, format: format})
}

// Select resolves the stage list for a detected format: for each phase
// in fixed order, the exact (phase, format) registration wins, then a
// (phase, FormatAny) one; stages whose Supports rejects the format are
// skipped. FormatUnknown selects nothing.
func (r *Registry) Select(format Format) []Stage {
	if format == FormatUnknown {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Stage
	for _, phase := range phaseOrder {
		s, ok := r.stages[stageKey{phase: phase, format: format}]
		if !ok {
			s, ok = r.stages[stageKey{phase: phase, format: FormatAny}]
		}
		if !ok || !s.Supports(format) {
			continue
		}
		out = append(out, s)
	}
	return out
}
