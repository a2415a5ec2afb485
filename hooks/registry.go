// Package hooks is the per-shape customization table. Each sub-type may
// register a HookSet of optional functions; unknown sub-types resolve to an
// empty HookSet whose helpers fall back to default behavior.
package hooks

import (
	"sort"
	"sync"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

// HookSet bundles the optional functions for one shape. Nil fields mean
// "use the default".
type HookSet struct {
	// EnrichPrompt appends shape-specific instructions to the generation prompt.
	EnrichPrompt func(prompt string, st *core.PipelineState) string
	// PostProcess computes statistics from the verified rows into st.
	PostProcess func(rows []map[string]any, st *core.PipelineState)
	// BuildDataPoints turns rows into chart points.
	BuildDataPoints func(rows []map[string]any, m Mapping) []map[string]any
	// ResolveOutputKind picks the output representation, or "" for default.
	ResolveOutputKind func(subType string) string
}

// Enrich applies EnrichPrompt if present.
func (h HookSet) Enrich(prompt string, st *core.PipelineState) string {
	if h.EnrichPrompt == nil {
		return prompt
	}
	return h.EnrichPrompt(prompt, st)
}

// Post applies PostProcess if present and reports whether it ran.
func (h HookSet) Post(rows []map[string]any, st *core.PipelineState) bool {
	if h.PostProcess == nil {
		return false
	}
	h.PostProcess(rows, st)
	return true
}

// DataPoints applies BuildDataPoints if present, else the default builder.
func (h HookSet) DataPoints(rows []map[string]any, m Mapping) []map[string]any {
	if h.BuildDataPoints == nil {
		return BuildDataPoints(rows, m)
	}
	return h.BuildDataPoints(rows, m)
}

// OutputKind applies ResolveOutputKind if present.
func (h HookSet) OutputKind(subType string) string {
	if h.ResolveOutputKind == nil {
		return ""
	}
	return h.ResolveOutputKind(subType)
}

// Registry maps sub-type tags to hook sets.
type Registry struct {
	mu     sync.RWMutex
	sets   map[string]HookSet
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{sets: make(map[string]HookSet), logger: logger}
}

// Register stores hooks for tag, replacing any previous registration.
func (r *Registry) Register(tag string, hooks HookSet) {
	r.mu.Lock()
	r.sets[tag] = hooks
	r.mu.Unlock()
	r.logger.Debug("Registered pattern hooks", "sub_type", tag)
}

// Get returns the hooks for tag, or an empty HookSet.
func (r *Registry) Get(tag string) HookSet {
	if tag == "" {
		return HookSet{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[tag]
}

// Tags lists registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.sets))
	for t := range r.sets {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// NewDefaultRegistry returns a registry with the built-in shapes registered.
func NewDefaultRegistry(logger logging.Logger) *Registry {
	r := NewRegistry(logger)
	rel := RelationshipHooks(logger)
	r.Register("relacion", rel)
	r.Register("covariacion", rel)

	tmp := TemporalHooks()
	for _, tag := range []string{"tendencia_simple", "tendencia_comparada", "evolucion_composicion", "evolucion_concentracion"} {
		r.Register(tag, tmp)
	}
	return r
}
