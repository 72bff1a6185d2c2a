// Package registry implements the Model Registry (spec §4.1): a read-mostly
// catalog of model specs keyed by "provider/model_id", with filter queries
// and a startup integrity check. Grounded on the teacher's
// registry/store/memory (goa.design/goa-ai) mutex-guarded map pattern,
// adapted from a toolset catalog to a model catalog.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	coreerr "github.com/arcanefly/workforce/core/errors"
)

// Capability is one of the model capabilities named in spec §3.
type Capability string

const (
	CapTextGeneration   Capability = "text-generation"
	CapFunctionCalling  Capability = "function-calling"
	CapStructuredOutput Capability = "structured-output"
	CapVision           Capability = "vision"
	CapReasoning        Capability = "reasoning"
	CapEmbeddings       Capability = "embeddings"
	CapLongContext      Capability = "long-context"
	CapStreaming        Capability = "streaming"
)

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a CapabilitySet from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains cap.
func (s CapabilitySet) Has(cap Capability) bool {
	_, ok := s[cap]
	return ok
}

// Superset reports whether s contains every capability in other.
func (s CapabilitySet) Superset(other CapabilitySet) bool {
	for c := range other {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Union returns a new set containing every capability from s and other.
func (s CapabilitySet) Union(other CapabilitySet) CapabilitySet {
	out := make(CapabilitySet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Spec is an immutable model spec (spec §3 "Model spec"). Identified by
// Provider+ModelID ("provider/model_id"). Capability set and cost are the
// contract for routing decisions: tests substitute a registry built from
// fixed Specs rather than mocking the registry's internals.
type Spec struct {
	Provider       string
	ModelID        string
	DisplayName    string
	Capabilities   CapabilitySet
	InputTokenMax  int
	OutputTokenMax int
	// InputCostPerM is USD per one million input tokens.
	InputCostPerM float64
	// OutputCostPerM is USD per one million output tokens.
	OutputCostPerM  float64
	ExpectedLatency int // milliseconds
	Quality         float64
	KnowledgeCutoff string
}

// Key returns the registry key "provider/model_id" for this spec.
func (s Spec) Key() string { return s.Provider + "/" + s.ModelID }

// EmbeddingsOnly reports whether this spec is flagged as an
// embeddings/TTS/STT/moderation-only model (spec §3 invariant: a model in
// the registry must satisfy capabilities ⊇ {text-generation} unless so
// flagged).
func (s Spec) EmbeddingsOnly() bool {
	return s.Capabilities.Has(CapEmbeddings) && !s.Capabilities.Has(CapTextGeneration)
}

// Registry is a read-mostly catalog of model specs. It is safe for
// concurrent reads after Init; writes are a release-gated operation (spec
// §3 "Ownership & lifecycle").
type Registry struct {
	mu     sync.RWMutex
	models map[string]Spec
}

// New constructs an empty Registry. Call Init to populate it and run the
// integrity check.
func New() *Registry {
	return &Registry{models: make(map[string]Spec)}
}

// Init populates the registry from specs and runs the integrity check
// against minRequired: a map of provider -> set of model ids that must be
// present. Missing entries abort start-up with an *errors.Error of kind
// Integrity, preventing an accidental silent downgrade.
func (r *Registry) Init(specs []Spec, minRequired map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	models := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if !s.EmbeddingsOnly() && !s.Capabilities.Has(CapTextGeneration) {
			return coreerr.New(coreerr.Integrity, "registry",
				fmt.Sprintf("model %s lacks text-generation and is not flagged embeddings/TTS/STT/moderation-only", s.Key()),
				false, nil)
		}
		models[s.Key()] = s
	}
	var missing []string
	for provider, ids := range minRequired {
		for _, id := range ids {
			key := provider + "/" + id
			if _, ok := models[key]; !ok {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return coreerr.New(coreerr.Integrity, "registry",
			fmt.Sprintf("missing required models: %s", strings.Join(missing, ", ")), false, nil)
	}
	r.models = models
	return nil
}

// Get returns the spec for "provider/model_id", or false if absent.
func (r *Registry) Get(key string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.models[key]
	return s, ok
}

// All returns every spec in the registry, sorted by key for deterministic
// iteration.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.models))
	for _, s := range r.models {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Filter narrows the catalog by provider, required capabilities, cost
// ceiling, and "reasoning"/"multimodal" marks. A zero-valued field is not
// applied as a constraint.
type Filter struct {
	Provider           string
	RequiredCaps       CapabilitySet
	MaxInputCostPerM   float64 // 0 = no ceiling
	RequireReasoning   bool
	RequireMultimodal  bool
}

// Query returns every spec matching f, sorted by key.
func (r *Registry) Query(ctx context.Context, f Filter) []Spec {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0)
	for _, s := range r.models {
		if f.Provider != "" && s.Provider != f.Provider {
			continue
		}
		if !s.Capabilities.Superset(f.RequiredCaps) {
			continue
		}
		if f.MaxInputCostPerM > 0 && s.InputCostPerM > f.MaxInputCostPerM {
			continue
		}
		if f.RequireReasoning && !s.Capabilities.Has(CapReasoning) {
			continue
		}
		if f.RequireMultimodal && !s.Capabilities.Has(CapVision) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
