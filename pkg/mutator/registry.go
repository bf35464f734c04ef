package mutator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/redloop-ai/redloop/pkg/llm"
)

// ErrStrategyUnknown is returned for strategy ids with no registered
// mutator.
var ErrStrategyUnknown = fmt.Errorf("unknown attack strategy")

// Registry maps strategy ids to mutators with thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	mutators map[string]Mutator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mutators: make(map[string]Mutator)}
}

// Register adds a mutator under its strategy id, replacing any previous
// registration.
func (r *Registry) Register(m Mutator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutators[m.Info().ID] = m
}

// Get returns the mutator for a strategy id.
func (r *Registry) Get(id string) (Mutator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mutators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyUnknown, id)
	}
	return m, nil
}

// Has reports whether a strategy id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mutators[id]
	return ok
}

// List returns the catalogue sorted by strategy id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.mutators))
	for _, m := range r.mutators {
		infos = append(infos, m.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// DefaultRegistry builds the full catalogue. LLM-assisted strategies call
// the attacker role through the gateway.
func DefaultRegistry(gateway llm.Completer) *Registry {
	r := NewRegistry()
	r.Register(&base64Mutator{})
	r.Register(&rot13Mutator{})
	r.Register(&homoglyphMutator{})
	r.Register(&payloadSplitMutator{})
	r.Register(&templateMutator{})
	r.Register(&leetspeakMutator{})
	r.Register(&rephraseMutator{gateway: gateway})
	r.Register(&roleplayMutator{gateway: gateway})
	r.Register(&crescendoMutator{gateway: gateway})
	return r
}
