package config

import (
	"fmt"
	"sync"
)

// ProviderConfig defines one LLM provider back-end: its endpoint, its
// credentials, and the default model for each role. Experiments may
// override the models but not the endpoint.
type ProviderConfig struct {
	// Name is the provider id referenced by experiments ("ollama",
	// "openai", "azure", ...).
	Name string

	// APIBase is the base URL of the provider's OpenAI-compatible
	// chat-completions endpoint.
	APIBase string

	// APIKey authenticates requests. Empty for local providers.
	APIKey string

	// Default models per role.
	ModelAttacker string
	ModelTarget   string
	ModelJudge    string
}

// Validate checks that the provider can actually be called.
func (p *ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: provider name is required", ErrProviderInvalid)
	}
	if p.APIBase == "" {
		return fmt.Errorf("%w: provider %s has no api_base", ErrProviderInvalid, p.Name)
	}
	return nil
}

// ProviderRegistry stores provider configurations with thread-safe access.
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	mu        sync.RWMutex
}

// NewProviderRegistry creates a registry over a copy of the map so later
// mutation of the caller's map cannot change routing.
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	copied := make(map[string]*ProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Has reports whether a provider exists in the registry.
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names returns all registered provider names.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered providers.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
