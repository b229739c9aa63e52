// Package providers manages upstream chat-completion provider configurations
// and resolves which provider serves a given model.
package providers

import (
	"fmt"
	"strings"
	"sync"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// LLMProvider is a named upstream endpoint plus credentials and model list.
type LLMProvider struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	BaseURL      string            `json:"base_url"`
	APIKey       string            `json:"-"`
	DefaultModel string            `json:"default_model"`
	Models       []string          `json:"models"`
	Timeout      int               `json:"timeout"` // seconds, per attempt
	MaxRetries   int               `json:"max_retries"`
	Enabled      bool              `json:"enabled"`
	Headers      map[string]string `json:"headers,omitempty"`
	ExtraBody    map[string]any    `json:"extra_body,omitempty"`
}

// ToMap projects the provider for API responses. The key itself is never
// exposed, only whether one is set.
func (p *LLMProvider) ToMap() map[string]any {
	models := p.Models
	if models == nil {
		models = []string{}
	}
	return map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"base_url":      p.BaseURL,
		"default_model": p.DefaultModel,
		"models":        models,
		"timeout":       p.Timeout,
		"max_retries":   p.MaxRetries,
		"enabled":       p.Enabled,
		"has_api_key":   p.APIKey != "",
	}
}

// clone returns a deep copy so readers never observe a torn provider.
func (p *LLMProvider) clone() *LLMProvider {
	out := *p
	out.Models = append([]string(nil), p.Models...)
	if p.Headers != nil {
		out.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	if p.ExtraBody != nil {
		out.ExtraBody = make(map[string]any, len(p.ExtraBody))
		for k, v := range p.ExtraBody {
			out.ExtraBody[k] = v
		}
	}
	return &out
}

// Registry stores providers and resolves model names to them. Reads are
// lock-shared; management writes take the exclusive lock.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*LLMProvider
	order     []string // insertion order for deterministic resolution
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*LLMProvider)}
}

// Add inserts or replaces a provider. The first provider added becomes the
// default; setDefault forces it.
func (r *Registry) Add(provider *LLMProvider, setDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[provider.ID]; !exists {
		r.order = append(r.order, provider.ID)
	}
	r.providers[provider.ID] = provider.clone()
	L_info("providers: added", "id", provider.ID, "name", provider.Name)

	if setDefault || r.defaultID == "" {
		r.defaultID = provider.ID
		L_info("providers: default set", "id", provider.ID)
	}
}

// Remove deletes a provider. If the default was removed, the oldest
// remaining provider becomes the default.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return false
	}
	delete(r.providers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	L_info("providers: removed", "id", id)

	if r.defaultID == id {
		r.defaultID = ""
		if len(r.order) > 0 {
			r.defaultID = r.order[0]
		}
	}
	return true
}

// Get returns a provider by ID, or the default when id is empty.
func (r *Registry) Get(id string) *LLMProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == "" {
		id = r.defaultID
	}
	if p, ok := r.providers[id]; ok {
		return p.clone()
	}
	return nil
}

// GetForModel resolves the provider for a model name. A "provider:model"
// prefix wins; otherwise the first enabled provider listing the model;
// otherwise the default.
func (r *Registry) GetForModel(model string) *LLMProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if prefix, _, ok := strings.Cut(model, ":"); ok {
		if p, exists := r.providers[prefix]; exists && p.Enabled {
			return p.clone()
		}
	}

	for _, id := range r.order {
		p := r.providers[id]
		if !p.Enabled {
			continue
		}
		for _, m := range p.Models {
			if m == model {
				return p.clone()
			}
		}
	}

	if p, ok := r.providers[r.defaultID]; ok && p.Enabled {
		return p.clone()
	}
	return nil
}

// List returns API projections of all providers in insertion order.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]any, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].ToMap())
	}
	return out
}

// SetDefault marks a provider as the fallback for unresolved models.
func (r *Registry) SetDefault(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return false
	}
	r.defaultID = id
	L_info("providers: default set", "id", id)
	return true
}

// Update applies partial field changes to a provider. An empty api_key in
// the patch never clears a stored key.
func (r *Registry) Update(id string, patch map[string]any) (*LLMProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", id)
	}

	applyOverrides(p, patch, false)
	L_info("providers: updated", "id", id)
	return p.clone(), nil
}

// applyOverrides copies recognized fields from a generic map onto the
// provider. allowEmptyKey controls whether an empty api_key clears the key.
func applyOverrides(p *LLMProvider, fields map[string]any, allowEmptyKey bool) {
	for key, value := range fields {
		switch key {
		case "name":
			if v, ok := value.(string); ok {
				p.Name = v
			}
		case "base_url":
			if v, ok := value.(string); ok {
				p.BaseURL = v
			}
		case "api_key":
			if v, ok := value.(string); ok && (v != "" || allowEmptyKey) {
				p.APIKey = v
			}
		case "default_model":
			if v, ok := value.(string); ok {
				p.DefaultModel = v
			}
		case "models":
			p.Models = toStringSlice(value)
		case "timeout":
			if v, ok := toInt(value); ok {
				p.Timeout = v
			}
		case "max_retries":
			if v, ok := toInt(value); ok {
				p.MaxRetries = v
			}
		case "enabled":
			if v, ok := value.(bool); ok {
				p.Enabled = v
			}
		case "headers":
			if v, ok := value.(map[string]any); ok {
				headers := make(map[string]string, len(v))
				for hk, hv := range v {
					if s, ok := hv.(string); ok {
						headers[hk] = s
					}
				}
				p.Headers = headers
			}
		case "extra_body":
			if v, ok := value.(map[string]any); ok {
				p.ExtraBody = v
			}
		}
	}
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
