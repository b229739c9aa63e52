package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/roelfdiedericks/clawgate/internal/providers"
)

// providerPayload is the request body for creating a provider. The API key
// is accepted on input but never echoed back.
type providerPayload struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	BaseURL      string            `json:"base_url"`
	APIKey       string            `json:"api_key"`
	DefaultModel string            `json:"default_model"`
	Models       []string          `json:"models"`
	Timeout      int               `json:"timeout"`
	MaxRetries   int               `json:"max_retries"`
	Enabled      *bool             `json:"enabled"`
	Headers      map[string]string `json:"headers"`
	ExtraBody    map[string]any    `json:"extra_body"`
	SetDefault   bool              `json:"set_default"`
}

// handleProviderList returns all providers without credentials.
func (s *Server) handleProviderList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.registry.List(),
	})
}

// handleProviderCreate registers a provider from an explicit definition.
func (s *Server) handleProviderCreate(w http.ResponseWriter, r *http.Request) {
	var payload providerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "client_validation")
		return
	}
	if payload.ID == "" || payload.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "id and base_url are required", "client_validation")
		return
	}

	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	timeout := payload.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	maxRetries := payload.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	p := &providers.LLMProvider{
		ID:           payload.ID,
		Name:         payload.Name,
		BaseURL:      payload.BaseURL,
		APIKey:       payload.APIKey,
		DefaultModel: payload.DefaultModel,
		Models:       payload.Models,
		Timeout:      timeout,
		MaxRetries:   maxRetries,
		Enabled:      enabled,
		Headers:      payload.Headers,
		ExtraBody:    payload.ExtraBody,
	}
	s.registry.Add(p, payload.SetDefault)
	writeJSON(w, http.StatusCreated, p.ToMap())
}

// handleProviderTemplates lists the built-in provider templates.
func (s *Server) handleProviderTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": providers.TemplateList(),
	})
}

// handleProviderFromTemplate instantiates a provider from a template.
func (s *Server) handleProviderFromTemplate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Template   string         `json:"template"`
		ID         string         `json:"id"`
		APIKey     string         `json:"api_key"`
		Overrides  map[string]any `json:"overrides"`
		SetDefault bool           `json:"set_default"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "client_validation")
		return
	}

	p, err := providers.CreateFromTemplate(payload.Template, payload.ID, payload.APIKey, payload.Overrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "client_validation")
		return
	}

	s.registry.Add(p, payload.SetDefault)
	writeJSON(w, http.StatusCreated, p.ToMap())
}

// handleProviderGetDefault returns the current default provider.
func (s *Server) handleProviderGetDefault(w http.ResponseWriter, r *http.Request) {
	p := s.registry.Get("")
	if p == nil {
		writeError(w, http.StatusNotFound, "no default provider configured", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, p.ToMap())
}

// handleProviderGet returns one provider by ID.
func (s *Server) handleProviderGet(w http.ResponseWriter, r *http.Request) {
	p := s.registry.Get(r.PathValue("id"))
	if p == nil {
		writeError(w, http.StatusNotFound, "provider not found", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, p.ToMap())
}

// handleProviderUpdate applies a partial update. An empty api_key in the
// patch leaves the stored key untouched.
func (s *Server) handleProviderUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "client_validation")
		return
	}

	p, err := s.registry.Update(r.PathValue("id"), patch)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found")
		return
	}
	writeJSON(w, http.StatusOK, p.ToMap())
}

// handleProviderDelete removes a provider.
func (s *Server) handleProviderDelete(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Remove(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "provider not found", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// handleProviderSetDefault marks a provider as the default.
func (s *Server) handleProviderSetDefault(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.SetDefault(id) {
		writeError(w, http.StatusNotFound, "provider not found", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "default": id})
}

// handleBreakerList returns stats for every breaker.
func (s *Server) handleBreakerList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"circuit_breakers": s.breakers.List(),
	})
}

// handleBreakerGet returns one breaker's stats.
func (s *Server) handleBreakerGet(w http.ResponseWriter, r *http.Request) {
	cb := s.breakers.Get(r.PathValue("name"))
	if cb == nil {
		writeError(w, http.StatusNotFound, "circuit breaker not found", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, cb.StatsMap())
}

// handleBreakerReset forces one breaker closed.
func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	cb := s.breakers.Get(r.PathValue("name"))
	if cb == nil {
		writeError(w, http.StatusNotFound, "circuit breaker not found", "not_found")
		return
	}
	cb.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "name": cb.Name()})
}

// handleBreakerResetAll forces every breaker closed.
func (s *Server) handleBreakerResetAll(w http.ResponseWriter, r *http.Request) {
	s.breakers.ResetAll()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}
