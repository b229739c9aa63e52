package httpapi

import (
	"encoding/json"
	"net/http"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// memoryUnavailable guards the memory endpoints when the subsystem is off.
func (s *Server) memoryUnavailable(w http.ResponseWriter) bool {
	if s.retriever == nil {
		writeError(w, http.StatusServiceUnavailable, "memory subsystem disabled", "memory_disabled")
		return true
	}
	return false
}

// handleMemoryAdd stores a text with optional metadata.
func (s *Server) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	if s.memoryUnavailable(w) {
		return
	}

	var payload struct {
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "client_validation")
		return
	}
	if payload.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", "client_validation")
		return
	}

	id, err := s.retriever.AddMemory(r.Context(), payload.Text, payload.Metadata)
	if err != nil {
		L_error("http: memory add failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store memory", "internal")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// handleMemorySearch runs a similarity query.
func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if s.memoryUnavailable(w) {
		return
	}

	var payload struct {
		Query           string `json:"query"`
		TopK            int    `json:"top_k"`
		IncludeMetadata bool   `json:"include_metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "client_validation")
		return
	}
	if payload.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "client_validation")
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), payload.Query, payload.TopK, payload.IncludeMetadata)
	if err != nil {
		L_error("http: memory search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed", "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// handleMemoryClear wipes the store.
func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	if s.memoryUnavailable(w) {
		return
	}

	if err := s.retriever.Clear(r.Context()); err != nil {
		L_error("http: memory clear failed", "error", err)
		writeError(w, http.StatusInternalServerError, "clear failed", "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// handleMemoryDelete removes one entry by ID.
func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	if s.memoryUnavailable(w) {
		return
	}

	deleted, err := s.retriever.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		L_error("http: memory delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed", "internal")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "memory not found", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
