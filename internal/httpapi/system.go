package httpapi

import (
	"net/http"
	"strconv"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": Version,
	})
}

// handleReady reports readiness: the server is ready once it can resolve a
// default provider.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.registry.Get("") == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "no provider configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleMetrics serves the Prometheus text exposition.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
}

// handleTrafficStats returns aggregate optimization statistics.
func (s *Server) handleTrafficStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analyzer.GetStats())
}

// handleTrafficRecent returns the newest request records. ?n= bounds the
// count; invalid values fall back to 20.
func (s *Server) handleTrafficRecent(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.analyzer.Recent(n),
	})
}

// handleTrafficReset discards the accumulated history.
func (s *Server) handleTrafficReset(w http.ResponseWriter, r *http.Request) {
	s.analyzer.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}
