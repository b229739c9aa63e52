// Package httpapi provides the HTTP surface: the OpenAI-compatible chat
// endpoint plus the management and observability API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/roelfdiedericks/clawgate/internal/breaker"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/memory"
	"github.com/roelfdiedericks/clawgate/internal/metrics"
	"github.com/roelfdiedericks/clawgate/internal/providers"
	"github.com/roelfdiedericks/clawgate/internal/proxy"
	"github.com/roelfdiedericks/clawgate/internal/traffic"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	pipeline *proxy.Pipeline
	registry *providers.Registry
	breakers *breaker.Registry

	retriever *memory.Retriever // nil when memory is disabled
	analyzer  *traffic.Analyzer
	metrics   *metrics.Manager

	wg sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen string // Address to listen on (e.g., ":8080", "127.0.0.1:8080")
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *ServerConfig, pipeline *proxy.Pipeline, registry *providers.Registry, breakers *breaker.Registry, retriever *memory.Retriever, analyzer *traffic.Analyzer) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = ":8080"
	}

	s := &Server{
		pipeline:  pipeline,
		registry:  registry,
		breakers:  breakers,
		retriever: retriever,
		analyzer:  analyzer,
		metrics:   metrics.GetInstance(),
	}

	s.server = &http.Server{
		Addr:        listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: completions and SSE streams can run long.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply middleware chain: logging -> strip headers
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(h))
	}

	// Proxy surface
	mux.HandleFunc("POST /v1/chat/completions", wrap(s.handleChatCompletions))

	// Health and observability
	mux.HandleFunc("GET /health", wrap(s.handleHealth))
	mux.HandleFunc("GET /ready", wrap(s.handleReady))
	mux.HandleFunc("GET /metrics", wrap(s.handleMetrics))
	mux.HandleFunc("GET /traffic/stats", wrap(s.handleTrafficStats))
	mux.HandleFunc("GET /traffic/recent", wrap(s.handleTrafficRecent))
	mux.HandleFunc("POST /traffic/reset", wrap(s.handleTrafficReset))

	// Provider management
	mux.HandleFunc("GET /config/providers", wrap(s.handleProviderList))
	mux.HandleFunc("POST /config/providers", wrap(s.handleProviderCreate))
	mux.HandleFunc("GET /config/providers/templates", wrap(s.handleProviderTemplates))
	mux.HandleFunc("POST /config/providers/from-template", wrap(s.handleProviderFromTemplate))
	mux.HandleFunc("GET /config/providers/default", wrap(s.handleProviderGetDefault))
	mux.HandleFunc("GET /config/providers/{id}", wrap(s.handleProviderGet))
	mux.HandleFunc("PATCH /config/providers/{id}", wrap(s.handleProviderUpdate))
	mux.HandleFunc("DELETE /config/providers/{id}", wrap(s.handleProviderDelete))
	mux.HandleFunc("POST /config/providers/{id}/default", wrap(s.handleProviderSetDefault))

	// Circuit breakers
	mux.HandleFunc("GET /config/circuit-breakers", wrap(s.handleBreakerList))
	mux.HandleFunc("POST /config/circuit-breakers/reset-all", wrap(s.handleBreakerResetAll))
	mux.HandleFunc("GET /config/circuit-breakers/{name}", wrap(s.handleBreakerGet))
	mux.HandleFunc("POST /config/circuit-breakers/{name}/reset", wrap(s.handleBreakerReset))

	// Memory
	mux.HandleFunc("POST /memory/add", wrap(s.handleMemoryAdd))
	mux.HandleFunc("POST /memory/search", wrap(s.handleMemorySearch))
	mux.HandleFunc("POST /memory/clear", wrap(s.handleMemoryClear))
	mux.HandleFunc("DELETE /memory/{id}", wrap(s.handleMemoryDelete))

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", s.server.Addr)

		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_debug("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_error("http: response encode failed", "error", err)
	}
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
		},
	})
}
