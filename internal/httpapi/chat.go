package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/proxy"
	"github.com/roelfdiedericks/clawgate/internal/types"
	"github.com/roelfdiedericks/clawgate/internal/upstream"
)

// maxRequestBody caps accepted request bodies at 10 MiB.
const maxRequestBody = 10 << 20

// handleChatCompletions is the OpenAI-compatible entry point. Streaming and
// buffered responses share the same pipeline; only the relay differs.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "client_validation")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "client_validation")
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, &req)
		return
	}

	resp, err := s.pipeline.Process(r.Context(), &req)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// streamCompletion relays an SSE stream, flushing per chunk. Once bytes have
// been sent there is no way to report an error status; interruptions simply
// end the stream.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req *types.ChatRequest) {
	resp, err := s.pipeline.Stream(r.Context(), req)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				L_debug("http: stream client disconnected", "error", writeErr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				L_warn("http: stream interrupted", "error", readErr)
			}
			return
		}
	}
}

// writeUpstreamError maps pipeline failures onto the client-facing contract:
// breaker denials become 503 with a Retry-After hint, upstream 4xx bodies are
// relayed verbatim, exhausted transient failures become 502 or 504, and
// anything else is a 500.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var openErr *proxy.BreakerOpenError
	if errors.As(err, &openErr) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(openErr.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable,
			"upstream temporarily unavailable", "breaker_open")
		return
	}

	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		switch {
		case upErr.StatusCode >= 400 && upErr.StatusCode < 500:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(upErr.StatusCode)
			w.Write(upErr.Body)
		case upErr.Timeout:
			writeError(w, http.StatusGatewayTimeout,
				"upstream timed out", "upstream_error")
		default:
			writeError(w, http.StatusBadGateway,
				"upstream request failed", "upstream_error")
		}
		return
	}

	L_error("http: internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error", "internal")
}
