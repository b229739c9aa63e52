// Package upstream forwards chat-completion payloads to provider endpoints
// with retries and per-attempt timeouts.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/providers"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 10 * time.Second
)

// Error carries the upstream outcome so the HTTP layer can map it to the
// right client-facing status. 4xx responses are relayed verbatim; transient
// failures (5xx, transport, timeout) surface after retries are exhausted.
type Error struct {
	StatusCode int
	Body       []byte
	Transient  bool
	Timeout    bool
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("upstream returned %d after %d attempt(s)", e.StatusCode, e.Attempts)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a completed non-streaming upstream exchange.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client forwards requests to whichever provider the registry resolves for
// the request's model.
type Client struct {
	registry *providers.Registry
	http     *http.Client
}

// NewClient creates a forwarding client over the provider registry.
func NewClient(registry *providers.Registry) *Client {
	return &Client{
		registry: registry,
		// Per-attempt deadlines come from the request context; the
		// transport-level timeout is a safety net only.
		http: &http.Client{Timeout: 0},
	}
}

// buildPayload produces the JSON body for the provider: the request with the
// routing prefix stripped from the model, plus the provider's extra_body
// fields (provider values win on conflict).
func buildPayload(req *types.ChatRequest, provider *providers.LLMProvider) ([]byte, error) {
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}

	if prefix, rest, ok := strings.Cut(req.Model, ":"); ok && prefix == provider.ID {
		payload["model"] = rest
	}

	for k, v := range provider.ExtraBody {
		payload[k] = v
	}
	return json.Marshal(payload)
}

// newRequest assembles the HTTP request for one attempt.
func (c *Client) newRequest(ctx context.Context, provider *providers.LLMProvider, body []byte) (*http.Request, error) {
	url := strings.TrimRight(provider.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
	for k, v := range provider.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// resolve picks the provider for the request's model.
func (c *Client) resolve(req *types.ChatRequest) (*providers.LLMProvider, error) {
	provider := c.registry.GetForModel(req.Model)
	if provider == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return provider, nil
}

// Forward sends a non-streaming request, retrying transient failures with
// exponential backoff. 4xx responses never retry. The caller's context
// cancels the whole exchange including backoff sleeps.
func (c *Client) Forward(ctx context.Context, req *types.ChatRequest) (*Response, error) {
	provider, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	body, err := buildPayload(req, provider)
	if err != nil {
		return nil, err
	}

	resp, upErr := c.send(ctx, provider, body)
	if upErr != nil {
		return nil, upErr
	}
	return resp, nil
}

// Stream sends a streaming request and hands back the live response for the
// caller to relay. Retries apply only before any response bytes arrive; once
// the stream opens, interruptions propagate to the client.
func (c *Client) Stream(ctx context.Context, req *types.ChatRequest) (*http.Response, error) {
	provider, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	body, err := buildPayload(req, provider)
	if err != nil {
		return nil, err
	}

	maxRetries := retriesFor(provider)

	var lastErr *Error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			L_debug("upstream: retrying stream", "provider", provider.ID, "attempt", attempt)
		}

		httpReq, err := c.newRequest(ctx, provider, body)
		if err != nil {
			return nil, err
		}

		// Streams carry no per-attempt deadline; the body can legitimately
		// outlive any fixed timeout.
		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = transportError(err, attempt+1)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastErr = &Error{StatusCode: resp.StatusCode, Body: b, Transient: true, Attempts: attempt + 1}
			continue
		}
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &Error{StatusCode: resp.StatusCode, Body: b, Attempts: attempt + 1}
		}

		return resp, nil
	}
	return nil, lastErr
}

// send runs the retry loop for a buffered exchange.
func (c *Client) send(ctx context.Context, provider *providers.LLMProvider, body []byte) (*Response, *Error) {
	maxRetries := retriesFor(provider)
	timeout := timeoutFor(provider)

	var lastErr *Error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, &Error{Err: err, Attempts: attempt}
			}
			L_debug("upstream: retrying", "provider", provider.ID, "attempt", attempt)
		}

		resp, upErr := c.attempt(ctx, provider, body, timeout, attempt+1)
		if upErr == nil {
			return resp, nil
		}
		if !upErr.Transient {
			return nil, upErr
		}
		lastErr = upErr
		if ctx.Err() != nil {
			return nil, lastErr
		}
		L_warn("upstream: transient failure",
			"provider", provider.ID,
			"attempt", attempt+1,
			"status", upErr.StatusCode,
			"error", upErr.Err)
	}
	return nil, lastErr
}

// attempt performs one bounded round trip.
func (c *Client) attempt(ctx context.Context, provider *providers.LLMProvider, body []byte, timeout time.Duration, attemptNum int) (*Response, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.newRequest(attemptCtx, provider, body)
	if err != nil {
		return nil, &Error{Err: err, Attempts: attemptNum}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(err, attemptNum)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err, attemptNum)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{StatusCode: resp.StatusCode, Body: respBody, Transient: true, Attempts: attemptNum}
	case resp.StatusCode >= 400:
		return nil, &Error{StatusCode: resp.StatusCode, Body: respBody, Attempts: attemptNum}
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody, Header: resp.Header}, nil
}

func transportError(err error, attemptNum int) *Error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &Error{Err: err, Transient: true, Timeout: timeout, Attempts: attemptNum}
}

// sleepBackoff waits min(10s, max(1s, 2^(attempt-1) seconds)), aborting on
// context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := baseBackoff << (attempt - 1)
	if delay < baseBackoff {
		delay = baseBackoff
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retriesFor(p *providers.LLMProvider) int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return defaultMaxRetries
}

func timeoutFor(p *providers.LLMProvider) time.Duration {
	if p.Timeout > 0 {
		return time.Duration(p.Timeout) * time.Second
	}
	return defaultTimeout
}
