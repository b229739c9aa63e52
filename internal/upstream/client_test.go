package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawgate/internal/providers"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

func strPtr(s string) *string { return &s }

func singleProviderRegistry(id, baseURL string) *providers.Registry {
	r := providers.NewRegistry()
	r.Add(&providers.LLMProvider{
		ID: id, Name: id, BaseURL: baseURL, APIKey: "sk-test",
		Timeout: 5, MaxRetries: 2, Enabled: true,
	}, true)
	return r
}

func TestForwardBuildsProviderRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("kimi", ts.URL))
	req := &types.ChatRequest{
		Model:    "kimi:moonshot-v1-8k",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}

	resp, err := client.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("wrong path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("wrong auth header %q", gotAuth)
	}
	// The routing prefix is stripped before forwarding.
	if gotBody["model"] != "moonshot-v1-8k" {
		t.Errorf("model prefix not stripped: %v", gotBody["model"])
	}
}

func TestForwardKeepsForeignPrefix(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("default", ts.URL))
	req := &types.ChatRequest{
		// Prefix names no known provider; the default serves it and the
		// model string passes through untouched.
		Model:    "vendor:custom-model",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}
	if _, err := client.Forward(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if gotBody["model"] != "vendor:custom-model" {
		t.Errorf("foreign prefix should not be stripped: %v", gotBody["model"])
	}
}

func TestForwardMergesExtraBody(t *testing.T) {
	var gotBody map[string]any
	var gotHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Tenant")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	registry := providers.NewRegistry()
	registry.Add(&providers.LLMProvider{
		ID: "glm", BaseURL: ts.URL, Timeout: 5, MaxRetries: 1, Enabled: true,
		ExtraBody: map[string]any{"do_sample": true, "temperature": 0.1},
		Headers:   map[string]string{"X-Tenant": "acme"},
	}, true)

	temp := 0.9
	req := &types.ChatRequest{
		Model:       "glm-4-plus",
		Messages:    []types.Message{{Role: "user", Content: strPtr("hi")}},
		Temperature: &temp,
	}
	if _, err := NewClient(registry).Forward(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if gotBody["do_sample"] != true {
		t.Error("extra_body field missing")
	}
	// Provider extra_body wins over request fields on conflict.
	if gotBody["temperature"] != 0.1 {
		t.Errorf("extra_body should win conflicts, got %v", gotBody["temperature"])
	}
	if gotHeader != "acme" {
		t.Errorf("provider header not applied: %q", gotHeader)
	}
}

func TestForwardRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"recovered":true}`))
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("p", ts.URL))
	req := &types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}

	start := time.Now()
	resp, err := client.Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("forward should recover on retry: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	// Two backoffs: 1s then 2s.
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("backoff too short: %v", elapsed)
	}
}

func TestForwardNeverRetriesClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("p", ts.URL))
	req := &types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}

	_, err := client.Forward(context.Background(), req)
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d", upErr.StatusCode)
	}
	if upErr.Transient {
		t.Error("4xx must not be transient")
	}
	if len(upErr.Body) == 0 {
		t.Error("4xx body must be preserved for verbatim relay")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx must not retry, got %d attempts", got)
	}
}

func TestForwardExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("p", ts.URL))
	req := &types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}

	_, err := client.Forward(context.Background(), req)
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if !upErr.Transient {
		t.Error("exhausted 5xx should be transient")
	}
	// MaxRetries=2 means 3 attempts total.
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestForwardCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("p", ts.URL))
	req := &types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Forward(ctx, req)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	// Cancellation must abort the backoff sleep, not ride it out.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation did not interrupt retries: %v", elapsed)
	}
}

func TestStreamRelaysSSE(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"chunk\":1}\n\ndata: [DONE]\n\n"))
	}))
	defer ts.Close()

	client := NewClient(singleProviderRegistry("p", ts.URL))
	req := &types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
		Stream:   true,
	}

	resp, err := client.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "data: {\"chunk\":1}\n\ndata: [DONE]\n\n" {
		t.Errorf("stream body mismatch: %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}
}

func TestNoProviderForModel(t *testing.T) {
	client := NewClient(providers.NewRegistry())
	req := &types.ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: strPtr("hi")}},
	}
	if _, err := client.Forward(context.Background(), req); err == nil {
		t.Error("empty registry should fail resolution")
	}
}
