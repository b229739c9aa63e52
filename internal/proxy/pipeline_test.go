package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawgate/internal/breaker"
	"github.com/roelfdiedericks/clawgate/internal/memory"
	"github.com/roelfdiedericks/clawgate/internal/providers"
	"github.com/roelfdiedericks/clawgate/internal/traffic"
	"github.com/roelfdiedericks/clawgate/internal/types"
	"github.com/roelfdiedericks/clawgate/internal/upstream"
)

// testPipeline wires a pipeline against a stub upstream and returns the
// pipeline plus a pointer to the last body the upstream received.
func testPipeline(t *testing.T, retriever *memory.Retriever) (*Pipeline, *map[string]any, *breaker.Registry) {
	t.Helper()

	lastBody := &map[string]any{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		*lastBody = body
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	t.Cleanup(ts.Close)

	registry := providers.NewRegistry()
	registry.Add(&providers.LLMProvider{
		ID: "test", Name: "Test", BaseURL: ts.URL,
		Timeout: 5, MaxRetries: 1, Enabled: true,
	}, true)

	degradation := breaker.NewDegradation()
	degradation.Register("memory_retrieval", nil, "test memory")

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
	})

	p := NewPipeline(upstream.NewClient(registry), retriever, degradation, breakers,
		traffic.NewAnalyzer(), PipelineOptions{
			Assembly:            DefaultAssemblyConfig(),
			OptimizationEnabled: true,
		})
	return p, lastBody, breakers
}

func TestProcessToolUsePassthrough(t *testing.T) {
	p, lastBody, _ := testPipeline(t, nil)

	req := &types.ChatRequest{
		Model:    "gpt-4",
		Messages: conversation(12),
		Tools:    []json.RawMessage{json.RawMessage(`{"type":"function","function":{"name":"lookup"}}`)},
	}

	resp, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	messages, ok := (*lastBody)["messages"].([]any)
	if !ok {
		t.Fatal("upstream body missing messages")
	}
	if len(messages) != 12 {
		t.Errorf("tool-use request was compressed: %d messages forwarded", len(messages))
	}
	if _, ok := (*lastBody)["tools"]; !ok {
		t.Error("tools field dropped on forward")
	}
}

func TestProcessCompressesCasualHistory(t *testing.T) {
	p, lastBody, _ := testPipeline(t, nil)

	req := &types.ChatRequest{Model: "gpt-4", Messages: conversation(12)}
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("process: %v", err)
	}

	messages := (*lastBody)["messages"].([]any)
	if len(messages) >= 12 {
		t.Errorf("casual history should compress, forwarded %d messages", len(messages))
	}
	first := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Error("system message must survive compression")
	}
}

func TestProcessInjectsMemoryContext(t *testing.T) {
	retriever := memory.NewRetriever(memory.NewMemStore(), memory.NewHashEmbedder(0), 3, 0.5)
	query := "remember what did we decide about the deploy"
	if _, err := retriever.AddMemory(context.Background(), query, nil); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	p, lastBody, _ := testPipeline(t, retriever)

	req := &types.ChatRequest{
		Model:    "gpt-4",
		Messages: []types.Message{{Role: "user", Content: strPtr(query)}},
	}
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("process: %v", err)
	}

	messages := (*lastBody)["messages"].([]any)
	first := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatal("memory context should be injected as a system message")
	}
	content, _ := first["content"].(string)
	if !strings.Contains(content, "Relevant context from memory") {
		t.Errorf("system message missing memory context: %q", content)
	}
}

func TestProcessBreakerOpen(t *testing.T) {
	p, _, breakers := testPipeline(t, nil)

	cb := breakers.GetOrCreate(UpstreamBreakerName)
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != breaker.StateOpen {
		t.Fatalf("breaker should be open, got %s", cb.State())
	}

	req := &types.ChatRequest{Model: "gpt-4", Messages: conversation(4)}
	_, err := p.Process(context.Background(), req)

	var openErr *BreakerOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected BreakerOpenError, got %v", err)
	}
	if openErr.RetryAfter != time.Minute {
		t.Errorf("retry-after should match recovery timeout, got %v", openErr.RetryAfter)
	}
}

func TestMemoryFailureDoesNotFailRequest(t *testing.T) {
	// A retriever over a closed sqlite store fails every query; the request
	// must still succeed without context.
	store, err := memory.NewStore("sqlite", filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
	retriever := memory.NewRetriever(store, memory.NewHashEmbedder(0), 3, 0.5)

	p, _, _ := testPipeline(t, retriever)
	req := &types.ChatRequest{
		Model:    "gpt-4",
		Messages: []types.Message{{Role: "user", Content: strPtr("remember the plan")}},
	}
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("memory failure must be swallowed, got %v", err)
	}
}
