package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// Result is a single search hit. Backends report closeness as either
// Similarity (higher is closer, in [0,1]) or Distance (lower is closer);
// consumers must handle both.
type Result struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  float64        `json:"timestamp"`
	Similarity *float64       `json:"similarity,omitempty"`
	Distance   *float64       `json:"distance,omitempty"`
}

// Store persists memory entries and searches them by vector similarity.
type Store interface {
	Add(ctx context.Context, text string, embedding []float32, metadata map[string]any) (string, error)
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Result, error)
	Delete(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context) error
	Close() error
}

// NewStore creates a store backend by name: "sqlite" (durable), "memory"
// (tests), or "noop".
func NewStore(backend, dbPath string) (Store, error) {
	switch backend {
	case "sqlite", "sqlite-vss", "":
		return NewSQLiteStore(dbPath)
	case "memory":
		return NewMemStore(), nil
	case "noop":
		return &NoopStore{}, nil
	}
	return nil, fmt.Errorf("unknown store backend: %s", backend)
}

// cosineSimilarity computes cosine similarity between two vectors, 0 when
// dimensions mismatch or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// memEntry is a stored row in the in-memory backend.
type memEntry struct {
	id        string
	text      string
	embedding []float32
	metadata  map[string]any
	timestamp float64
}

// MemStore keeps entries in process memory. Search semantics match the
// sqlite backend's cosine fallback so tests exercise identical ordering.
type MemStore struct {
	mu      sync.RWMutex
	entries []memEntry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Add(ctx context.Context, text string, embedding []float32, metadata map[string]any) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.entries = append(s.entries, memEntry{
		id:        id,
		text:      text,
		embedding: append([]float32(nil), embedding...),
		metadata:  metadata,
		timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
	s.mu.Unlock()
	return id, nil
}

func (s *MemStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		sim := cosineSimilarity(queryEmbedding, e.embedding)
		results = append(results, Result{
			ID:         e.id,
			Text:       e.text,
			Metadata:   e.metadata,
			Timestamp:  e.timestamp,
			Similarity: &sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Similarity > *results[j].Similarity
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Close() error { return nil }

// NoopStore discards everything. Used when memory is wired but disabled.
type NoopStore struct{}

func (s *NoopStore) Add(ctx context.Context, text string, embedding []float32, metadata map[string]any) (string, error) {
	L_debug("memory: noop add", "text_len", len(text))
	return "noop", nil
}

func (s *NoopStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Result, error) {
	return nil, nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) (bool, error) { return true, nil }
func (s *NoopStore) Clear(ctx context.Context) error                     { return nil }
func (s *NoopStore) Close() error                                        { return nil }
