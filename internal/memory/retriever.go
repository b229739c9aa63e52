package memory

import (
	"context"
	"strings"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

const (
	// DefaultTopK is the result count used when the caller passes 0.
	DefaultTopK = 3
	// DefaultThreshold is the minimum similarity for a hit to count.
	DefaultThreshold = 0.5

	contextTemplate = "Relevant context from memory: {text}"
)

// Retriever composes an embedder and a store into the query surface the
// pipeline and the HTTP API use.
type Retriever struct {
	store     Store
	embedder  Embedder
	topK      int
	threshold float64
}

// NewRetriever wires a retriever over the given store and embedder.
// topK <= 0 and threshold <= 0 select the defaults.
func NewRetriever(store Store, embedder Embedder, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Retriever{
		store:     store,
		embedder:  embedder,
		topK:      topK,
		threshold: threshold,
	}
}

// AddMemory embeds and persists a text, returning the stored entry's ID.
func (r *Retriever) AddMemory(ctx context.Context, text string, metadata map[string]any) (string, error) {
	embedding := r.embedder.Embed(text)
	id, err := r.store.Add(ctx, text, embedding, metadata)
	if err != nil {
		return "", err
	}
	L_debug("retriever: memory added", "id", id)
	return id, nil
}

// Retrieve searches the store and keeps only hits that clear the threshold.
// A hit passes on similarity >= threshold, or on distance <= 1-threshold for
// backends that report distance instead.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, includeMetadata bool) ([]Result, error) {
	if topK <= 0 {
		topK = r.topK
	}

	queryEmbedding := r.embedder.Embed(query)
	results, err := r.store.Search(ctx, queryEmbedding, topK)
	if err != nil {
		return nil, err
	}

	filtered := make([]Result, 0, len(results))
	for _, res := range results {
		if !r.passesThreshold(res) {
			continue
		}
		if !includeMetadata {
			res.Metadata = nil
		}
		filtered = append(filtered, res)
	}

	L_debug("retriever: search complete",
		"query_len", len(query), "hits", len(filtered), "scanned", len(results))
	return filtered, nil
}

func (r *Retriever) passesThreshold(res Result) bool {
	if res.Similarity != nil {
		return *res.Similarity >= r.threshold
	}
	if res.Distance != nil {
		return *res.Distance <= 1.0-r.threshold
	}
	return false
}

// RetrieveForContext returns retrieved memories formatted for injection into
// a system prompt, one per line. Empty string when nothing clears the
// threshold.
func (r *Retriever) RetrieveForContext(ctx context.Context, query string, topK int) (string, error) {
	results, err := r.Retrieve(ctx, query, topK, false)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, strings.ReplaceAll(contextTemplate, "{text}", res.Text))
	}
	return strings.Join(lines, "\n"), nil
}

// Delete removes a memory by ID, reporting whether it existed.
func (r *Retriever) Delete(ctx context.Context, id string) (bool, error) {
	return r.store.Delete(ctx, id)
}

// Clear wipes the store.
func (r *Retriever) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}

// Close releases the underlying store.
func (r *Retriever) Close() error {
	return r.store.Close()
}
