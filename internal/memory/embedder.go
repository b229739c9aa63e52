// Package memory implements the semantic memory subsystem: embedders, vector
// store backends, and the retriever that composes them.
package memory

import (
	"crypto/md5"
	"crypto/sha256"
	"math"
	"strings"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// DefaultDimensions is the embedding width used when no model dictates one.
const DefaultDimensions = 384

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(text string) []float32
	EmbedBatch(texts []string) [][]float32
	Dimensions() int
}

// HashEmbedder is the deterministic fallback embedder. It derives a unit
// vector from MD5||SHA-256 of the normalized text, so it only matches
// near-identical text, not semantics. It keeps the system self-contained
// when no embedding model is available.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. dims <= 0 selects the default.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector width.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed produces a deterministic L2-normalized vector for the text.
// Texts equal after lowercasing and trimming produce equal vectors.
func (e *HashEmbedder) Embed(text string) []float32 {
	normalized := strings.ToLower(strings.TrimSpace(text))
	data := []byte(normalized)

	md5Sum := md5.Sum(data)
	shaSum := sha256.Sum256(data)

	seed := make([]byte, 0, len(md5Sum)+len(shaSum))
	seed = append(seed, md5Sum[:]...)
	seed = append(seed, shaSum[:]...)

	vec := make([]float32, e.dims)
	var norm float64
	for i := 0; i < e.dims; i++ {
		b := seed[i%len(seed)]
		v := float64(b)/127.5 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		inv := 1.0 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.Embed(t)
	}
	return out
}

// NoopEmbedder returns zero vectors. Used in tests and when embeddings are
// disabled.
type NoopEmbedder struct {
	dims int
}

// NewNoopEmbedder creates a noop embedder.
func NewNoopEmbedder(dims int) *NoopEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &NoopEmbedder{dims: dims}
}

func (e *NoopEmbedder) Dimensions() int { return e.dims }

func (e *NoopEmbedder) Embed(text string) []float32 {
	return make([]float32, e.dims)
}

func (e *NoopEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out
}

// NewEmbedder selects an embedder by model name. Transformer models are
// served by an external process; when none is wired in, the hash embedder
// takes over so retrieval still works on near-duplicates.
func NewEmbedder(model string) Embedder {
	switch model {
	case "hash", "":
		return NewHashEmbedder(DefaultDimensions)
	case "noop":
		return NewNoopEmbedder(DefaultDimensions)
	default:
		L_warn("embedder: model unavailable, falling back to hash", "model", model)
		return NewHashEmbedder(DefaultDimensions)
	}
}
