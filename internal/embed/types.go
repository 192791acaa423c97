// Package embed implements the embedding worker pool: a fixed set of
// workers that turn chunk text into fixed-dimension, unit-norm vectors.
package embed

import (
	"context"
	"math"
)

// Batch and dimension defaults.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	// DefaultDimensions is the vector width produced by the default
	// (static, hash-based) embedding model.
	DefaultDimensions = 384
)

// Embedder generates vector embeddings for text. A single Embedder instance
// is shared by every worker in the pool; implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns D, the embedding dimension this model produces.
	Dimensions() int

	// ModelName identifies the model, e.g. for cache-key namespacing.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources held by the embedder.
	Close() error
}

// normalizeVector L2-normalizes v to unit length. A zero vector is
// returned unchanged (there is no direction to normalize to).
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
