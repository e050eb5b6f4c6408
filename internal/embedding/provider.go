// Package embedding defines the embedding capability consumed by the drift
// analyzer and segmenter, an OpenAI-backed implementation, and the vector
// math shared across the engine.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbedding indicates the embedding provider was unreachable or rejected
// its input. Drift analysis is meaningless without embeddings, so this error
// propagates instead of being swallowed.
var ErrEmbedding = errors.New("embedding failed")

// Provider turns text into fixed-length unit vectors. Implementations must
// be safe for concurrent use; the segmenter calls them from multiple
// goroutines.
type Provider interface {
	// Embed returns the vector for a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the provider's fixed vector size.
	Dimension() int
}

// EmbedMany mean-pools a set of texts into a single vector. An empty input
// is a defined degenerate case and yields the zero vector of the provider's
// dimension (the "empty anchor"), not an error.
func EmbedMany(ctx context.Context, p Provider, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return make([]float32, p.Dimension()), nil
	}
	vectors, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return MeanPool(vectors), nil
}
