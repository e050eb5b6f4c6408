package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// Model is the OpenAI model used for generating embeddings.
	Model = "text-embedding-3-small"

	// Dimension is the vector size for text-embedding-3-small.
	Dimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	// OpenAI supports up to 2048 texts per batch, but smaller batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// OpenAIProvider implements Provider using OpenAI's text-embedding-3-small
// model. It batches requests and retries with exponential backoff on rate
// limit errors. Returned vectors are unit-normalized.
type OpenAIProvider struct {
	client    *Client
	batchSize int
}

// NewOpenAIProvider creates a provider with the given client and optional
// batch size. If batchSize is 0, DefaultBatchSize (500) is used.
func NewOpenAIProvider(client *Client, batchSize int) *OpenAIProvider {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OpenAIProvider{
		client:    client,
		batchSize: batchSize,
	}
}

// Dimension reports the fixed vector size of the embedding model.
func (p *OpenAIProvider) Dimension() int {
	return Dimension
}

// Embed returns the unit vector for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one unit vector per input text, in order.
// Requests are batched and retried with exponential backoff on HTTP 429.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32

	for i := 0; i < len(texts); i += p.batchSize {
		end := min(i+p.batchSize, len(texts))
		batch := texts[i:end]

		vectors, err := p.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %v", ErrEmbedding, i, end, err)
		}
		all = append(all, vectors...)
	}

	return all, nil
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Rate limit errors (HTTP 429) retry with backoff; other errors are permanent.
func (p *OpenAIProvider) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		resp, err := p.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: Model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // Will retry with backoff
			}
			return backoff.Permanent(err) // Don't retry
		}

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			// Re-normalize after float32 truncation so downstream cosine
			// math can rely on unit length.
			vectors[i] = Normalize(toFloat32(data.Embedding))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return vectors, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// The OpenAI API returns float64, but vectors are held as float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
