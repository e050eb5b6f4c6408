package embedding

import (
	"context"
	"fmt"
	"math"
	"testing"
)

// fakeProvider returns canned unit vectors keyed by text.
type fakeProvider struct {
	vectors map[string][]float32
	dim     int
}

func (p *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := p.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", ErrEmbedding, text)
	}
	return v, nil
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *fakeProvider) Dimension() int { return p.dim }

func TestCosineDistance(t *testing.T) {
	e1 := []float32{1, 0, 0}
	e2 := []float32{0, 1, 0}
	neg := []float32{-1, 0, 0}

	if d := CosineDistance(e1, e1); math.Abs(d) > 1e-9 {
		t.Errorf("Identical vectors: expected distance 0, got %f", d)
	}
	if d := CosineDistance(e1, e2); math.Abs(d-1) > 1e-9 {
		t.Errorf("Orthogonal vectors: expected distance 1, got %f", d)
	}
	if d := CosineDistance(e1, neg); math.Abs(d-2) > 1e-9 {
		t.Errorf("Opposite vectors: expected distance 2, got %f", d)
	}
	// Mismatched lengths compare as maximally distant rather than panicking.
	if d := CosineDistance(e1, []float32{1, 0}); d != 1.0 {
		t.Errorf("Mismatched vectors: expected distance 1, got %f", d)
	}
}

func TestCosineSimilarity(t *testing.T) {
	e1 := []float32{1, 0, 0}
	if s := CosineSimilarity(e1, e1); math.Abs(s-1) > 1e-9 {
		t.Errorf("Expected similarity 1, got %f", s)
	}
}

func TestMeanPool(t *testing.T) {
	mean := MeanPool([][]float32{{1, 0}, {0, 1}})
	if mean[0] != 0.5 || mean[1] != 0.5 {
		t.Errorf("Expected [0.5 0.5], got %v", mean)
	}
	if MeanPool(nil) != nil {
		t.Error("Expected nil for empty input")
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Expected [0.6 0.8], got %v", v)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Zero vector should stay zero, got %v", zero)
	}
}

// TestEmbedMany_Empty verifies the defined degenerate case: an empty input
// yields the zero vector of the provider's dimension, not an error.
func TestEmbedMany_Empty(t *testing.T) {
	p := &fakeProvider{dim: 4}
	v, err := EmbedMany(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(v) != 4 {
		t.Fatalf("Expected dimension 4, got %d", len(v))
	}
	for i, x := range v {
		if x != 0 {
			t.Errorf("Component %d: expected 0, got %f", i, x)
		}
	}
}

func TestEmbedMany_MeanPools(t *testing.T) {
	p := &fakeProvider{
		dim: 2,
		vectors: map[string][]float32{
			"a": {1, 0},
			"b": {0, 1},
		},
	}
	v, err := EmbedMany(context.Background(), p, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v[0] != 0.5 || v[1] != 0.5 {
		t.Errorf("Expected [0.5 0.5], got %v", v)
	}
}
