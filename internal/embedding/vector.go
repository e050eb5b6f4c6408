package embedding

import "math"

// CosineDistance returns 1 - dot(a, b). For unit-normalized vectors this is
// the cosine distance: 0 = identical, up to 2 = opposite. Mismatched or
// empty vectors compare as maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1.0 - dot
}

// CosineSimilarity returns dot(a, b), the similarity counterpart of
// CosineDistance for unit vectors.
func CosineSimilarity(a, b []float32) float64 {
	return 1.0 - CosineDistance(a, b)
}

// MeanPool averages a set of equal-length vectors element-wise.
// Returns nil for an empty input.
func MeanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range v {
			mean[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

// Normalize scales v to unit length in place and returns it. The zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
