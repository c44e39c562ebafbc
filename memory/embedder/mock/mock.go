// Package mock provides a deterministic embedder for tests. It hashes
// each token into a fixed-size vector, so identical texts embed
// identically and texts sharing words land near each other, which is
// enough structure to exercise retrieval without a real model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder is a deterministic bag-of-words embedder.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the given vector size. Zero or
// negative sizes fall back to 384.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed maps each lowercase token to a pair of vector slots derived from
// its hash and returns the normalized sum.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		i := int(sum % uint64(e.dimensions))
		j := int((sum >> 32) % uint64(e.dimensions))
		vec[i] += 1
		if sum&1 == 0 {
			vec[j] += 1
		} else {
			vec[j] -= 1
		}
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
