package encoder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Embedder turns text into a real-valued embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding space; it is part of every cache key.
	Model() string
}

// HashingEmbedder is a deterministic local embedder using signed feature
// hashing over unigrams and bigrams. Texts sharing vocabulary land close
// together, which is all the binarizer needs to preserve locality.
type HashingEmbedder struct {
	Dim          int
	BigramWeight float32
}

// NewHashingEmbedder returns a hashing embedder of the given width.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{Dim: dim, BigramWeight: 0.5}
}

func (h *HashingEmbedder) Model() string {
	return fmt.Sprintf("hashing-%d", h.Dim)
}

func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	terms := Terms(text)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: no content terms to embed", core.ErrInvalidInput)
	}
	vec := make([]float32, h.Dim)
	for i, t := range terms {
		h.add(vec, t, 1)
		if i > 0 {
			h.add(vec, terms[i-1]+" "+t, h.BigramWeight)
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func (h *HashingEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.Dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
