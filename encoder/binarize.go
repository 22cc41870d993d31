package encoder

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// SignProjector binarizes embeddings with sign random projection: bit i is
// set when the embedding lies on the positive side of hyperplane i. The
// probability two embeddings disagree on a bit is angle/pi, so Hamming
// similarity tracks cosine similarity.
//
// Hyperplanes are Gaussian rows drawn from a seeded source, generated once per
// embedding width and stored column-major so sparse embeddings touch only the
// columns they use.
type SignProjector struct {
	dim  int
	seed int64

	mu       sync.Mutex
	matrices map[int][]float32
}

// NewSignProjector creates a projector producing dim-bit hypervectors.
func NewSignProjector(dim int, seed int64) *SignProjector {
	return &SignProjector{dim: dim, seed: seed, matrices: make(map[int][]float32)}
}

// Dim returns the output width in bits.
func (p *SignProjector) Dim() int { return p.dim }

func (p *SignProjector) matrix(width int) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.matrices[width]; ok {
		return m
	}
	rng := rand.New(rand.NewSource(p.seed*31 + int64(width)))
	m := make([]float32, width*p.dim)
	for i := range m {
		m[i] = float32(rng.NormFloat64())
	}
	p.matrices[width] = m
	return m
}

// Binarize projects emb into a hypervector.
func (p *SignProjector) Binarize(emb []float32) (core.Hypervector, error) {
	if len(emb) == 0 {
		return core.Hypervector{}, fmt.Errorf("empty embedding")
	}
	m := p.matrix(len(emb))
	acc := make([]float32, p.dim)
	for j, v := range emb {
		if v == 0 {
			continue
		}
		col := m[j*p.dim : (j+1)*p.dim]
		for i, r := range col {
			acc[i] += r * v
		}
	}
	words := make([]uint64, core.WordsFor(p.dim))
	for i, a := range acc {
		if a > 0 {
			words[i/64] |= uint64(1) << uint(i%64)
		}
	}
	return core.NewHypervector(p.dim, words)
}
