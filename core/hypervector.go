package core

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
)

// DefaultDimension is the default hypervector width in bits.
const DefaultDimension = 10000

// ErrDimensionMismatch is returned when two hypervectors of different width are compared.
var ErrDimensionMismatch = errors.New("hypervector dimension mismatch")

// Hypervector is a fixed-width binary vector packed into 64-bit words.
// It is immutable: constructors copy their input and accessors return copies.
type Hypervector struct {
	dim   int
	words []uint64
}

// WordsFor returns the number of 64-bit words needed to hold dim bits.
func WordsFor(dim int) int {
	return (dim + 63) / 64
}

// NewHypervector builds a hypervector of the given width from packed words.
// Bits beyond dim in the last word are cleared.
func NewHypervector(dim int, words []uint64) (Hypervector, error) {
	if dim <= 0 {
		return Hypervector{}, fmt.Errorf("invalid hypervector dimension %d", dim)
	}
	if len(words) != WordsFor(dim) {
		return Hypervector{}, fmt.Errorf("expected %d words for %d bits, got %d", WordsFor(dim), dim, len(words))
	}
	cp := make([]uint64, len(words))
	copy(cp, words)
	if rem := dim % 64; rem != 0 {
		cp[len(cp)-1] &= (uint64(1) << uint(rem)) - 1
	}
	return Hypervector{dim: dim, words: cp}, nil
}

// Dim returns the width in bits.
func (h Hypervector) Dim() int { return h.dim }

// IsZero reports whether h was never initialised.
func (h Hypervector) IsZero() bool { return h.dim == 0 }

// Words returns a copy of the packed words.
func (h Hypervector) Words() []uint64 {
	cp := make([]uint64, len(h.words))
	copy(cp, h.words)
	return cp
}

// Bit reports the value of bit i.
func (h Hypervector) Bit(i int) bool {
	if i < 0 || i >= h.dim {
		return false
	}
	return h.words[i/64]&(uint64(1)<<uint(i%64)) != 0
}

// OnesCount returns the number of set bits.
func (h Hypervector) OnesCount() int {
	n := 0
	for _, w := range h.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Hamming returns the number of differing bits between a and b.
func Hamming(a, b Hypervector) (int, error) {
	if a.dim != b.dim {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, a.dim, b.dim)
	}
	return hammingWords(a.words, b.words), nil
}

func hammingWords(a, b []uint64) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// Similarity returns 1 - Hamming/Dim, in [0,1].
func Similarity(a, b Hypervector) (float64, error) {
	d, err := Hamming(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - float64(d)/float64(a.dim), nil
}

// SimilarityTo is the unchecked hot-path variant used by the cascade once
// widths have been validated for the whole batch.
func (h Hypervector) SimilarityTo(other Hypervector) float64 {
	return 1 - float64(hammingWords(h.words, other.words))/float64(h.dim)
}

// Equal reports bitwise equality. Matching never relies on it; it exists for
// determinism checks and cache validation.
func (h Hypervector) Equal(other Hypervector) bool {
	if h.dim != other.dim {
		return false
	}
	for i := range h.words {
		if h.words[i] != other.words[i] {
			return false
		}
	}
	return true
}

// Bytes returns the little-endian byte form of the packed words.
func (h Hypervector) Bytes() []byte {
	out := make([]byte, len(h.words)*8)
	for i, w := range h.words {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}

// Fingerprint is a short stable digest, handy for logs.
func (h Hypervector) Fingerprint() string {
	sum := sha256.Sum256(h.Bytes())
	return hex.EncodeToString(sum[:8])
}

type hypervectorJSON struct {
	Dim  int    `json:"dim"`
	Bits string `json:"bits"`
}

// MarshalJSON encodes the vector as its width plus base64 bits.
func (h Hypervector) MarshalJSON() ([]byte, error) {
	return json.Marshal(hypervectorJSON{Dim: h.dim, Bits: base64.StdEncoding.EncodeToString(h.Bytes())})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (h *Hypervector) UnmarshalJSON(data []byte) error {
	var raw hypervectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b, err := base64.StdEncoding.DecodeString(raw.Bits)
	if err != nil {
		return fmt.Errorf("decode hypervector bits: %w", err)
	}
	if len(b)%8 != 0 {
		return fmt.Errorf("hypervector bits not word aligned")
	}
	words := make([]uint64, len(b)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	v, err := NewHypervector(raw.Dim, words)
	if err != nil {
		return err
	}
	*h = v
	return nil
}
