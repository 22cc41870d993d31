package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHypervectorSimilarity(t *testing.T) {
	a, err := NewHypervector(128, []uint64{0xFFFF, 0})
	require.NoError(t, err)
	b, err := NewHypervector(128, []uint64{0x00FF, 0})
	require.NoError(t, err)

	d, err := Hamming(a, b)
	require.NoError(t, err)
	assert.Equal(t, 8, d)

	s, err := Similarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1-8.0/128.0, s, 1e-9)
	assert.InDelta(t, s, a.SimilarityTo(b), 1e-9)

	self, err := Similarity(a, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, self)
}

func TestHypervectorDimensionMismatch(t *testing.T) {
	a, _ := NewHypervector(64, []uint64{1})
	b, _ := NewHypervector(128, []uint64{1, 0})
	_, err := Hamming(a, b)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHypervectorIsImmutable(t *testing.T) {
	words := []uint64{0xF0, 0x0F}
	h, err := NewHypervector(100, words)
	require.NoError(t, err)

	words[0] = 0
	assert.True(t, h.Bit(4))

	out := h.Words()
	out[0] = 0
	assert.True(t, h.Bit(4))
}

func TestHypervectorClearsPaddingBits(t *testing.T) {
	h, err := NewHypervector(70, []uint64{0, ^uint64(0)})
	require.NoError(t, err)
	assert.Equal(t, 6, h.OnesCount())
}

func TestHypervectorJSON(t *testing.T) {
	h, err := NewHypervector(130, []uint64{0xDEADBEEF, 42, 3})
	require.NoError(t, err)

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var back Hypervector
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, h.Equal(back))
	assert.Equal(t, h.Fingerprint(), back.Fingerprint())
}
