package encoder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
)

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("connection refused")
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Model() string { return c.inner.Model() }

func testEncoder(emb Embedder) *Encoder {
	return New(emb, Config{Dim: 2048, Seed: 7, CacheTTL: time.Minute})
}

func profile(id, text string) core.ProfileData {
	return core.ProfileData{AgentID: id, Text: text, Version: 1}
}

func TestProjectIsDeterministic(t *testing.T) {
	p := profile("a1", "graphic designer, logo design, brand identity, illustration")

	v1, err := testEncoder(NewHashingEmbedder(256)).Project(context.Background(), p, "")
	require.NoError(t, err)
	v2, err := testEncoder(NewHashingEmbedder(256)).Project(context.Background(), p, "")
	require.NoError(t, err)

	assert.True(t, v1.Equal(v2), "separate encoders with the same seed must agree bit for bit")
	assert.Equal(t, 2048, v1.Dim())
}

func TestProjectPreservesLocality(t *testing.T) {
	enc := testEncoder(NewHashingEmbedder(256))
	ctx := context.Background()

	designer, err := enc.Project(ctx, profile("a", "logo design brand identity illustration vector art"), "")
	require.NoError(t, err)
	similar, err := enc.Project(ctx, profile("b", "logo design brand identity typography posters"), "")
	require.NoError(t, err)
	unrelated, err := enc.Project(ctx, profile("c", "kubernetes cluster operations postgres backups"), "")
	require.NoError(t, err)

	near, _ := core.Similarity(designer, similar)
	far, _ := core.Similarity(designer, unrelated)
	assert.Greater(t, near, far)
	assert.InDelta(t, 0.5, far, 0.1, "unrelated profiles sit near chance agreement")
}

func TestLensNarrowsProfile(t *testing.T) {
	p := core.ProfileData{
		AgentID: "a",
		Text:    "I translate legal contracts\nI also bake sourdough bread\nI review contracts for startups",
	}
	text := ComposeProfile(p, "contracts")
	assert.Contains(t, text, "translate legal contracts")
	assert.Contains(t, text, "review contracts")
	assert.NotContains(t, text, "sourdough")

	enc := testEncoder(NewHashingEmbedder(256))
	general, err := enc.Project(context.Background(), p, "")
	require.NoError(t, err)
	narrow, err := enc.Project(context.Background(), p, "contracts")
	require.NoError(t, err)
	assert.False(t, general.Equal(narrow))
}

func TestEmbeddingCacheAvoidsRepeatCalls(t *testing.T) {
	emb := &countingEmbedder{inner: NewHashingEmbedder(128)}
	enc := testEncoder(emb)
	p := profile("a", "event photography weddings portraits")

	_, err := enc.Project(context.Background(), p, "")
	require.NoError(t, err)
	_, err = enc.Project(context.Background(), p, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), emb.calls.Load())

	_, err = enc.Project(context.Background(), p, "weddings")
	require.NoError(t, err)
	assert.Equal(t, int64(2), emb.calls.Load())
}

func TestEmbedderFailureIsEncodingUnavailable(t *testing.T) {
	enc := testEncoder(&countingEmbedder{inner: NewHashingEmbedder(64), fail: true})
	_, err := enc.Project(context.Background(), profile("a", "anything useful"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEncodingUnavailable)
	assert.True(t, core.IsRetryable(err))
}

func TestEmptyProfileIsRejected(t *testing.T) {
	_, err := testEncoder(NewHashingEmbedder(64)).Project(context.Background(), core.ProfileData{AgentID: "x"}, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestTextWithoutTermsIsInvalidInput(t *testing.T) {
	enc := testEncoder(NewHashingEmbedder(64))
	_, err := enc.ProjectSignal(context.Background(), core.Signal{ID: "s", Payload: "?! -- a"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.NotErrorIs(t, err, core.ErrEncodingUnavailable)
	assert.False(t, core.IsRetryable(err))

	_, err = enc.ProjectSignal(context.Background(), core.Signal{ID: "s", Payload: "to be is to be"}, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = enc.Project(context.Background(), profile("a", "... !!"), "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.False(t, core.IsRetryable(err))
}

func TestSignalKeysIncludeScope(t *testing.T) {
	sig := core.Signal{ID: "s", Payload: "Need a logo for my bakery", Scope: []string{"Design"}}
	keys := SignalKeys(sig, "")
	assert.Contains(t, keys, "logo")
	assert.Contains(t, keys, "bakery")
	assert.Contains(t, keys, "design")
	assert.NotContains(t, keys, "for")
}
