package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Config holds the tunables of the encoder.
type Config struct {
	Dim      int           // hypervector width in bits
	Seed     int64         // hyperplane seed; changing it changes every vector
	CacheTTL time.Duration // embedding cache lifetime, 0 disables caching
}

// DefaultConfig returns standard encoder configuration.
func DefaultConfig() Config {
	return Config{
		Dim:      core.DefaultDimension,
		Seed:     1,
		CacheTTL: 30 * time.Minute,
	}
}

// Encoder projects profile and signal text into hypervectors. Project is a
// pure function of (profile, lens): the embedding cache only memoizes it.
type Encoder struct {
	embedder  Embedder
	projector *SignProjector
	cache     *cache.Cache
}

// New creates an encoder over the given embedding source.
func New(embedder Embedder, cfg Config) *Encoder {
	if cfg.Dim <= 0 {
		cfg.Dim = core.DefaultDimension
	}
	e := &Encoder{
		embedder:  embedder,
		projector: NewSignProjector(cfg.Dim, cfg.Seed),
	}
	if cfg.CacheTTL > 0 {
		e.cache = cache.New(cfg.CacheTTL, cfg.CacheTTL/2)
	}
	return e
}

// Dim returns the hypervector width.
func (e *Encoder) Dim() int { return e.projector.Dim() }

// Project encodes a profile under a lens. An empty lens is the general view;
// a non-empty lens keeps only the profile lines that mention one of its terms.
func (e *Encoder) Project(ctx context.Context, profile core.ProfileData, lens string) (core.Hypervector, error) {
	text := ComposeProfile(profile, lens)
	if text == "" {
		return core.Hypervector{}, fmt.Errorf("profile %s has no content to encode: %w", profile.AgentID, core.ErrInvalidInput)
	}
	return e.encode(ctx, text)
}

// ProjectSignal encodes a signal payload, optionally under the scene lens.
func (e *Encoder) ProjectSignal(ctx context.Context, sig core.Signal, lens string) (core.Hypervector, error) {
	text := ComposeSignal(sig, lens)
	if text == "" {
		return core.Hypervector{}, fmt.Errorf("signal %s has no content to encode: %w", sig.ID, core.ErrInvalidInput)
	}
	return e.encode(ctx, text)
}

func (e *Encoder) encode(ctx context.Context, text string) (core.Hypervector, error) {
	emb, err := e.embed(ctx, text)
	if err != nil {
		return core.Hypervector{}, err
	}
	return e.projector.Binarize(emb)
}

func (e *Encoder) embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(e.embedder.Model(), text)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v.([]float32), nil
		}
	}
	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, core.ErrEncodingUnavailable) || errors.Is(err, core.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrEncodingUnavailable, err)
	}
	if e.cache != nil {
		e.cache.Set(key, emb, cache.DefaultExpiration)
	}
	return emb, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// ComposeProfile renders the text the encoder embeds for a profile under lens.
func ComposeProfile(profile core.ProfileData, lens string) string {
	lines := profile.Lines()
	lensTerms := core.LensTerms(lens)
	if len(lensTerms) == 0 {
		return strings.Join(lines, "\n")
	}
	want := make(map[string]struct{}, len(lensTerms))
	for _, t := range lensTerms {
		want[t] = struct{}{}
	}
	kept := []string{"lens: " + strings.Join(lensTerms, " ")}
	for _, l := range lines {
		for _, t := range Terms(l) {
			if _, ok := want[t]; ok {
				kept = append(kept, l)
				break
			}
		}
	}
	return strings.Join(kept, "\n")
}

// ComposeSignal renders the text the encoder embeds for a signal.
func ComposeSignal(sig core.Signal, lens string) string {
	payload := strings.TrimSpace(sig.Payload)
	if payload == "" {
		return ""
	}
	parts := make([]string, 0, 3)
	if terms := core.LensTerms(lens); len(terms) > 0 {
		parts = append(parts, "lens: "+strings.Join(terms, " "))
	}
	parts = append(parts, payload)
	if len(sig.Scope) > 0 {
		parts = append(parts, "tags: "+strings.Join(sig.Scope, ", "))
	}
	return strings.Join(parts, "\n")
}

// ProfileKeys returns the coarse-gate membership keys of a profile under lens.
func ProfileKeys(profile core.ProfileData, lens string, scope []string) []string {
	keys := UniqueTerms(ComposeProfile(profile, lens))
	for _, s := range scope {
		keys = append(keys, strings.ToLower(s))
	}
	return keys
}

// SignalKeys returns the coarse-gate probe keys of a signal.
func SignalKeys(sig core.Signal, lens string) []string {
	keys := UniqueTerms(ComposeSignal(sig, lens))
	for _, s := range sig.Scope {
		keys = append(keys, strings.ToLower(s))
	}
	return keys
}
