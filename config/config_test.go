package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDER", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EmbedderHashing, c.Embedder)
	assert.Equal(t, 10000, c.HVDim)
	assert.Equal(t, 10, c.DefaultKStar)
	assert.Equal(t, 30*time.Second, c.CollectTimeout)
	assert.Equal(t, 3000, c.APIPort)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEFAULT_K_STAR=7\nHV_DIM=4096\nCOLLECT_TIMEOUT=5s\n"), 0o644))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDER", "")
	t.Cleanup(func() {
		os.Unsetenv("DEFAULT_K_STAR")
		os.Unsetenv("HV_DIM")
		os.Unsetenv("COLLECT_TIMEOUT")
	})

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, c.DefaultKStar)
	assert.Equal(t, 4096, c.HVDim)
	assert.Equal(t, 5*time.Second, c.CollectTimeout)
}

func TestOpenAIKeySelectsOpenAIEmbedder(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBEDDER", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EmbedderOpenAI, c.Embedder)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDER", "openai")
	t.Setenv("HV_DIM", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HV_DIM")
	assert.Contains(t, err.Error(), "requires OPENAI_API_KEY")
}

func TestScenesFallbackAndOverride(t *testing.T) {
	c := Config{DefaultKStar: 8, MinResponders: 2, CollectTimeout: time.Second}
	s := NewScenes(c.DefaultScene())

	sc := s.Scene("bakeries")
	assert.Equal(t, "bakeries", sc.ID)
	assert.Equal(t, 8, sc.KStar)
	assert.True(t, sc.Adaptive)

	require.NoError(t, s.Put(core.Scene{ID: "bakeries", KStar: 3, LensTemplate: "food {scope}"}))
	assert.Equal(t, 3, s.Scene("bakeries").KStar)
	assert.Equal(t, 8, s.BaseKStar("unknown"))
	assert.Len(t, s.List(), 1)

	assert.ErrorIs(t, s.Put(core.Scene{}), ErrInvalidScene)
	assert.ErrorIs(t, s.Put(core.Scene{ID: "x", KStar: -1}), ErrInvalidScene)
}

func TestScenesFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "scenes.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`scenes:
  - scene_id: design
    k_star: 5
    lens_template: "design {scope}"
    min_responders: 2
    collect_timeout: 45s
    adaptive: false
`), 0o644))

	s, err := LoadScenes(path, core.Scene{KStar: 10})
	require.NoError(t, err)
	sc := s.Scene("design")
	assert.Equal(t, 5, sc.KStar)
	assert.Equal(t, 45*time.Second, sc.CollectTimeout)
	assert.Equal(t, "design logo", sc.Lens([]string{"logo"}))

	require.NoError(t, s.Put(core.Scene{ID: "audio", KStar: 4, CollectTimeout: 10 * time.Second}))

	again, err := LoadScenes(path, core.Scene{KStar: 10})
	require.NoError(t, err)
	assert.Len(t, again.List(), 2)
	assert.Equal(t, 10*time.Second, again.Scene("audio").CollectTimeout)
}

func TestLoadScenesMissingFile(t *testing.T) {
	s, err := LoadScenes(filepath.Join(t.TempDir(), "none.yaml"), core.Scene{KStar: 4})
	require.NoError(t, err)
	assert.Empty(t, s.List())
	assert.Equal(t, DefaultSceneID, s.Scene("").ID)
}
