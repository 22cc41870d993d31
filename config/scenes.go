package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/logging"
)

// DefaultSceneID is used for signals submitted without a scene.
const DefaultSceneID = "default"

var ErrInvalidScene = errors.New("invalid scene")

type scenesFile struct {
	Scenes []core.Scene `yaml:"scenes"`
}

// Scenes is the scene catalog, optionally backed by a YAML file.
type Scenes struct {
	mu       sync.RWMutex
	saveMu   sync.Mutex
	path     string
	fallback core.Scene
	scenes   map[string]core.Scene
}

// NewScenes returns an in-memory catalog whose unknown scenes resolve to fallback.
func NewScenes(fallback core.Scene) *Scenes {
	if fallback.ID == "" {
		fallback.ID = DefaultSceneID
	}
	return &Scenes{fallback: fallback, scenes: make(map[string]core.Scene)}
}

// LoadScenes reads path into a catalog. A missing file yields an empty
// catalog that Save will create.
func LoadScenes(path string, fallback core.Scene) (*Scenes, error) {
	s := NewScenes(fallback)
	s.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.For("config").WithField("path", path).Info("no scenes file, using defaults")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scenes %s: %w", path, err)
	}
	var f scenesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scenes %s: %w", path, err)
	}
	for _, sc := range f.Scenes {
		if err := s.put(sc); err != nil {
			return nil, fmt.Errorf("scenes %s: %w", path, err)
		}
	}
	return s, nil
}

// DefaultScene builds the fallback scene from the node configuration.
func (c Config) DefaultScene() core.Scene {
	return core.Scene{
		ID:             DefaultSceneID,
		KStar:          c.DefaultKStar,
		MinResponders:  c.MinResponders,
		CollectTimeout: c.CollectTimeout,
		Adaptive:       true,
	}
}

// Scene returns the scene registered under id, or the fallback renamed to id.
func (s *Scenes) Scene(id string) core.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sc, ok := s.scenes[id]; ok {
		return sc
	}
	sc := s.fallback
	if id != "" {
		sc.ID = id
	}
	return sc
}

// BaseKStar is the configured k* of a scene before adaptive tuning.
func (s *Scenes) BaseKStar(id string) int {
	k := s.Scene(id).KStar
	if k <= 0 {
		k = s.fallback.KStar
	}
	return k
}

func (s *Scenes) put(sc core.Scene) error {
	if sc.ID == "" {
		return fmt.Errorf("scene without scene_id: %w", ErrInvalidScene)
	}
	if sc.KStar < 0 || sc.MinResponders < 0 || sc.CollectTimeout < 0 {
		return fmt.Errorf("scene %s: negative parameter: %w", sc.ID, ErrInvalidScene)
	}
	s.mu.Lock()
	s.scenes[sc.ID] = sc
	s.mu.Unlock()
	return nil
}

// Put registers or replaces a scene and persists the catalog when file-backed.
func (s *Scenes) Put(sc core.Scene) error {
	if err := s.put(sc); err != nil {
		return err
	}
	if s.path == "" {
		return nil
	}
	return s.Save()
}

// List returns the registered scenes sorted by id.
func (s *Scenes) List() []core.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Scene, 0, len(s.scenes))
	for _, sc := range s.scenes {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes the catalog back to its file.
func (s *Scenes) Save() error {
	if s.path == "" {
		return errors.New("scenes catalog has no file")
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	data, err := yaml.Marshal(scenesFile{Scenes: s.List()})
	if err != nil {
		return fmt.Errorf("encode scenes: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write scenes: %w", err)
	}
	return os.Rename(tmp, s.path)
}
