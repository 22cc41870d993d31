package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// AgentTemplate is a static profile definition stored as JSON.
type AgentTemplate struct {
	Name        string            `json:"name"`
	Role        string            `json:"role"`
	Skills      []string          `json:"skills"`
	Traits      []string          `json:"traits,omitempty"`
	Style       string            `json:"style,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Description string            `json:"description"`
}

// Profile renders the template as profile data for agentID.
func (t *AgentTemplate) Profile(agentID string) core.ProfileData {
	attrs := map[string]string{}
	for k, v := range t.Attributes {
		attrs[k] = v
	}
	if t.Role != "" {
		attrs["role"] = t.Role
	}
	if t.Style != "" {
		attrs["style"] = t.Style
	}
	lines := []string{}
	if t.Name != "" {
		lines = append(lines, t.Name)
	}
	if t.Description != "" {
		lines = append(lines, t.Description)
	}
	if len(t.Skills) > 0 {
		lines = append(lines, "skills: "+strings.Join(t.Skills, ", "))
	}
	return core.ProfileData{
		AgentID:    agentID,
		Text:       strings.Join(lines, "\n"),
		Attributes: attrs,
		Tags:       append([]string(nil), t.Traits...),
	}
}

// TemplateSource serves profiles from a directory of JSON templates, one
// file per agent named <agent_id>.json. Template files are never rewritten;
// experiences are kept alongside them in memory.
type TemplateSource struct {
	dir  string
	exps *experienceLog
}

// NewTemplateSource opens dir, creating it if needed.
func NewTemplateSource(dir string) (*TemplateSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create template dir %s: %w", dir, err)
	}
	return &TemplateSource{dir: dir, exps: newExperienceLog()}, nil
}

// DefaultTemplateDir returns ~/.resonance/templates.
func DefaultTemplateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".resonance", "templates")
}

// SaveTemplate writes a template for agentID.
func (s *TemplateSource) SaveTemplate(agentID string, t *AgentTemplate) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, agentID+".json"), data, 0o644)
}

// GetTemplate loads the template of agentID.
func (s *TemplateSource) GetTemplate(agentID string) (*AgentTemplate, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, agentID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: template %s", core.ErrNotFound, agentID)
		}
		return nil, err
	}
	var t AgentTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", agentID, err)
	}
	return &t, nil
}

// ListTemplates returns every agent id with a template.
func (s *TemplateSource) ListTemplates() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateDefaultTemplates writes the built-in templates when the directory is empty.
func (s *TemplateSource) CreateDefaultTemplates() error {
	existing, err := s.ListTemplates()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for id, t := range DefaultTemplates() {
		if err := s.SaveTemplate(id, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *TemplateSource) GetProfile(_ context.Context, agentID string) (core.ProfileData, error) {
	t, err := s.GetTemplate(agentID)
	if err != nil {
		return core.ProfileData{}, err
	}
	p := t.Profile(agentID)
	s.exps.apply(&p)
	return p, nil
}

func (s *TemplateSource) UpdateProfile(_ context.Context, agentID string, exp core.Experience) error {
	if _, err := s.GetTemplate(agentID); err != nil {
		return err
	}
	s.exps.append(agentID, exp)
	return nil
}
