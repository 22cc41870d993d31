package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProfileData is what a data source returns for an agent. Version increases
// every time the source appends an experience.
type ProfileData struct {
	AgentID     string            `json:"agent_id"`
	Text        string            `json:"text"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Experiences []Experience      `json:"experiences,omitempty"`
	Version     uint64            `json:"version"`
}

// Lines flattens the profile into the text lines the encoder works with:
// the base text, sorted attributes, tags and one line per experience.
func (p ProfileData) Lines() []string {
	var lines []string
	for _, l := range strings.Split(p.Text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, p.Attributes[k]))
	}
	if len(p.Tags) > 0 {
		lines = append(lines, "tags: "+strings.Join(p.Tags, ", "))
	}
	for _, e := range p.Experiences {
		if e.Weight <= 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.Kind, e.Summary))
	}
	return lines
}

// ProfileDataSource is the pluggable adapter owned by an integration. The core
// only reads profiles and appends experiences; it never rewrites fields.
type ProfileDataSource interface {
	GetProfile(ctx context.Context, agentID string) (ProfileData, error)
	UpdateProfile(ctx context.Context, agentID string, exp Experience) error
}

// ProfileVersioner is implemented by sources that can report the current
// data version of a profile without loading it. Projections of unchanged
// profiles are then served without touching the profile itself.
type ProfileVersioner interface {
	ProfileVersion(ctx context.Context, agentID string) (uint64, error)
}

// Scene holds caller-supplied parameters. Nothing in it is interpreted as code.
type Scene struct {
	ID             string        `json:"scene_id" yaml:"scene_id"`
	KStar          int           `json:"k_star" yaml:"k_star"`
	LensTemplate   string        `json:"lens_template,omitempty" yaml:"lens_template"`
	MinResponders  int           `json:"min_responders" yaml:"min_responders"`
	CollectTimeout time.Duration `json:"collect_timeout" yaml:"collect_timeout"`
	Adaptive       bool          `json:"adaptive" yaml:"adaptive"`
}

// Lens renders the scene's lens template against the signal scope.
func (s Scene) Lens(scope []string) string {
	if s.LensTemplate == "" {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(s.LensTemplate, "{scope}", strings.Join(scope, " ")))
}
