package profile

import (
	"fmt"
	"strings"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Source types registered on the projector by the node.
const (
	SourceMemory   = "memory"
	SourceStore    = "store"
	SourceTemplate = "template"
	SourceChat     = "chat"
)

// Seed is the initial data an operator supplies when registering an agent.
// Which field is used depends on the agent's source type.
type Seed struct {
	Text     string         `json:"profile,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Persona  string         `json:"persona,omitempty"`
	Template *AgentTemplate `json:"template,omitempty"`
}

func (s Seed) empty() bool {
	return strings.TrimSpace(s.Text) == "" && s.Persona == "" && s.Template == nil
}

// Apply hands seed to src for agentID. An empty seed is a no-op: the agent's
// data is expected to exist in the source already.
func Apply(src core.ProfileDataSource, agentID string, seed Seed) error {
	if seed.empty() {
		return nil
	}
	data := core.ProfileData{AgentID: agentID, Text: strings.TrimSpace(seed.Text), Tags: seed.Tags, Version: 1}
	switch s := src.(type) {
	case *MemorySource:
		if data.Text == "" {
			return fmt.Errorf("%w: memory agent %s needs profile text", core.ErrInvalidAgent, agentID)
		}
		s.Put(data)
	case *StoreSource:
		if data.Text == "" {
			return fmt.Errorf("%w: store agent %s needs profile text", core.ErrInvalidAgent, agentID)
		}
		return s.Put(data)
	case *ChatSource:
		if strings.TrimSpace(seed.Persona) == "" {
			return fmt.Errorf("%w: chat agent %s needs a persona", core.ErrInvalidAgent, agentID)
		}
		s.AddPersona(agentID, seed.Persona)
	case *TemplateSource:
		if seed.Template == nil {
			return fmt.Errorf("%w: template agent %s needs a template", core.ErrInvalidAgent, agentID)
		}
		return s.SaveTemplate(agentID, seed.Template)
	default:
		return fmt.Errorf("%w: source %T does not accept seeds", core.ErrInvalidAgent, src)
	}
	return nil
}
