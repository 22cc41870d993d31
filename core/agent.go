package core

import (
	"fmt"
	"strings"
)

// AgentType distinguishes general-purpose agents from specialized projections.
type AgentType string

const (
	AgentGeneral     AgentType = "general"
	AgentSpecialized AgentType = "specialized"
)

// AgentIdentity represents a participant known to the core. It carries no
// vector: the vector is always re-derived from the agent's data source.
type AgentIdentity struct {
	ID         string    `json:"id"`
	SourceType string    `json:"source_type"`
	Type       AgentType `json:"agent_type"`
	ParentID   string    `json:"parent_id,omitempty"`
	Lens       string    `json:"lens,omitempty"`
	Scope      []string  `json:"scope,omitempty"` // coarse-gate keys declared by the operator
}

// Validate checks the invariants that do not need the parent record.
func (a AgentIdentity) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: empty agent id", ErrInvalidAgent)
	}
	if a.SourceType == "" {
		return fmt.Errorf("%w: agent %s has no source type", ErrInvalidAgent, a.ID)
	}
	switch a.Type {
	case AgentGeneral:
		if a.ParentID != "" {
			return fmt.Errorf("%w: general agent %s cannot have a parent", ErrInvalidAgent, a.ID)
		}
	case AgentSpecialized:
		if a.ParentID == "" {
			return fmt.Errorf("%w: specialized agent %s requires a parent", ErrInvalidAgent, a.ID)
		}
		if a.ParentID == a.ID {
			return fmt.Errorf("%w: agent %s is its own parent", ErrInvalidAgent, a.ID)
		}
		if strings.TrimSpace(a.Lens) == "" {
			return fmt.Errorf("%w: specialized agent %s requires a lens", ErrInvalidAgent, a.ID)
		}
	default:
		return fmt.Errorf("%w: unknown agent type %q", ErrInvalidAgent, a.Type)
	}
	return nil
}

// NarrowerThan reports whether a's lens covers every term of the parent's lens
// and adds at least one more, i.e. a has a strictly narrower semantic scope.
func (a AgentIdentity) NarrowerThan(parent AgentIdentity) bool {
	child := LensTerms(a.Lens)
	if len(child) == 0 {
		return false
	}
	own := make(map[string]struct{}, len(child))
	for _, t := range child {
		own[t] = struct{}{}
	}
	parentTerms := LensTerms(parent.Lens)
	for _, t := range parentTerms {
		if _, ok := own[t]; !ok {
			return false
		}
	}
	return len(child) > len(parentTerms)
}

// LensTerms splits a lens string into its lower-cased, de-duplicated terms.
func LensTerms(lens string) []string {
	fields := strings.FieldsFunc(strings.ToLower(lens), func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
