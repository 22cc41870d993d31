package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Writer turns a short persona into a profile text, usually with a chat model.
type Writer interface {
	WriteProfile(ctx context.Context, agentID, persona string) (string, error)
}

// ChatSource backs agents described only by a persona. The profile text is
// generated once per agent and then reused, so projections stay stable.
type ChatSource struct {
	writer Writer

	mu       sync.Mutex
	personas map[string]string
	texts    map[string]string
	exps     *experienceLog
}

func NewChatSource(w Writer) *ChatSource {
	return &ChatSource{
		writer:   w,
		personas: make(map[string]string),
		texts:    make(map[string]string),
		exps:     newExperienceLog(),
	}
}

// AddPersona registers a persona for agentID.
func (s *ChatSource) AddPersona(agentID, persona string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[agentID] = persona
}

func (s *ChatSource) text(ctx context.Context, agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.texts[agentID]; ok {
		return t, nil
	}
	persona, ok := s.personas[agentID]
	if !ok {
		return "", fmt.Errorf("%w: persona %s", core.ErrNotFound, agentID)
	}
	t, err := s.writer.WriteProfile(ctx, agentID, persona)
	if err != nil {
		return "", fmt.Errorf("write profile for %s: %w", agentID, err)
	}
	s.texts[agentID] = t
	return t, nil
}

func (s *ChatSource) GetProfile(ctx context.Context, agentID string) (core.ProfileData, error) {
	t, err := s.text(ctx, agentID)
	if err != nil {
		return core.ProfileData{}, err
	}
	p := core.ProfileData{AgentID: agentID, Text: t}
	s.exps.apply(&p)
	return p, nil
}

func (s *ChatSource) UpdateProfile(_ context.Context, agentID string, exp core.Experience) error {
	s.mu.Lock()
	_, ok := s.personas[agentID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: persona %s", core.ErrNotFound, agentID)
	}
	s.exps.append(agentID, exp)
	return nil
}
