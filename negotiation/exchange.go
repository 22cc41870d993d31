package negotiation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
)

// ErrNothingNew means a participant has no context beyond its first offer.
var ErrNothingNew = errors.New("no new context")

// ExchangeRequest asks one participant for context it has not shared yet.
type ExchangeRequest struct {
	NegotiationID string
	AgentID       string
	Signal        core.Signal
	Topic         string
	Missing       []string
	Original      core.Offer
}

// Focus returns the terms the exchange should address.
func (r ExchangeRequest) Focus() []string {
	focus := encoder.UniqueTerms(r.Topic)
	for _, m := range r.Missing {
		focus = append(focus, encoder.UniqueTerms(m)...)
	}
	return focus
}

// Exchanger produces a participant's round-two contribution.
type Exchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (core.Offer, error)
}

// ProfileReader reads the data behind an agent.
type ProfileReader interface {
	Profile(ctx context.Context, agentID string) (core.ProfileData, error)
}

// ProfileExchanger answers round two from the participant's own profile:
// it contributes the profile lines its first offer did not already state,
// preferring lines about the focus terms.
type ProfileExchanger struct {
	profiles ProfileReader
	MaxLines int
}

func NewProfileExchanger(profiles ProfileReader) *ProfileExchanger {
	return &ProfileExchanger{profiles: profiles, MaxLines: 3}
}

func (e *ProfileExchanger) Exchange(ctx context.Context, req ExchangeRequest) (core.Offer, error) {
	data, err := e.profiles.Profile(ctx, req.AgentID)
	if err != nil {
		return core.Offer{}, err
	}

	stated := make(map[string]bool)
	for _, t := range encoder.Terms(req.Original.Content) {
		stated[t] = true
	}
	focus := make(map[string]bool)
	for _, t := range req.Focus() {
		focus[t] = true
	}

	var onFocus, other []string
	for _, line := range data.Lines() {
		terms := encoder.UniqueTerms(line)
		fresh, relevant := false, false
		for _, t := range terms {
			if !stated[t] {
				fresh = true
			}
			if focus[t] {
				relevant = true
			}
		}
		if !fresh {
			continue
		}
		if relevant {
			onFocus = append(onFocus, line)
		} else {
			other = append(other, line)
		}
	}

	lines := onFocus
	if len(lines) == 0 {
		lines = other
	}
	if len(lines) == 0 {
		return core.Offer{}, ErrNothingNew
	}
	if e.MaxLines > 0 && len(lines) > e.MaxLines {
		lines = lines[:e.MaxLines]
	}
	return core.Offer{
		AgentID:    req.AgentID,
		Content:    strings.Join(lines, ". "),
		Confidence: req.Original.Confidence,
		Timestamp:  time.Now().UTC(),
		Round:      2,
	}, nil
}
