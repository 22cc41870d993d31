package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/NatureBlueee/Towow-sub000/cascade"
	"github.com/NatureBlueee/Towow-sub000/core"
)

const evaluatorSystem = `You decide whether an agent can contribute to a request.
You only know what the agent's profile says. Do not invent skills.
Answer with a JSON object:
{"relevant": boolean, "offer": "what the agent can concretely provide, in the agent's voice", "confidence": number between 0 and 1, "reason": "one sentence"}`

type evaluation struct {
	Relevant   bool    `json:"relevant"`
	Offer      string  `json:"offer"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Evaluator is the cascade's stage-three judge.
type Evaluator struct {
	client *Client
}

func NewEvaluator(c *Client) *Evaluator {
	return &Evaluator{client: c}
}

func (e *Evaluator) Evaluate(ctx context.Context, sig core.Signal, agent core.AgentIdentity, data core.ProfileData) (cascade.Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n", sig.Payload)
	if len(sig.Scope) > 0 {
		fmt.Fprintf(&b, "Scope: %s\n", strings.Join(sig.Scope, ", "))
	}
	fmt.Fprintf(&b, "\nAgent %s profile:\n", agent.ID)
	if agent.Lens != "" {
		fmt.Fprintf(&b, "(specialized on: %s)\n", agent.Lens)
	}
	for _, line := range data.Lines() {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	var out evaluation
	if err := e.client.ChatJSON(ctx, evaluatorSystem, b.String(), &out); err != nil {
		return cascade.Verdict{}, fmt.Errorf("evaluate %s: %w", agent.ID, err)
	}
	v := cascade.Verdict{
		AgentID:    agent.ID,
		Relevant:   out.Relevant && strings.TrimSpace(out.Offer) != "",
		Content:    strings.TrimSpace(out.Offer),
		Confidence: clamp(out.Confidence),
		Reason:     out.Reason,
	}
	return v, nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
