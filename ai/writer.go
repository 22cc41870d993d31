package ai

import (
	"context"
	"fmt"
	"strings"
)

const writerSystem = `You write the capability profile of a service provider from a short persona.
Write plain factual lines: skills, past work, availability, constraints. No greetings, no marketing.
Answer with a JSON object {"lines": [string]}.`

// ProfileWriter expands personas into profile text for profile.ChatSource.
type ProfileWriter struct {
	client *Client
}

func NewProfileWriter(c *Client) *ProfileWriter {
	return &ProfileWriter{client: c}
}

func (w *ProfileWriter) WriteProfile(ctx context.Context, agentID, persona string) (string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	prompt := fmt.Sprintf("Agent id: %s\nPersona: %s", agentID, persona)
	if err := w.client.ChatJSON(ctx, writerSystem, prompt, &out); err != nil {
		return "", err
	}
	lines := make([]string, 0, len(out.Lines))
	for _, l := range out.Lines {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("model wrote an empty profile for %s", agentID)
	}
	return strings.Join(lines, "\n"), nil
}
