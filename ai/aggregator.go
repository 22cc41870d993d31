package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/negotiation"
)

const aggregatorSystem = `You combine the offers collected for one request into exactly one outcome.
Use only the facts listed. Pick one kind:
- "plan": {"summary": string, "steps": [string], "contributors": [agent ids]}
- "contract": {"workflow_ref": string, "parties": [agent ids], "terms": string}, only when the parties agree on concrete terms
- "need_more_info": {"reason": string, "questions": [string]}
- "trigger_p2p": {"topic": string, "participants": [agent ids]}, when a short exchange between named agents would settle an open point
- "has_gap": {"missing": [string], "participants": [agent ids]}, when a required capability is missing
Answer with a JSON object {"kind": one of the kinds above, "payload": the object for that kind}.`

// Aggregator synthesizes masked offers with a chat model.
type Aggregator struct {
	client *Client
	// WorkflowPrefix is prepended to contract references the model leaves empty.
	WorkflowPrefix string
}

func NewAggregator(c *Client, workflowPrefix string) *Aggregator {
	return &Aggregator{client: c, WorkflowPrefix: workflowPrefix}
}

func (a *Aggregator) Aggregate(ctx context.Context, in negotiation.Input) (core.Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", in.Signal.Payload)
	fmt.Fprintf(&b, "Round %d offers:\n%s", in.Round, negotiation.Render(in.Offers))
	if in.LowConfidence {
		b.WriteString("\nResponder selection was degraded; some relevant agents may be missing.\n")
	}
	if in.Round > 1 {
		b.WriteString("\nThis is the final round. Prefer plan, contract or need_more_info.\n")
	}

	var env struct {
		Kind    core.ResultKind `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := a.client.ChatJSON(ctx, aggregatorSystem, b.String(), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAggregationUnavailable, err)
	}
	if env.Kind == core.KindContract && a.WorkflowPrefix != "" {
		env.Payload = fillWorkflowRef(env.Payload, a.WorkflowPrefix+in.NegotiationID)
	}
	r, err := core.DecodeResult(core.ResultEnvelope{Kind: env.Kind, Payload: env.Payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAggregationUnavailable, err)
	}
	return r, nil
}

func fillWorkflowRef(payload json.RawMessage, ref string) json.RawMessage {
	var c core.Contract
	if json.Unmarshal(payload, &c) != nil || c.WorkflowRef != "" {
		return payload
	}
	c.WorkflowRef = ref
	out, err := json.Marshal(c)
	if err != nil {
		return payload
	}
	return out
}
