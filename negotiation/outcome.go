package negotiation

import (
	"encoding/json"
	"time"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Outcome is the externally visible state of a negotiation. Result is set only
// once the negotiation reached the terminal state.
type Outcome struct {
	NegotiationID string
	SignalID      string
	SceneID       string
	State         State
	Result        core.Result
	Rounds        int
	Offers        int
	Expected      []string
	LowConfidence bool
	Error         string
	CreatedAt     time.Time
	ClosedAt      time.Time
}

type outcomeJSON struct {
	NegotiationID string               `json:"negotiation_id"`
	SignalID      string               `json:"signal_id"`
	SceneID       string               `json:"scene_id,omitempty"`
	State         State                `json:"state"`
	Result        *core.ResultEnvelope `json:"result,omitempty"`
	Rounds        int                  `json:"rounds"`
	Offers        int                  `json:"offers"`
	Expected      []string             `json:"expected,omitempty"`
	LowConfidence bool                 `json:"low_confidence,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ClosedAt      *time.Time           `json:"closed_at,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		NegotiationID: o.NegotiationID,
		SignalID:      o.SignalID,
		SceneID:       o.SceneID,
		State:         o.State,
		Rounds:        o.Rounds,
		Offers:        o.Offers,
		Expected:      o.Expected,
		LowConfidence: o.LowConfidence,
		Error:         o.Error,
		CreatedAt:     o.CreatedAt,
	}
	if o.Result != nil {
		env, err := core.EncodeResult(o.Result)
		if err != nil {
			return nil, err
		}
		out.Result = &env
	}
	if !o.ClosedAt.IsZero() {
		closed := o.ClosedAt
		out.ClosedAt = &closed
	}
	return json.Marshal(out)
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*o = Outcome{
		NegotiationID: in.NegotiationID,
		SignalID:      in.SignalID,
		SceneID:       in.SceneID,
		State:         in.State,
		Rounds:        in.Rounds,
		Offers:        in.Offers,
		Expected:      in.Expected,
		LowConfidence: in.LowConfidence,
		Error:         in.Error,
		CreatedAt:     in.CreatedAt,
	}
	if in.ClosedAt != nil {
		o.ClosedAt = *in.ClosedAt
	}
	if in.Result != nil {
		r, err := core.DecodeResult(*in.Result)
		if err != nil {
			return err
		}
		o.Result = r
	}
	return nil
}

// Record is what the archive keeps for a closed negotiation.
type Record struct {
	Outcome Outcome      `json:"outcome"`
	Signal  core.Signal  `json:"signal"`
	Offers  []core.Offer `json:"offers,omitempty"`
}

// Broadcast is published on the signal subject once the cascade picked responders.
type Broadcast struct {
	NegotiationID string      `json:"negotiation_id"`
	Signal        core.Signal `json:"signal"`
	Responders    []string    `json:"responders"`
	Deadline      time.Time   `json:"deadline"`
}

// InboundOffer is an offer delivered over the message bus.
type InboundOffer struct {
	NegotiationID string     `json:"negotiation_id"`
	Offer         core.Offer `json:"offer"`
	Decline       bool       `json:"decline,omitempty"`
}

// ExchangeNotice tells a round-two participant what the exchange is about.
type ExchangeNotice struct {
	NegotiationID string    `json:"negotiation_id"`
	Topic         string    `json:"topic,omitempty"`
	Missing       []string  `json:"missing,omitempty"`
	Participants  []string  `json:"participants,omitempty"`
	ReplySubject  string    `json:"reply_subject,omitempty"`
	Deadline      time.Time `json:"deadline"`
}
