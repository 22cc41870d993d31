package core

import (
	"encoding/json"
	"fmt"
)

// ResultKind tags the five possible aggregation outcomes.
type ResultKind string

const (
	KindPlan         ResultKind = "plan"
	KindContract     ResultKind = "contract"
	KindNeedMoreInfo ResultKind = "need_more_info"
	KindTriggerP2P   ResultKind = "trigger_p2p"
	KindHasGap       ResultKind = "has_gap"
)

// Result is a closed sum type. Only the five variants in this file implement
// it, because isResult is unexported.
type Result interface {
	Kind() ResultKind
	isResult()
}

// Plan is a synthesized course of action built from the collected offers.
type Plan struct {
	Summary      string   `json:"summary"`
	Steps        []string `json:"steps,omitempty"`
	Contributors []string `json:"contributors,omitempty"`
}

// Contract references an external executable workflow. The core emits the
// reference and never executes it.
type Contract struct {
	WorkflowRef string   `json:"workflow_ref"`
	Parties     []string `json:"parties"`
	Terms       string   `json:"terms,omitempty"`
}

// NeedMoreInfo asks the caller for more input.
type NeedMoreInfo struct {
	Reason    string   `json:"reason"`
	Questions []string `json:"questions,omitempty"`
}

// TriggerP2P asks for one bounded peer exchange among the named participants.
type TriggerP2P struct {
	Topic        string   `json:"topic"`
	Participants []string `json:"participants,omitempty"`
}

// HasGap reports missing capabilities that round two may fill.
type HasGap struct {
	Missing      []string `json:"missing"`
	Participants []string `json:"participants,omitempty"`
}

func (Plan) Kind() ResultKind         { return KindPlan }
func (Contract) Kind() ResultKind     { return KindContract }
func (NeedMoreInfo) Kind() ResultKind { return KindNeedMoreInfo }
func (TriggerP2P) Kind() ResultKind   { return KindTriggerP2P }
func (HasGap) Kind() ResultKind       { return KindHasGap }

func (Plan) isResult()         {}
func (Contract) isResult()     {}
func (NeedMoreInfo) isResult() {}
func (TriggerP2P) isResult()   {}
func (HasGap) isResult()       {}

// WantsRoundTwo reports whether r asks for the optional peer exchange.
func WantsRoundTwo(r Result) bool {
	if r == nil {
		return false
	}
	k := r.Kind()
	return k == KindTriggerP2P || k == KindHasGap
}

// RoundTwoParticipants returns the agents a round-two result names, if any.
func RoundTwoParticipants(r Result) []string {
	switch v := r.(type) {
	case TriggerP2P:
		return v.Participants
	case HasGap:
		return v.Participants
	}
	return nil
}

// ResultEnvelope is the wire form of a Result.
type ResultEnvelope struct {
	Kind    ResultKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeResult wraps r in its envelope.
func EncodeResult(r Result) (ResultEnvelope, error) {
	if r == nil {
		return ResultEnvelope{}, fmt.Errorf("nil result")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return ResultEnvelope{}, err
	}
	return ResultEnvelope{Kind: r.Kind(), Payload: payload}, nil
}

// DecodeResult unpacks an envelope. Unknown kinds are rejected.
func DecodeResult(env ResultEnvelope) (Result, error) {
	var (
		r   Result
		err error
	)
	switch env.Kind {
	case KindPlan:
		var v Plan
		err = json.Unmarshal(env.Payload, &v)
		r = v
	case KindContract:
		var v Contract
		err = json.Unmarshal(env.Payload, &v)
		if err == nil && v.WorkflowRef == "" {
			err = fmt.Errorf("contract without workflow reference")
		}
		r = v
	case KindNeedMoreInfo:
		var v NeedMoreInfo
		err = json.Unmarshal(env.Payload, &v)
		r = v
	case KindTriggerP2P:
		var v TriggerP2P
		err = json.Unmarshal(env.Payload, &v)
		r = v
	case KindHasGap:
		var v HasGap
		err = json.Unmarshal(env.Payload, &v)
		r = v
	default:
		return nil, fmt.Errorf("unknown result kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", env.Kind, err)
	}
	return r, nil
}
