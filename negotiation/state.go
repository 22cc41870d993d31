package negotiation

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of one negotiation.
type State string

const (
	StateCollecting       State = "collecting"
	StateReadyToAggregate State = "ready_to_aggregate"
	StateAggregated       State = "aggregated"
	StateAwaitingRound2   State = "awaiting_round_2"
	StateTerminal         State = "terminal"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// ErrIllegalTransition is returned for a transition the lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateCollecting:       {StateReadyToAggregate, StateFailed, StateCancelled},
	StateReadyToAggregate: {StateAggregated, StateAwaitingRound2, StateTerminal, StateFailed, StateCancelled},
	StateAwaitingRound2:   {StateReadyToAggregate, StateFailed, StateCancelled},
	StateAggregated:       {StateTerminal},
	// A failed negotiation can only be re-entered through Retry.
	StateFailed:    {StateCollecting, StateReadyToAggregate, StateCancelled},
	StateTerminal:  nil,
	StateCancelled: nil,
}

// Closed reports whether s is an end state for the current attempt.
func (s State) Closed() bool {
	return s == StateTerminal || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
