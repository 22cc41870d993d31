package negotiation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NatureBlueee/Towow-sub000/core"
)

var (
	// ErrBarrierClosed rejects offers arriving after the barrier fired.
	ErrBarrierClosed = errors.New("barrier closed")
	// ErrUnexpectedResponder rejects offers from agents that were not selected.
	ErrUnexpectedResponder = errors.New("unexpected responder")
	// ErrDuplicateResponse rejects a second answer from the same agent.
	ErrDuplicateResponse = errors.New("duplicate response")
)

// FireReason says why a barrier fired.
type FireReason string

const (
	FiredAllResponded FireReason = "all_responded"
	FiredTimeout      FireReason = "timeout"
	FiredCancelled    FireReason = "cancelled"
)

// Barrier gates the move from collecting to aggregation. It fires exactly once,
// when every expected responder has answered or the hard timeout elapses,
// whichever happens first. After it fires nothing can be added.
type Barrier struct {
	mu       sync.Mutex
	expected map[string]bool // agent -> answered
	pending  int
	offers   []core.Offer
	declined []string
	reason   FireReason
	closed   bool

	once  sync.Once
	fired chan struct{}
	timer *time.Timer
}

// NewBarrier creates a barrier over the expected responders. With no
// expected responders it fires immediately.
func NewBarrier(expected []string, timeout time.Duration) *Barrier {
	b := &Barrier{
		expected: make(map[string]bool, len(expected)),
		fired:    make(chan struct{}),
	}
	for _, id := range expected {
		b.expected[id] = false
	}
	b.pending = len(b.expected)
	if b.pending == 0 {
		b.fire(FiredAllResponded)
		return b
	}
	b.mu.Lock()
	b.timer = time.AfterFunc(timeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.fire(FiredTimeout)
	})
	b.mu.Unlock()
	return b
}

// fire closes the barrier. b.mu must be held.
func (b *Barrier) fire(reason FireReason) {
	b.once.Do(func() {
		b.closed = true
		b.reason = reason
		if b.timer != nil {
			b.timer.Stop()
		}
		close(b.fired)
	})
}

func (b *Barrier) answer(agentID string) error {
	if b.closed {
		return fmt.Errorf("%w: response from %s", ErrBarrierClosed, agentID)
	}
	answered, ok := b.expected[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedResponder, agentID)
	}
	if answered {
		return fmt.Errorf("%w: %s", ErrDuplicateResponse, agentID)
	}
	b.expected[agentID] = true
	b.pending--
	return nil
}

// Submit records an offer. It fails once the barrier has fired.
func (b *Barrier) Submit(offer core.Offer) error {
	if err := offer.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.answer(offer.AgentID); err != nil {
		return err
	}
	b.offers = append(b.offers, offer)
	if b.pending == 0 {
		b.fire(FiredAllResponded)
	}
	return nil
}

// Decline records that an agent will not offer. It counts toward completion.
func (b *Barrier) Decline(agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.answer(agentID); err != nil {
		return err
	}
	b.declined = append(b.declined, agentID)
	if b.pending == 0 {
		b.fire(FiredAllResponded)
	}
	return nil
}

// Cancel fires the barrier and releases every collected offer.
func (b *Barrier) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fire(FiredCancelled)
	b.offers = nil
}

// Done is closed when the barrier fires.
func (b *Barrier) Done() <-chan struct{} { return b.fired }

// Fired reports whether the barrier has fired.
func (b *Barrier) Fired() bool {
	select {
	case <-b.fired:
		return true
	default:
		return false
	}
}

// Reason returns why the barrier fired, or "" while it is open.
func (b *Barrier) Reason() FireReason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Offers returns the offers collected before the barrier fired, in arrival
// order. It returns nil while the barrier is open so nothing can act on
// partial input.
func (b *Barrier) Offers() []core.Offer {
	if !b.Fired() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Offer(nil), b.offers...)
}

// Declined returns the agents that declined, sorted.
func (b *Barrier) Declined() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.declined...)
	sort.Strings(out)
	return out
}

// Missing returns expected agents that never answered, sorted.
func (b *Barrier) Missing() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for id, answered := range b.expected {
		if !answered {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Expected returns the expected responders, sorted.
func (b *Barrier) Expected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.expected))
	for id := range b.expected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
