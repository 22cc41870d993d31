package offerpool

import (
	"sort"
	"sync"
	"time"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Entry is the partial input of a negotiation whose aggregation failed.
type Entry struct {
	NegotiationID string       `json:"negotiation_id"`
	Signal        core.Signal  `json:"signal"`
	Scene         core.Scene   `json:"scene"`
	Offers        []core.Offer `json:"offers"`
	Round         int          `json:"round"`
	PreservedAt   time.Time    `json:"preserved_at"`
}

// Pool keeps offers of failed negotiations until they are retried or expire.
type Pool struct {
	mu         sync.Mutex
	entries    map[string]Entry
	expiration time.Duration
}

// New creates a pool whose entries expire after expiration. Zero keeps them
// until taken or released.
func New(expiration time.Duration) *Pool {
	return &Pool{entries: make(map[string]Entry), expiration: expiration}
}

// Preserve stores a copy of the entry, replacing any earlier one for the
// same negotiation.
func (p *Pool) Preserve(e Entry) {
	e.Offers = append([]core.Offer(nil), e.Offers...)
	if e.PreservedAt.IsZero() {
		e.PreservedAt = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[e.NegotiationID] = e
}

// Get returns the preserved entry without removing it.
func (p *Pool) Get(negotiationID string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[negotiationID]
	if !ok || p.expired(e, time.Now()) {
		return Entry{}, false
	}
	e.Offers = append([]core.Offer(nil), e.Offers...)
	return e, true
}

// Release drops the entry, e.g. after a successful retry or a cancel.
func (p *Pool) Release(negotiationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, negotiationID)
}

func (p *Pool) expired(e Entry, now time.Time) bool {
	return p.expiration > 0 && now.Sub(e.PreservedAt) > p.expiration
}

// CleanupExpired removes old entries and returns their ids.
func (p *Pool) CleanupExpired() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var removed []string
	for id, e := range p.entries {
		if p.expired(e, now) {
			delete(p.entries, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Size returns the number of preserved negotiations.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
