package cascade

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/NatureBlueee/Towow-sub000/projector"
)

type gateEntry struct {
	version uint64
	lens    string
	open    bool
	filter  *bloom.BloomFilter
}

// Gate is the coarse stage: one bloom filter per agent over its scope keys.
// Bloom filters have no false negatives, so an agent sharing any key with the
// signal always passes. Agents that declare no keys are open and always pass.
type Gate struct {
	fpRate float64

	mu      sync.RWMutex
	entries map[string]*gateEntry
}

// NewGate creates a gate whose filters target the given false positive rate.
func NewGate(fpRate float64) *Gate {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &Gate{fpRate: fpRate, entries: make(map[string]*gateEntry)}
}

// Admit reports whether an agent with projection p may respond to a signal
// carrying keys. The agent's filter is rebuilt when its data version changed.
func (g *Gate) Admit(p projector.Projection, keys []string) bool {
	e := g.entry(p)
	if e.open {
		return true
	}
	for _, k := range keys {
		if e.filter.TestString(k) {
			return true
		}
	}
	return false
}

func (g *Gate) entry(p projector.Projection) *gateEntry {
	g.mu.RLock()
	e, ok := g.entries[p.AgentID]
	g.mu.RUnlock()
	if ok && e.version == p.Version && e.lens == p.Lens {
		return e
	}

	e = &gateEntry{version: p.Version, lens: p.Lens, open: len(p.Keys) == 0}
	if !e.open {
		e.filter = bloom.NewWithEstimates(uint(len(p.Keys)), g.fpRate)
		for _, k := range p.Keys {
			e.filter.AddString(k)
		}
	}
	g.mu.Lock()
	g.entries[p.AgentID] = e
	g.mu.Unlock()
	return e
}

// Size returns the number of agents with a built filter.
func (g *Gate) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}
