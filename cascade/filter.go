package cascade

import (
	"context"
	"runtime"
	"sync"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/threshold"
)

const chunkSize = 256

// scoreAll computes the similarity of every candidate to the signal vector.
// Work is split in chunks across GOMAXPROCS workers. It does no I/O; the
// context only bounds it. Candidates left unscored when ctx expires are
// dropped and complete is false.
func scoreAll(ctx context.Context, signal core.Hypervector, cands []candidate) (scored []threshold.Scored, complete bool) {
	n := len(cands)
	if n == 0 {
		return nil, true
	}
	scores := make([]float64, n)
	done := make([]bool, n)

	chunks := make(chan int)
	workers := runtime.GOMAXPROCS(0)
	if nChunks := (n + chunkSize - 1) / chunkSize; workers > nChunks {
		workers = nChunks
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for start := range chunks {
				end := start + chunkSize
				if end > n {
					end = n
				}
				for i := start; i < end; i++ {
					scores[i] = signal.SimilarityTo(cands[i].proj.Vector)
					done[i] = true
				}
			}
		}()
	}

	complete = true
feed:
	for start := 0; start < n; start += chunkSize {
		if ctx.Err() != nil {
			complete = false
			break
		}
		select {
		case chunks <- start:
		case <-ctx.Done():
			complete = false
			break feed
		}
	}
	close(chunks)
	wg.Wait()

	scored = make([]threshold.Scored, 0, n)
	for i := range cands {
		if done[i] {
			scored = append(scored, threshold.Scored{AgentID: cands[i].agent.ID, Score: scores[i]})
		}
	}
	return scored, complete
}
