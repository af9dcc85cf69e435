package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds concurrent chunk fetches.
const DefaultConcurrency = 15

// Pool is a long-lived bounded worker pool shared by every fetch call of a
// process. Submitters block in Go while all slots are taken, which is the
// pool's backpressure; Waiting reports how many are blocked.
type Pool struct {
	sem  *semaphore.Weighted
	size int64

	inFlight atomic.Int64
	waiting  atomic.Int64
	peak     atomic.Int64
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultConcurrency
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the pool bound.
func (p *Pool) Size() int { return int(p.size) }

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Waiting returns the number of submitters blocked on a free slot.
func (p *Pool) Waiting() int64 { return p.waiting.Load() }

// Peak returns the highest observed InFlight value.
func (p *Pool) Peak() int64 { return p.peak.Load() }

// Go waits for a free slot and runs fn on it. wg is incremented before fn
// starts and released when it returns. If ctx ends first, fn is not run
// and ctx's error is returned.
func (p *Pool) Go(ctx context.Context, wg *sync.WaitGroup, fn func()) error {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return err
	}

	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.sem.Release(1)
		defer p.inFlight.Add(-1)
		fn()
	}()
	return nil
}
