package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Permits is the admission-control pool bounding the number of streaming
// tasks allowed to hold an open connection at once. It is the sole
// concurrency limit in a run: a task must Acquire before any transport I/O
// and Release exactly once on termination, whatever the outcome.
type Permits struct {
	sem  *semaphore.Weighted
	size int64
	held atomic.Int64
}

// NewPermits creates a pool with n slots. n must be >= 1.
func NewPermits(n int) (*Permits, error) {
	if n < 1 {
		return nil, NewStreamError(ErrPermitDenied, "", fmt.Errorf("permit pool size must be >= 1, got %d", n))
	}
	return &Permits{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}, nil
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// owns one permit and must Release it.
func (p *Permits) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.held.Add(1)
	return nil
}

// Release returns a previously acquired permit to the pool.
func (p *Permits) Release() {
	p.held.Add(-1)
	p.sem.Release(1)
}

// Held returns the number of permits currently out. Diagnostic only; the
// value may be stale by the time it is observed.
func (p *Permits) Held() int64 { return p.held.Load() }

// Size returns the pool capacity.
func (p *Permits) Size() int64 { return p.size }
