package jobs

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many pipelines execute simultaneously. Queued jobs waiting
// for a slot are unbounded; execution is not. Capacity is fixed for the
// process lifetime.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
}

func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks the calling goroutine until a slot is free or ctx is done.
// Every successful Acquire must be paired with exactly one Release, on error
// paths included.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire takes a slot without blocking, reporting whether it got one.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

func (g *Gate) Capacity() int {
	return g.capacity
}
