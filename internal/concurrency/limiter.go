// Package concurrency implements the FIFO concurrency limiter described in
// spec §4.5 (component G), grounded on the teacher's
// internal/middleware/requestqueue/requestqueue.go bounded-queue shape but
// built directly on golang.org/x/sync/semaphore.Weighted, which already
// gives FIFO acquire ordering and context-aware blocking without the
// teacher's buffered-channel bookkeeping.
package concurrency

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/wudi/stablegate/internal/config"
)

// Limiter bounds the number of concurrently-running calls.
type Limiter struct {
	sem   *semaphore.Weighted
	limit int64

	running  atomic.Int64
	executed atomic.Int64
	rejected atomic.Int64
}

// New creates a Limiter from a ConcurrencyConfig.
func New(cfg config.ConcurrencyConfig) *Limiter {
	limit := int64(cfg.MaxConcurrent)
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(limit), limit: limit}
}

// Acquire blocks in FIFO order until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.rejected.Add(1)
		return err
	}
	l.running.Add(1)
	return nil
}

// Release frees the slot acquired by a prior Acquire, handing it to the
// next FIFO waiter if one exists.
func (l *Limiter) Release() {
	l.running.Add(-1)
	l.sem.Release(1)
}

// Execute runs fn while holding a slot, always releasing it on both the
// success and failure paths, per spec §4.5.
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	l.executed.Add(1)
	return fn()
}

// Stats is a point-in-time view of limiter activity.
type Stats struct {
	Limit    int64
	Running  int64
	Executed int64
	Rejected int64
}

// Stats returns a point-in-time snapshot.
func (l *Limiter) Stats() Stats {
	return Stats{
		Limit:    l.limit,
		Running:  l.running.Load(),
		Executed: l.executed.Load(),
		Rejected: l.rejected.Load(),
	}
}
