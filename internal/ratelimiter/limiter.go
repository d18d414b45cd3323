// Package ratelimiter implements the whole-window token-bucket rate
// limiter described in spec §4.4 (component F). It is grounded on the
// teacher's internal/middleware/ratelimit/limiter.go TokenBucket, but
// replaces its continuous per-elapsed-second refill with the spec's
// discrete whole-window refill and adds the explicit FIFO waiter queue
// the spec's acquire()/processQueue() design calls for.
//
// golang.org/x/time/rate was evaluated and dropped: see DESIGN.md — its
// Reserve/Wait API refills continuously and has no hook to expose the
// FIFO-queue introspection (peak queue length, total wait time) spec §4.4
// requires as rate limiter statistics.
package ratelimiter

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/wudi/stablegate/internal/config"
)

// Limiter is a single whole-window token bucket.
type Limiter struct {
	mu sync.Mutex

	maxTokens int
	window    time.Duration

	tokens     int
	lastRefill time.Time

	waiters *list.List // of *waiter

	refillTimer *time.Timer

	stats Stats
}

type waiter struct {
	enqueuedAt time.Time
	ch         chan struct{}
}

// Stats holds the point-in-time counters named in spec §4.4.
type Stats struct {
	PeakQueueLength int
	TotalQueueWait  time.Duration
	PeakRate        int // most queued waiters released by a single refill; tokens taken directly by Acquire/TryAcquire are not counted
}

// New creates a Limiter from a RateLimitConfig.
func New(cfg config.RateLimitConfig) *Limiter {
	maxTokens := cfg.MaxRequests
	if maxTokens <= 0 {
		maxTokens = 1
	}
	window := cfg.WindowMs
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		maxTokens:  maxTokens,
		window:     window,
		tokens:     maxTokens,
		lastRefill: time.Now(),
		waiters:    list.New(),
	}
}

// refillLocked advances lastRefill in whole-window increments, per spec
// §4.4: windowsPassed = floor(elapsed/window); tokens = min(max, tokens +
// windowsPassed*max).
func (l *Limiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.window {
		return
	}
	windowsPassed := int(elapsed / l.window)
	l.tokens += windowsPassed * l.maxTokens
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(windowsPassed) * l.window)
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.refillLocked()

	if l.tokens > 0 && l.waiters.Len() == 0 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	w := &waiter{enqueuedAt: time.Now(), ch: make(chan struct{}, 1)}
	elem := l.waiters.PushBack(w)
	if l.waiters.Len() > l.stats.PeakQueueLength {
		l.stats.PeakQueueLength = l.waiters.Len()
	}
	l.scheduleRefillLocked()
	l.mu.Unlock()

	select {
	case <-w.ch:
		l.mu.Lock()
		l.stats.TotalQueueWait += time.Since(w.enqueuedAt)
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.waiters.Remove(elem)
		l.mu.Unlock()
		return ctx.Err()
	}
}

// scheduleRefillLocked arms a one-shot timer that fires at the moment the
// next whole window elapses, per spec §4.4's "schedules a refill timer at
// windowMs - (now - lastRefill)".
func (l *Limiter) scheduleRefillLocked() {
	if l.refillTimer != nil {
		return
	}
	wait := l.window - time.Since(l.lastRefill)
	if wait < 0 {
		wait = 0
	}
	l.refillTimer = time.AfterFunc(wait, func() {
		l.mu.Lock()
		l.refillTimer = nil
		l.refillLocked()
		l.processQueueLocked()
		if l.waiters.Len() > 0 {
			l.scheduleRefillLocked()
		}
		l.mu.Unlock()
	})
}

// processQueueLocked drains up to the available tokens in FIFO order.
func (l *Limiter) processQueueLocked() {
	consumed := 0
	for l.tokens > 0 && l.waiters.Len() > 0 {
		front := l.waiters.Front()
		l.waiters.Remove(front)
		l.tokens--
		consumed++
		front.Value.(*waiter).ch <- struct{}{}
	}
	if consumed > l.stats.PeakRate {
		l.stats.PeakRate = consumed
	}
}

// TryAcquire attempts to consume a token without blocking.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	if l.tokens > 0 && l.waiters.Len() == 0 {
		l.tokens--
		return true
	}
	return false
}

// Stats returns a point-in-time snapshot of the limiter's statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
