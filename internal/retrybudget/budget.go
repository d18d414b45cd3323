// Package retrybudget caps the fraction of stableRequest calls sharing a
// budget that may retry, independent of any single call's own attempts
// count. This is a supplemented feature (see SPEC_FULL.md) grounded on the
// teacher's internal/retry/budget.go, guarding against retry storms when
// many concurrent gateway items begin retrying at once.
package retrybudget

import (
	"sync"
	"sync/atomic"
	"time"
)

const buckets = 10

type atomicBucket struct {
	requests atomic.Int64
	retries  atomic.Int64
}

// Budget tracks the ratio of retries to total requests over a sliding
// window.
type Budget struct {
	ratio       float64
	minPerSec   int
	window      time.Duration
	bucketNanos int64

	slots [buckets]atomicBucket
	epoch atomic.Int64

	lastAdvanceNanos atomic.Int64
	advanceMu        sync.Mutex
}

// New creates a retry budget. ratio is the max fraction of requests that
// may be retries; minRetriesPerSec always allows at least that many
// retries per second regardless of ratio; window defaults to 10s.
func New(ratio float64, minRetriesPerSec int, window time.Duration) *Budget {
	if window <= 0 {
		window = 10 * time.Second
	}
	b := &Budget{
		ratio:       ratio,
		minPerSec:   minRetriesPerSec,
		window:      window,
		bucketNanos: int64(window / buckets),
	}
	b.lastAdvanceNanos.Store(time.Now().UnixNano())
	return b
}

// RecordRequest records the start of a new stableRequest call.
func (b *Budget) RecordRequest() {
	b.maybeAdvance()
	b.slots[b.epoch.Load()%buckets].requests.Add(1)
}

// RecordRetry records that a retry attempt was taken.
func (b *Budget) RecordRetry() {
	b.maybeAdvance()
	b.slots[b.epoch.Load()%buckets].retries.Add(1)
}

// AllowRetry reports whether the budget currently permits another retry.
func (b *Budget) AllowRetry() bool {
	b.maybeAdvance()

	var totalReqs, totalRetries int64
	for i := 0; i < buckets; i++ {
		totalReqs += b.slots[i].requests.Load()
		totalRetries += b.slots[i].retries.Load()
	}

	windowSec := b.window.Seconds()
	if windowSec > 0 && float64(totalRetries)/windowSec < float64(b.minPerSec) {
		return true
	}
	if totalReqs == 0 {
		return true
	}
	return float64(totalRetries)/float64(totalReqs) < b.ratio
}

// Stats is a point-in-time snapshot of the budget.
type Stats struct {
	Ratio        float64
	TotalRequests int64
	TotalRetries  int64
	Utilization   float64
}

// Snapshot returns a point-in-time view of the budget.
func (b *Budget) Snapshot() Stats {
	b.maybeAdvance()
	var totalReqs, totalRetries int64
	for i := 0; i < buckets; i++ {
		totalReqs += b.slots[i].requests.Load()
		totalRetries += b.slots[i].retries.Load()
	}
	var util float64
	if totalReqs > 0 {
		util = float64(totalRetries) / float64(totalReqs)
	}
	return Stats{Ratio: b.ratio, TotalRequests: totalReqs, TotalRetries: totalRetries, Utilization: util}
}

func (b *Budget) maybeAdvance() {
	now := time.Now().UnixNano()
	last := b.lastAdvanceNanos.Load()
	if now-last < b.bucketNanos {
		return
	}

	b.advanceMu.Lock()
	defer b.advanceMu.Unlock()

	last = b.lastAdvanceNanos.Load()
	elapsed := now - last
	if elapsed < b.bucketNanos {
		return
	}

	steps := int(elapsed / b.bucketNanos)
	if steps > buckets {
		steps = buckets
	}
	cur := b.epoch.Load()
	for i := 0; i < steps; i++ {
		cur = (cur + 1) % buckets
		b.slots[cur].requests.Store(0)
		b.slots[cur].retries.Store(0)
	}
	b.epoch.Store(cur)
	b.lastAdvanceNanos.Store(now)
}
