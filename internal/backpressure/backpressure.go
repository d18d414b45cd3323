// Package backpressure implements the Retry-After-driven breaker tripping
// described in SPEC_FULL.md's supplemented features. It is grounded on the
// teacher's internal/middleware/backpressure/backpressure.go, adapted from
// marking a load-balancer backend unhealthy to forcing a
// circuitbreaker.Breaker open for the server-advertised delay, since this
// module has no load balancer of its own.
package backpressure

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/wudi/stablegate/internal/adapter"
)

// Config configures a Backpressure handler.
type Config struct {
	StatusCodes   []int // default {429, 503}
	DefaultDelay  time.Duration // default 5s
	MaxRetryAfter time.Duration // default 60s
}

// Backpressure watches adapter responses for throttling signals and trips
// a breaker for the duration the backend advertised via Retry-After.
type Backpressure struct {
	cfg       Config
	statusSet map[int]bool

	mu        sync.Mutex
	timer     *time.Timer
	onTrip    func(time.Duration)
	onRecover func()

	throttled int64
	recovered int64
}

// New creates a Backpressure handler. onTrip is invoked with the resolved
// delay whenever throttling starts; onRecover is invoked when it ends.
// Callers typically wire onTrip to circuitbreaker.Breaker.ForceOpenFor and
// onRecover to a no-op, since the breaker resumes probing on its own once
// the forced-open window elapses.
func New(cfg Config, onTrip func(time.Duration), onRecover func()) *Backpressure {
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = 5 * time.Second
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = 60 * time.Second
	}
	codes := cfg.StatusCodes
	if len(codes) == 0 {
		codes = []int{429, 503}
	}
	statusSet := make(map[int]bool, len(codes))
	for _, c := range codes {
		statusSet[c] = true
	}
	return &Backpressure{cfg: cfg, statusSet: statusSet, onTrip: onTrip, onRecover: onRecover}
}

// Observe inspects resp from an adapter call, with retryAfterHeader as its
// Retry-After value, and trips backpressure when the response carries a
// throttling status code.
func (bp *Backpressure) Observe(resp *adapter.Response, retryAfterHeader string) {
	if resp == nil || !bp.statusSet[resp.Status] {
		return
	}
	delay := bp.parseRetryAfter(retryAfterHeader)

	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.throttled++
	if bp.timer != nil {
		bp.timer.Stop()
	}
	if bp.onTrip != nil {
		bp.onTrip(delay)
	}
	bp.timer = time.AfterFunc(delay, func() {
		bp.mu.Lock()
		bp.timer = nil
		bp.recovered++
		bp.mu.Unlock()
		if bp.onRecover != nil {
			bp.onRecover()
		}
	})
}

func (bp *Backpressure) parseRetryAfter(val string) time.Duration {
	if val == "" {
		return bp.cfg.DefaultDelay
	}
	if secs, err := strconv.Atoi(val); err == nil {
		d := time.Duration(secs) * time.Second
		if d > bp.cfg.MaxRetryAfter {
			return bp.cfg.MaxRetryAfter
		}
		return d
	}
	if t, err := http.ParseTime(val); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return bp.cfg.DefaultDelay
		}
		if d > bp.cfg.MaxRetryAfter {
			return bp.cfg.MaxRetryAfter
		}
		return d
	}
	return bp.cfg.DefaultDelay
}

// Close cancels any pending recovery timer.
func (bp *Backpressure) Close() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.timer != nil {
		bp.timer.Stop()
		bp.timer = nil
	}
}

// Stats is a point-in-time view of throttle activity.
type Stats struct {
	Throttled int64
	Recovered int64
	Pending   bool
}

// Stats returns a point-in-time snapshot.
func (bp *Backpressure) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return Stats{Throttled: bp.throttled, Recovered: bp.recovered, Pending: bp.timer != nil}
}
