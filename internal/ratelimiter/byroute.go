package ratelimiter

import (
	"github.com/wudi/stablegate/internal/byroute"
	"github.com/wudi/stablegate/internal/config"
)

// ByRoute manages one Limiter per route or request-group id.
type ByRoute struct {
	mgr *byroute.Manager[*Limiter]
}

// NewByRoute creates an empty route-keyed limiter manager.
func NewByRoute() *ByRoute {
	return &ByRoute{mgr: byroute.New[*Limiter]()}
}

// AddRoute creates and stores a Limiter for routeID.
func (r *ByRoute) AddRoute(routeID string, cfg config.RateLimitConfig) *Limiter {
	l := New(cfg)
	r.mgr.Add(routeID, l)
	return l
}

// Get returns the Limiter for routeID, if one has been added.
func (r *ByRoute) Get(routeID string) (*Limiter, bool) {
	return r.mgr.Get(routeID)
}

// Snapshots returns a snapshot of every limiter's statistics, keyed by
// route id.
func (r *ByRoute) Snapshots() map[string]Stats {
	return byroute.CollectStats(r.mgr, func(l *Limiter) Stats { return l.Stats() })
}
