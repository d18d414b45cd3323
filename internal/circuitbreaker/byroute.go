package circuitbreaker

import (
	"github.com/wudi/stablegate/internal/byroute"
	"github.com/wudi/stablegate/internal/config"
)

// ByRoute manages one Breaker per route or request-group id, mirroring the
// teacher's BreakerByRoute but built on the shared generic byroute.Manager.
type ByRoute struct {
	mgr *byroute.Manager[*Breaker]
}

// NewByRoute creates an empty route-keyed breaker manager.
func NewByRoute() *ByRoute {
	return &ByRoute{mgr: byroute.New[*Breaker]()}
}

// AddRoute creates and stores a Breaker for routeID.
func (r *ByRoute) AddRoute(routeID string, cfg config.CircuitBreakerConfig) *Breaker {
	b := New(cfg)
	r.mgr.Add(routeID, b)
	return b
}

// Get returns the Breaker for routeID, if one has been added.
func (r *ByRoute) Get(routeID string) (*Breaker, bool) {
	return r.mgr.Get(routeID)
}

// Snapshots returns a snapshot of every breaker, keyed by route id.
func (r *ByRoute) Snapshots() map[string]Snapshot {
	return byroute.CollectStats(r.mgr, func(b *Breaker) Snapshot { return b.Snapshot() })
}
