package backpressure

import (
	"time"

	"github.com/wudi/stablegate/internal/byroute"
)

// ByRoute manages one Backpressure handler per route.
type ByRoute struct {
	mgr *byroute.Manager[*Backpressure]
}

// NewByRoute creates an empty route-keyed backpressure manager.
func NewByRoute() *ByRoute {
	return &ByRoute{mgr: byroute.New[*Backpressure]()}
}

// AddRoute creates and stores a Backpressure handler for routeID.
func (b *ByRoute) AddRoute(routeID string, cfg Config, onTrip func(time.Duration), onRecover func()) *Backpressure {
	bp := New(cfg, onTrip, onRecover)
	b.mgr.Add(routeID, bp)
	return bp
}

// Get returns the Backpressure handler for routeID, if one has been added.
func (b *ByRoute) Get(routeID string) (*Backpressure, bool) {
	return b.mgr.Get(routeID)
}

// CloseAll stops every route's pending recovery timer.
func (b *ByRoute) CloseAll() {
	b.mgr.Range(func(_ string, bp *Backpressure) bool {
		bp.Close()
		return true
	})
}

// Stats returns per-route backpressure statistics.
func (b *ByRoute) Stats() map[string]Stats {
	return byroute.CollectStats(b.mgr, func(bp *Backpressure) Stats { return bp.Stats() })
}
