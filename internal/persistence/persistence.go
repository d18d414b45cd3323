// Package persistence implements the persistence coordinator described in
// spec §4.11/§6 (component P): snapshot/load of infrastructure component
// state through a stable buffer, with monotonic-id idempotent replay.
package persistence

import (
	"sync"

	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/logging"

	"go.uber.org/zap"
)

// Hook is the optional {load?, store?, transaction?} persistence hook
// described in spec §8. Store is best-effort: errors are logged, not
// propagated.
type Hook struct {
	Load        func(componentKey string) (map[string]any, error)
	Store       func(componentKey string, state map[string]any) error
	Transaction func(fn func() error) error
}

// Coordinator snapshots and restores component state through a shared
// Buffer, assigning each store operation a monotonic id so replaying an
// already-applied snapshot is a no-op.
type Coordinator struct {
	buf  *buffer.Buffer
	hook *Hook

	mu       sync.Mutex
	nextID   int64
	appliedIDs map[string]int64 // componentKey -> highest applied id
}

// New creates a Coordinator backed by buf. hook may be nil, in which case
// Store/Load only affect the in-process buffer.
func New(buf *buffer.Buffer, hook *Hook) *Coordinator {
	return &Coordinator{buf: buf, hook: hook, appliedIDs: make(map[string]int64)}
}

// Load reads the latest stored state for componentKey, consulting the
// external hook first (if set) and falling back to the buffer.
func (c *Coordinator) Load(componentKey string) (map[string]any, error) {
	if c.hook != nil && c.hook.Load != nil {
		state, err := c.hook.Load(componentKey)
		if err != nil {
			logging.Warn("persistence load failed", zap.String("component", componentKey), zap.Error(err))
			return nil, err
		}
		if state != nil {
			return state, nil
		}
	}
	snapshot := c.buf.Read()
	if v, ok := snapshot[componentKey]; ok {
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, nil
}

// Store records state under componentKey, assigning it the next monotonic
// id for that component.
func (c *Coordinator) Store(componentKey string, state map[string]any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	return c.StoreWithID(componentKey, id, state)
}

// StoreWithID applies state under componentKey tagged with an explicit
// monotonic id, skipping ids at or below the highest id already applied
// for that component. This is what makes replaying a persisted operation
// log idempotent: re-delivering an entry that was already applied is a
// no-op.
func (c *Coordinator) StoreWithID(componentKey string, id int64, state map[string]any) error {
	c.mu.Lock()
	last := c.appliedIDs[componentKey]
	if id <= last {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err := c.buf.Run(func(bufState map[string]any) (any, error) {
		bufState[componentKey] = state
		return nil, nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if id > c.appliedIDs[componentKey] {
		c.appliedIDs[componentKey] = id
	}
	c.mu.Unlock()

	if c.hook != nil && c.hook.Store != nil {
		if err := c.hook.Store(componentKey, state); err != nil {
			logging.Warn("persistence store failed", zap.String("component", componentKey), zap.Error(err))
		}
	}
	return nil
}
