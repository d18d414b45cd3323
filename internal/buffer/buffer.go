// Package buffer implements the stable buffer described in spec §4.11
// (component N): a single-writer transactional key/value state store
// shared across the resilience components, with a transaction log.
package buffer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/stablegate/internal/stableerrors"
)

// TxStatus is the outcome of one transaction.
type TxStatus string

const (
	TxCommitted TxStatus = "committed"
	TxTimedOut  TxStatus = "timed_out"
	TxFailed    TxStatus = "failed"
)

// TxLogEntry records one completed transaction.
type TxLogEntry struct {
	ID      string
	StartTs time.Time
	EndTs   time.Time
	Status  TxStatus
	WaitMs  int64
}

// Buffer is a serialized transactional key/value store.
type Buffer struct {
	mu                    sync.Mutex
	state                 map[string]any
	txLog                 []TxLogEntry
	transactionTimeout    time.Duration
}

// New creates an empty Buffer. transactionTimeout defaults to 30s.
func New(transactionTimeout time.Duration) *Buffer {
	if transactionTimeout <= 0 {
		transactionTimeout = 30 * time.Second
	}
	return &Buffer{state: make(map[string]any), transactionTimeout: transactionTimeout}
}

// Run acquires the buffer's mutex, passes a mutable snapshot to fn, and
// commits fn's mutations on return, per spec §4.11. fn must complete
// within transactionTimeout or the transaction is recorded as timed out
// and its mutations are discarded. The snapshot is a shallow copy: nested
// maps are shared with the committed state.
func (b *Buffer) Run(fn func(state map[string]any) (any, error)) (any, error) {
	txID := uuid.NewString()
	start := time.Now()

	waitStart := time.Now()
	b.mu.Lock()
	waitMs := time.Since(waitStart).Milliseconds()
	defer b.mu.Unlock()

	type outcome struct {
		val any
		err error
	}
	snapshot := make(map[string]any, len(b.state))
	for k, v := range b.state {
		snapshot[k] = v
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(snapshot)
		done <- outcome{val: v, err: err}
	}()

	select {
	case out := <-done:
		b.state = snapshot
		status := TxCommitted
		if out.err != nil {
			status = TxFailed
		}
		b.txLog = append(b.txLog, TxLogEntry{ID: txID, StartTs: start, EndTs: time.Now(), Status: status, WaitMs: waitMs})
		return out.val, out.err
	case <-time.After(b.transactionTimeout):
		b.txLog = append(b.txLog, TxLogEntry{ID: txID, StartTs: start, EndTs: time.Now(), Status: TxTimedOut, WaitMs: waitMs})
		return nil, stableerrors.New(stableerrors.KindTimeout, "buffer transaction exceeded transactionTimeoutMs")
	}
}

// Read returns an immutable snapshot of the buffer's current state.
func (b *Buffer) Read() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make(map[string]any, len(b.state))
	for k, v := range b.state {
		snapshot[k] = v
	}
	return snapshot
}

// TxLog returns a copy of the transaction log.
func (b *Buffer) TxLog() []TxLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TxLogEntry, len(b.txLog))
	copy(out, b.txLog)
	return out
}
