package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/logging"
	"github.com/wudi/stablegate/internal/stableerrors"
)

// DistributedBufferOptions configures NewDistributedStableBuffer.
type DistributedBufferOptions struct {
	Coordinator Coordinator

	// NodeID identifies this process in sync messages; a random one is
	// generated when left empty.
	NodeID string

	// Channel is the pub/sub channel writes fan out over. Defaults to
	// "stablegate:distributed-buffer".
	Channel string

	// ConflictResolution picks how an incoming sync message is reconciled
	// against this node's current value for the key, per spec §4.12.
	// CUSTOM falls back to LAST_WRITE_WINS when CustomMerge is nil.
	ConflictResolution ConflictResolution
	CustomMerge        func(current, incoming any) any

	TransactionTimeout int64 // milliseconds, forwarded to the local buffer
}

// syncMessage is the wire envelope one node's write fans out as, and the
// shape every node's subscriber decodes on receipt. encoding/json is used
// rather than a binary codec since buffer values are arbitrary
// JSON-compatible `any` state (spec §4.11) with no fixed schema to encode
// against; see DESIGN.md.
type syncMessage struct {
	NodeID string          `json:"nodeId"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// DistributedBuffer wraps a single-node buffer.Buffer (spec §4.11,
// component N) so writes fan out to every other node through a
// Coordinator, per spec §4.12's "createDistributedStableBuffer" (component
// O). Each Run still serializes through the local buffer's own mutex;
// distribution only changes what happens after a local transaction
// commits and what happens when another node's commit arrives.
type DistributedBuffer struct {
	buf     *buffer.Buffer
	coord   Coordinator
	nodeID  string
	channel string

	resolution  ConflictResolution
	customMerge func(current, incoming any) any

	sub Subscription

	// isSyncing is set for the duration of applying another node's sync
	// message, so that reconciliation never re-triggers this node's own
	// broadcast loop (spec §5, "Shared resources").
	isSyncing atomic.Bool
}

// NewDistributedStableBuffer creates a DistributedBuffer, connects opts.Coordinator,
// and subscribes to its sync channel. The returned buffer is ready to use;
// callers should Close it on shutdown to release the subscription and
// coordinator connection.
func NewDistributedStableBuffer(ctx context.Context, opts DistributedBufferOptions) (*DistributedBuffer, error) {
	if opts.Coordinator == nil {
		return nil, stableerrors.New(stableerrors.KindValidation, "distributed buffer requires a Coordinator")
	}
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	channel := opts.Channel
	if channel == "" {
		channel = "stablegate:distributed-buffer"
	}

	db := &DistributedBuffer{
		buf:         buffer.New(time.Duration(opts.TransactionTimeout) * time.Millisecond),
		coord:       opts.Coordinator,
		nodeID:      nodeID,
		channel:     channel,
		resolution:  opts.ConflictResolution,
		customMerge: opts.CustomMerge,
	}

	if err := opts.Coordinator.Connect(ctx); err != nil {
		return nil, stableerrors.Wrap(stableerrors.KindTransport, "distributed buffer: connect coordinator", err)
	}
	sub, err := opts.Coordinator.Subscribe(ctx, channel, db.onMessage)
	if err != nil {
		return nil, stableerrors.Wrap(stableerrors.KindTransport, "distributed buffer: subscribe", err)
	}
	db.sub = sub
	return db, nil
}

// Run executes fn against key's current value under the local buffer's
// transaction, commits the result, and — unless this write is itself the
// product of reconciling another node's message — fans the new value out
// via setState + publish.
func (db *DistributedBuffer) Run(ctx context.Context, key string, fn func(current any) (any, error)) (any, error) {
	val, err := db.buf.Run(func(state map[string]any) (any, error) {
		result, ferr := fn(state[key])
		if ferr != nil {
			return nil, ferr
		}
		state[key] = result
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	if !db.isSyncing.Load() {
		db.broadcast(ctx, key, val)
	}
	return val, nil
}

// Read returns an immutable snapshot of the buffer's current state.
func (db *DistributedBuffer) Read() map[string]any { return db.buf.Read() }

// TxLog returns a copy of the local buffer's transaction log.
func (db *DistributedBuffer) TxLog() []buffer.TxLogEntry { return db.buf.TxLog() }

// Close unsubscribes from the sync channel and disconnects the coordinator.
func (db *DistributedBuffer) Close(ctx context.Context) error {
	if db.sub != nil {
		if err := db.sub.Unsubscribe(); err != nil {
			logging.Warn("distributed buffer: unsubscribe failed")
		}
	}
	return db.coord.Disconnect(ctx)
}

func (db *DistributedBuffer) broadcast(ctx context.Context, key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		logging.Warn("distributed buffer: marshal value for broadcast failed")
		return
	}
	msg := syncMessage{NodeID: db.nodeID, Key: key, Value: encoded}
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Warn("distributed buffer: marshal sync message failed")
		return
	}
	if err := db.coord.SetState(ctx, "buffer:"+key, payload); err != nil {
		logging.Warn("distributed buffer: setState failed")
	}
	if err := db.coord.Publish(ctx, db.channel, payload); err != nil {
		logging.Warn("distributed buffer: publish failed")
	}
}

// onMessage is the Coordinator.Subscribe handler: it reconciles an
// incoming sync message into the local buffer under isSyncing, so the
// reconciling write doesn't loop back out as a fresh broadcast.
func (db *DistributedBuffer) onMessage(raw []byte) {
	var msg syncMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.NodeID == db.nodeID {
		return
	}
	var incoming any
	if err := json.Unmarshal(msg.Value, &incoming); err != nil {
		return
	}

	db.isSyncing.Store(true)
	defer db.isSyncing.Store(false)

	_, _ = db.buf.Run(func(state map[string]any) (any, error) {
		current := state[msg.Key]
		switch db.resolution {
		case Merge:
			state[msg.Key] = DeepMerge(current, incoming)
		case Custom:
			if db.customMerge != nil {
				state[msg.Key] = db.customMerge(current, incoming)
			} else {
				state[msg.Key] = incoming
			}
		default: // LastWriteWins
			state[msg.Key] = incoming
		}
		return nil, nil
	})
}

// SchedulerConfig binds a piece of leader-gated background work to a
// Coordinator's election, per spec §4.12's
// "createDistributedSchedulerConfig"/"runAsDistributedScheduler" (component
// O): Work runs only while this node holds electionKey's leadership, and is
// canceled the instant leadership is lost.
type SchedulerConfig struct {
	coord       Coordinator
	electionKey string
	work        func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDistributedSchedulerConfig creates a SchedulerConfig. work should run
// until its ctx is canceled; RunAsDistributedScheduler cancels that ctx the
// moment this node loses leadership of electionKey.
func NewDistributedSchedulerConfig(coord Coordinator, electionKey string, work func(ctx context.Context)) *SchedulerConfig {
	return &SchedulerConfig{coord: coord, electionKey: electionKey, work: work}
}

// RunAsDistributedScheduler campaigns for electionKey's leadership and
// starts/stops work on leadership transitions. It returns once the
// Coordinator has registered the campaign (RedisCoordinator/EtcdCoordinator
// both campaign asynchronously in a background goroutine); it does not
// block for the campaign's lifetime.
func (s *SchedulerConfig) RunAsDistributedScheduler(ctx context.Context) error {
	return s.coord.CampaignForLeader(ctx, s.electionKey, LeaderCallbacks{
		OnBecomeLeader:   func() { s.startWork(ctx) },
		OnLoseLeadership: s.stopWork,
	})
}

func (s *SchedulerConfig) startWork(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.work == nil {
		return
	}
	workCtx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	go s.work(workCtx)
}

func (s *SchedulerConfig) stopWork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Stop cancels any running work and resigns electionKey's leadership.
func (s *SchedulerConfig) Stop(ctx context.Context) error {
	s.stopWork()
	return s.coord.ResignLeadership(ctx, s.electionKey)
}
