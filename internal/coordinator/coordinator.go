// Package coordinator defines the distributed coordinator contract
// described in spec §4.12 (component O), plus Redis and etcd
// implementations.
package coordinator

import "context"

// Subscription is returned by Subscribe; call Unsubscribe to stop
// receiving messages.
type Subscription interface {
	Unsubscribe() error
}

// LeaderCallbacks are invoked on leadership transitions during
// CampaignForLeader.
type LeaderCallbacks struct {
	OnBecomeLeader  func()
	OnLoseLeadership func()
}

// LockOptions configures WithLock.
type LockOptions struct {
	TTL          int64 // milliseconds
	WaitTimeout  int64 // milliseconds
}

// Coordinator is the pluggable distributed coordination contract (spec
// §4.12). Implementations: RedisCoordinator, EtcdCoordinator.
type Coordinator interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	GetState(ctx context.Context, key string) ([]byte, error)
	SetState(ctx context.Context, key string, value []byte) error

	Publish(ctx context.Context, channel string, msg []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (Subscription, error)

	WithLock(ctx context.Context, key string, opts LockOptions, fn func(ctx context.Context) error) error

	CampaignForLeader(ctx context.Context, electionKey string, cb LeaderCallbacks) error
	ResignLeadership(ctx context.Context, electionKey string) error
}

// ConflictResolution is the strategy createDistributedStableBuffer uses to
// reconcile concurrent writes to the same key, per spec §4.12.
type ConflictResolution string

const (
	LastWriteWins ConflictResolution = "LAST_WRITE_WINS"
	Merge         ConflictResolution = "MERGE"
	Custom        ConflictResolution = "CUSTOM"
)
