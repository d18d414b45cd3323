package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript releases a lock only if the caller still holds it (token
// matches), grounded on the teacher's compare-and-delete Lua pattern in
// internal/circuitbreaker/redis.go.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisCoordinator.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCoordinator implements Coordinator atop go-redis: SET NX PX for
// locks, pub/sub for messaging, and a polling campaign loop for leader
// election (Redis has no native election primitive, unlike etcd).
type RedisCoordinator struct {
	client *redis.Client

	mu       sync.Mutex
	leading  map[string]bool
	cancelFns map[string]context.CancelFunc
}

// NewRedisCoordinator creates a RedisCoordinator from cfg.
func NewRedisCoordinator(cfg RedisConfig) *RedisCoordinator {
	return &RedisCoordinator{
		client:    redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		leading:   make(map[string]bool),
		cancelFns: make(map[string]context.CancelFunc),
	}
}

func (c *RedisCoordinator) Connect(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCoordinator) Disconnect(ctx context.Context) error {
	return c.client.Close()
}

func (c *RedisCoordinator) GetState(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return v, err
}

func (c *RedisCoordinator) SetState(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

func (c *RedisCoordinator) Publish(ctx context.Context, channel string, msg []byte) error {
	return c.client.Publish(ctx, channel, msg).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	return s.pubsub.Close()
}

func (c *RedisCoordinator) Subscribe(ctx context.Context, channel string, handler func([]byte)) (Subscription, error) {
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return &redisSubscription{pubsub: pubsub, cancel: cancel}, nil
}

// WithLock acquires a SET NX PX lock and releases it via a compare-and-
// delete script so a lock that outlived its TTL and was claimed by
// another holder is never deleted out from under them.
func (c *RedisCoordinator) WithLock(ctx context.Context, key string, opts LockOptions, fn func(ctx context.Context) error) error {
	ttl := time.Duration(opts.TTL) * time.Millisecond
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	waitTimeout := time.Duration(opts.WaitTimeout) * time.Millisecond
	if waitTimeout <= 0 {
		waitTimeout = ttl
	}

	token := uuid.NewString()
	lockKey := "lock:" + key

	deadline := time.Now().Add(waitTimeout)
	for {
		ok, err := c.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("coordinator: timed out waiting for lock %q", key)
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	defer unlockScript.Run(context.Background(), c.client, []string{lockKey}, token)

	return fn(ctx)
}

// CampaignForLeader polls for a SET NX PX leadership key since Redis has
// no built-in election primitive (unlike etcd's concurrency package).
func (c *RedisCoordinator) CampaignForLeader(ctx context.Context, electionKey string, cb LeaderCallbacks) error {
	token := uuid.NewString()
	key := "leader:" + electionKey
	ttl := 10 * time.Second

	campaignCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFns[electionKey] = cancel
	c.mu.Unlock()

	go func() {
		wasLeader := false
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-campaignCtx.Done():
				if wasLeader && cb.OnLoseLeadership != nil {
					cb.OnLoseLeadership()
				}
				return
			case <-ticker.C:
				ok, _ := c.client.SetNX(context.Background(), key, token, ttl).Result()
				if !ok {
					cur, _ := c.client.Get(context.Background(), key).Result()
					ok = cur == token
					if ok {
						c.client.Expire(context.Background(), key, ttl)
					}
				}
				c.mu.Lock()
				c.leading[electionKey] = ok
				c.mu.Unlock()
				if ok && !wasLeader {
					wasLeader = true
					if cb.OnBecomeLeader != nil {
						cb.OnBecomeLeader()
					}
				} else if !ok && wasLeader {
					wasLeader = false
					if cb.OnLoseLeadership != nil {
						cb.OnLoseLeadership()
					}
				}
			}
		}
	}()
	return nil
}

func (c *RedisCoordinator) ResignLeadership(ctx context.Context, electionKey string) error {
	c.mu.Lock()
	cancel, ok := c.cancelFns[electionKey]
	delete(c.cancelFns, electionKey)
	delete(c.leading, electionKey)
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return c.client.Del(ctx, "leader:"+electionKey).Err()
}
