package coordinator

import (
	"context"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdConfig configures an EtcdCoordinator.
type EtcdConfig struct {
	Endpoints []string
}

// EtcdCoordinator implements Coordinator atop etcd's client v3: native
// concurrency.Mutex for WithLock and concurrency.Election for leader
// campaigning, rather than the Redis implementation's hand-rolled polling.
type EtcdCoordinator struct {
	client *clientv3.Client

	mu       sync.Mutex
	sessions map[string]*concurrency.Session
	cancels  map[string]context.CancelFunc
}

// NewEtcdCoordinator creates an EtcdCoordinator from cfg.
func NewEtcdCoordinator(cfg EtcdConfig) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdCoordinator{
		client:   cli,
		sessions: make(map[string]*concurrency.Session),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

func (c *EtcdCoordinator) Connect(ctx context.Context) error {
	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

func (c *EtcdCoordinator) Disconnect(ctx context.Context) error {
	return c.client.Close()
}

func (c *EtcdCoordinator) GetState(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (c *EtcdCoordinator) SetState(ctx context.Context, key string, value []byte) error {
	_, err := c.client.Put(ctx, key, string(value))
	return err
}

func (c *EtcdCoordinator) Publish(ctx context.Context, channel string, msg []byte) error {
	// etcd has no native pub/sub; a Put on the channel key wakes every
	// active Watch, giving at-least-once delivery to current subscribers.
	_, err := c.client.Put(ctx, "channel:"+channel, string(msg))
	return err
}

type etcdSubscription struct {
	cancel context.CancelFunc
}

func (s *etcdSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (c *EtcdCoordinator) Subscribe(ctx context.Context, channel string, handler func([]byte)) (Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	watchCh := c.client.Watch(watchCtx, "channel:"+channel)
	go func() {
		for resp := range watchCh {
			for _, ev := range resp.Events {
				handler(ev.Kv.Value)
			}
		}
	}()
	return &etcdSubscription{cancel: cancel}, nil
}

func (c *EtcdCoordinator) WithLock(ctx context.Context, key string, opts LockOptions, fn func(ctx context.Context) error) error {
	ttlSeconds := 10
	if opts.TTL > 0 {
		ttlSeconds = int(opts.TTL / 1000)
		if ttlSeconds < 1 {
			ttlSeconds = 1
		}
	}
	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		return err
	}
	defer session.Close()

	mutex := concurrency.NewMutex(session, "lock/"+key)
	if err := mutex.Lock(ctx); err != nil {
		return err
	}
	defer mutex.Unlock(context.Background())

	return fn(ctx)
}

func (c *EtcdCoordinator) CampaignForLeader(ctx context.Context, electionKey string, cb LeaderCallbacks) error {
	session, err := concurrency.NewSession(c.client)
	if err != nil {
		return err
	}
	election := concurrency.NewElection(session, "election/"+electionKey)

	campaignCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.sessions[electionKey] = session
	c.cancels[electionKey] = cancel
	c.mu.Unlock()

	go func() {
		if err := election.Campaign(campaignCtx, "leader"); err != nil {
			return
		}
		if cb.OnBecomeLeader != nil {
			cb.OnBecomeLeader()
		}
		<-campaignCtx.Done()
		if cb.OnLoseLeadership != nil {
			cb.OnLoseLeadership()
		}
	}()
	return nil
}

func (c *EtcdCoordinator) ResignLeadership(ctx context.Context, electionKey string) error {
	c.mu.Lock()
	cancel, hasCancel := c.cancels[electionKey]
	session, hasSession := c.sessions[electionKey]
	delete(c.cancels, electionKey)
	delete(c.sessions, electionKey)
	c.mu.Unlock()

	if hasCancel {
		cancel()
	}
	if hasSession {
		return session.Close()
	}
	return nil
}
