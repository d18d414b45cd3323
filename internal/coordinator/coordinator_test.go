package coordinator

var (
	_ Coordinator = (*RedisCoordinator)(nil)
	_ Coordinator = (*EtcdCoordinator)(nil)
)
