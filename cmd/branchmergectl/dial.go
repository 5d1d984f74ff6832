package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arborist/branchmerge/internal/config"
	"github.com/arborist/branchmerge/locker"
	"github.com/arborist/branchmerge/store"
	"github.com/arborist/branchmerge/store/cassandra"
)

// dial connects to the Cassandra store and Redis locker named by the
// process environment. Every subcommand that touches live data calls this
// once at the top of its RunE.
func dial() (store.Store, *locker.Locker, config.Config, error) {
	cfg := config.Load()

	cstore, err := cassandra.New(cassandra.Config{
		Hosts:    cfg.CassandraHosts,
		Keyspace: cfg.CassandraKeyspace,
		Timeout:  cfg.CassandraTimeout,
	})
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("connect to cassandra: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: cfg.RedisAddrs})
	l := locker.New(client, locker.WithReplicas(cfg.LockReplicas), locker.WithReplicationWait(cfg.LockReplicationWait))

	return cstore, l, cfg, nil
}
