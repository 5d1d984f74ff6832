// Package config loads the engine's runtime configuration from environment
// variables. There is no config-file or flag-framework dependency here: the
// teacher's own services read connection settings straight from the
// environment and let functional options (locker.Option, merge.Option,
// recovery.SweeperOption) handle everything that varies per call site.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting the engine's components
// need to dial out to their backing services.
type Config struct {
	// CassandraHosts is the contact point list for the wide-column store.
	CassandraHosts []string
	// CassandraKeyspace is the keyspace the store's schema lives in.
	CassandraKeyspace string
	// CassandraTimeout bounds a single cassandra query.
	CassandraTimeout time.Duration

	// RedisAddrs is the contact point list for the distributed locker.
	RedisAddrs []string
	// LockReplicas is how many replicas a lock acquisition waits to
	// acknowledge before proceeding. 0 skips the WAIT call entirely.
	LockReplicas int
	// LockReplicationWait bounds the locker's WAIT command.
	LockReplicationWait time.Duration

	// RecoverySweepInterval is how often the background sweeper scans for
	// stale recovery-log entries.
	RecoverySweepInterval time.Duration
	// RecoveryStaleAfter is how long an entry may go without advancing
	// before the sweeper considers its saga abandoned.
	RecoveryStaleAfter time.Duration
	// RecoveryDiskFallbackDir is where recovery entries are written when
	// the datastore itself is unreachable. Empty disables the fallback.
	RecoveryDiskFallbackDir string
}

// envSpec names the environment variables Load reads, kept together so
// operators have one place to look for the full list.
const (
	envCassandraHosts       = "BRANCHMERGE_CASSANDRA_HOSTS"
	envCassandraKeyspace    = "BRANCHMERGE_CASSANDRA_KEYSPACE"
	envCassandraTimeout     = "BRANCHMERGE_CASSANDRA_TIMEOUT"
	envRedisAddrs           = "BRANCHMERGE_REDIS_ADDRS"
	envLockReplicas         = "BRANCHMERGE_LOCK_REPLICAS"
	envLockReplicationWait  = "BRANCHMERGE_LOCK_REPLICATION_WAIT"
	envRecoverySweepEvery   = "BRANCHMERGE_RECOVERY_SWEEP_INTERVAL"
	envRecoveryStaleAfter   = "BRANCHMERGE_RECOVERY_STALE_AFTER"
	envRecoveryDiskFallback = "BRANCHMERGE_RECOVERY_DATA_DIR"
)

// defaults mirror the zero-value fallbacks each component already applies
// internally (locker.New's 1s replication wait, Sweeper's 1m stale-after),
// restated here so an operator reading Load never has to go find them.
const (
	defaultCassandraTimeout      = 10 * time.Second
	defaultLockReplicationWait   = time.Second
	defaultRecoverySweepInterval = 30 * time.Second
	defaultRecoveryStaleAfter    = time.Minute
)

// Load populates a Config from the environment, applying the defaults above
// wherever a variable is unset or empty.
func Load() Config {
	return Config{
		CassandraHosts:          splitCSV(os.Getenv(envCassandraHosts)),
		CassandraKeyspace:       os.Getenv(envCassandraKeyspace),
		CassandraTimeout:        durationOrDefault(envCassandraTimeout, defaultCassandraTimeout),
		RedisAddrs:              splitCSV(os.Getenv(envRedisAddrs)),
		LockReplicas:            intOrDefault(envLockReplicas, 0),
		LockReplicationWait:     durationOrDefault(envLockReplicationWait, defaultLockReplicationWait),
		RecoverySweepInterval:   durationOrDefault(envRecoverySweepEvery, defaultRecoverySweepInterval),
		RecoveryStaleAfter:      durationOrDefault(envRecoveryStaleAfter, defaultRecoveryStaleAfter),
		RecoveryDiskFallbackDir: os.Getenv(envRecoveryDiskFallback),
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func intOrDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
