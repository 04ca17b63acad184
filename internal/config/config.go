// Package config holds the small set of tunables the core consumes. The
// teacher wires its equivalents (replication factor, quorum) straight off
// flag.* in cmd/server; we keep that flag-driven shape and add the
// watchdog/compaction/pool keys spec.md names.
package config

import "time"

// Config is the full set of configuration keys the core consumes.
type Config struct {
	NodeID  string
	Address string

	ReplicationN int
	WriteQuorum  int
	ReadQuorum   int
	DeleteQuorum int

	// wd_cpu_enabled / wd_disk_enabled
	WatchdogCPUEnabled  bool
	WatchdogDiskEnabled bool

	// auto_compaction_interval / auto_compaction_parallel_procs
	AutoCompactionInterval      time.Duration
	AutoCompactionParallelProcs int

	// request_timeout
	RequestTimeout time.Duration

	// worker_pool_pending_limit
	WorkerPoolPendingLimit int

	// compaction_pre_wait_ms
	CompactionPreWait time.Duration
}

// Defaults returns the configuration defaults named in spec.md §6.
func Defaults() Config {
	return Config{
		ReplicationN:                3,
		WriteQuorum:                 2,
		ReadQuorum:                  2,
		DeleteQuorum:                2,
		RequestTimeout:              5 * time.Second,
		WorkerPoolPendingLimit:      200,
		CompactionPreWait:           100 * time.Millisecond,
		AutoCompactionParallelProcs: 1,
	}
}
