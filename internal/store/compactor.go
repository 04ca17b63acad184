package store

import (
	"context"
	"sync"
	"sync/atomic"

	"distributed-objectstore/internal/objectmodel"
)

// CompactorFSM tracks the compaction pass's externally visible state
// (idle/running, pending targets, last execution time) and exposes the
// Increase/Decrease concurrency hooks the watchdog controller throttles,
// wrapping an Engine's CompactData. There is no FSM type in the teacher
// repo to ground this on directly; it follows the same
// lock-around-a-status-field shape Engine.compactOne already uses for
// per-container locking.
type CompactorFSM struct {
	engine *Engine

	mu             sync.Mutex
	status         objectmodel.CompactionStatus
	pendingTargets []objectmodel.ContainerID
	lastExecTime   uint64

	parallelism int64 // atomic; floor of 1
}

// NewCompactorFSM wraps engine with FSM bookkeeping, starting at the
// given parallelism (spec.md's auto_compaction_parallel_procs).
func NewCompactorFSM(engine *Engine, startParallelism int) *CompactorFSM {
	if startParallelism <= 0 {
		startParallelism = 1
	}
	return &CompactorFSM{engine: engine, parallelism: int64(startParallelism)}
}

// SetPendingTargets records the containers eligible for the next
// opportunistic compaction pass, typically populated by the local
// store's own fragmentation accounting.
func (f *CompactorFSM) SetPendingTargets(targets []objectmodel.ContainerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingTargets = targets
}

// Increase raises the compactor's allowed parallelism by one.
func (f *CompactorFSM) Increase() {
	atomic.AddInt64(&f.parallelism, 1)
}

// Decrease lowers the compactor's allowed parallelism by one, floored
// at 1 so a throttled compactor still makes forward progress.
func (f *CompactorFSM) Decrease() {
	for {
		cur := atomic.LoadInt64(&f.parallelism)
		if cur <= 1 {
			return
		}
		if atomic.CompareAndSwapInt64(&f.parallelism, cur, cur-1) {
			return
		}
	}
}

// Stats reports the FSM's current externally visible state.
func (f *CompactorFSM) Stats() objectmodel.CompactionStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	targets := make([]objectmodel.ContainerID, len(f.pendingTargets))
	copy(targets, f.pendingTargets)
	return objectmodel.CompactionStats{
		Status:         f.status,
		PendingTargets: targets,
		LatestExecTime: f.lastExecTime,
	}
}

// CompactData runs a compaction pass over targets via the wrapped
// Engine, marking the FSM RUNNING for the duration and recording the
// completion time regardless of outcome.
func (f *CompactorFSM) CompactData(ctx context.Context, targets []objectmodel.ContainerID, parallelism int, ownership func(objectmodel.ContainerID) bool) error {
	f.mu.Lock()
	if f.status == objectmodel.CompactionRunning {
		f.mu.Unlock()
		return objectmodel.ErrLockedContainer
	}
	f.status = objectmodel.CompactionRunning
	f.mu.Unlock()

	if parallelism <= 0 {
		parallelism = int(atomic.LoadInt64(&f.parallelism))
	}
	err := f.engine.CompactData(ctx, targets, parallelism, ownership)

	f.mu.Lock()
	f.status = objectmodel.CompactionIdle
	f.lastExecTime = objectmodel.NowNano()
	f.pendingTargets = nil
	f.mu.Unlock()

	return err
}
