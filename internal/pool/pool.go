// Package pool implements the Worker Pool / Admission layer (spec.md
// §4.2): bounded-queue pools, identified by name, that reject new work
// above a high-water mark. Grounded on the fan-out/WaitGroup shape the
// teacher and pack use throughout (cluster.Node.executeWriteQuorum,
// cluster.Replicator.ReplicateWrite), but gated through
// golang.org/x/sync/semaphore rather than an unbounded goroutine-per-task
// spawn, since admission control is the whole point of this component.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"distributed-objectstore/internal/objectmodel"
)

// Result is the structured outcome of one executed task: the pool never
// lets a task's error (or panic) propagate into the caller, it is always
// captured here.
type Result struct {
	Err   error
	Panic any
}

// Task is a unit of admitted work. It is run to completion; any error it
// returns is captured in Result, never propagated.
type Task func(ctx context.Context) error

// Pool is a single named, bounded-queue worker pool.
type Pool struct {
	name    string
	limit   int64
	pending int64 // atomic: tasks admitted but not yet finished
	sem     *semaphore.Weighted
}

// New creates a Pool named name with the given pending-depth limit (the
// spec's default is 200, spec.md §6 worker_pool_pending_limit).
func New(name string, limit int) *Pool {
	if limit <= 0 {
		limit = 200
	}
	return &Pool{name: name, limit: int64(limit), sem: semaphore.NewWeighted(int64(limit))}
}

// Name returns the pool's identifying name.
func (p *Pool) Name() string { return p.name }

// Pending returns the current aggregate pending depth.
func (p *Pool) Pending() int64 { return atomic.LoadInt64(&p.pending) }

// Enqueue admits task if the aggregate pending depth is at or below the
// pool's limit, dispatching it to a goroutine immediately (the pool
// imposes no ordering guarantee across tasks). It returns
// ErrUnavailable without running task if admission is refused.
func (p *Pool) Enqueue(ctx context.Context, task Task) error {
	if !p.sem.TryAcquire(1) {
		return objectmodel.ErrUnavailable
	}
	atomic.AddInt64(&p.pending, 1)

	go func() {
		defer p.sem.Release(1)
		defer atomic.AddInt64(&p.pending, -1)

		result := Result{}
		func() {
			defer func() {
				if r := recover(); r != nil {
					result.Panic = r
				}
			}()
			result.Err = task(ctx)
		}()
		// The pool provides no result channel by design — callers that care
		// about per-task outcomes use EnqueueAndWait instead.
		_ = result
	}()
	return nil
}

// EnqueueAndWait admits task the same way Enqueue does, but blocks until it
// completes and returns its captured Result instead of discarding it.
func (p *Pool) EnqueueAndWait(ctx context.Context, task Task) (Result, error) {
	if !p.sem.TryAcquire(1) {
		return Result{}, objectmodel.ErrUnavailable
	}
	atomic.AddInt64(&p.pending, 1)
	defer p.sem.Release(1)
	defer atomic.AddInt64(&p.pending, -1)

	result := Result{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Panic = r
			}
		}()
		result.Err = task(ctx)
	}()
	return result, nil
}

// Registry is the process-wide collection of named pools, handed to
// handler code as an injected opaque service per the "global services as
// injected handles" design note.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
	limit int
}

// NewRegistry creates a Registry; every pool it creates gets
// defaultLimit as its own pending-depth limit.
func NewRegistry(defaultLimit int) *Registry {
	return &Registry{pools: make(map[string]*Pool), limit: defaultLimit}
}

// Get returns the named pool, creating it with the registry's default
// limit on first use.
func (r *Registry) Get(name string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[name]; ok {
		return p
	}
	p := New(name, r.limit)
	r.pools[name] = p
	return p
}

// Enqueue is a convenience that looks up (or creates) the named pool and
// enqueues task on it.
func (r *Registry) Enqueue(ctx context.Context, name string, task Task) error {
	return r.Get(name).Enqueue(ctx, task)
}
