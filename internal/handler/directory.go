package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/queue"
)

// directoryCache invalidation is a process-wide side effect the handler
// triggers but does not own; Invalidate is a no-op unless a cache is
// wired in, matching "global services as injected handles".
type DirectoryCache interface {
	Invalidate(parentKey []byte)
}

// deleteDirectory implements Recursive Directory Delete (spec.md §4.8)
// for a DELETE whose key ends with "/".
func (h *Handler) deleteDirectory(ctx context.Context, slashKey []byte) {
	parent := parentDirectoryKey(slashKey)
	if h.DirCache != nil {
		h.DirCache.Invalidate(parent)
	}

	h.publishDirSync(parent)

	members := h.Resolver.RunningMembers()

	// Asynchronous peer fan-out: fire-and-forget, per spec.md's
	// "background fire-and-forget" concurrency model. A failed peer RPC
	// is retried later via the ASYNC_DELETE_DIR queue rather than
	// blocking the caller.
	go h.fanOutDirectoryDelete(ctx, members, slashKey)

	// Local pass runs synchronously, before Delete returns: it only
	// enqueues retry work, it never mutates the store directly.
	h.PrefixSearchAndRemoveObjects(ctx, slashKey)
}

func parentDirectoryKey(slashKey []byte) []byte {
	trimmed := bytes.TrimSuffix(slashKey, []byte("/"))
	if idx := bytes.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx+1]
	}
	return nil
}

func (h *Handler) publishDirSync(parent []byte) {
	if h.Queues == nil {
		return
	}
	_ = h.Queues.Publish(queue.DelDir, string(parent), nil)
}

// fanOutDirectoryDelete dispatches delete_objects_under_dir to every peer
// concurrently — the peers are independent and order does not matter, so
// an errgroup.Group replaces the sequential loop a single slow peer would
// otherwise force. Each peer's own failure only enqueues a retry, it
// never fails the group: errgroup's first-error short-circuit is not
// wanted here.
func (h *Handler) fanOutDirectoryDelete(ctx context.Context, members []objectmodel.Node, slashKey []byte) {
	var g errgroup.Group
	for _, n := range members {
		if n.ID == h.SelfID {
			continue
		}
		n := n
		g.Go(func() error {
			if err := h.Peers.DeleteObjectsUnderDir(ctx, n, slashKey); err != nil {
				if h.Queues != nil {
					payload, _ := json.Marshal(struct {
						Node   string `json:"node"`
						Prefix []byte `json:"prefix"`
					}{n.ID, slashKey})
					_ = h.Queues.Publish(queue.AsyncDeleteDir, fmt.Sprintf("%s:%s", n.ID, slashKey), payload)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// PrefixSearchAndRemoveObjects scans the local store under prefix; for
// every live (non-deleted) entry it publishes an ASYNC_DELETE_OBJ
// message keyed by (addr_id, key) to the queue. Already-deleted entries
// are skipped. Exported because a peer's inbound
// delete_objects_under_dir RPC invokes this directly rather than the
// full recursive-delete entrypoint, which would otherwise have every
// peer re-fan-out to every other peer.
func (h *Handler) PrefixSearchAndRemoveObjects(ctx context.Context, prefix []byte) {
	if h.Queues == nil {
		return
	}
	_ = h.Local.FetchByKey(ctx, prefix, func(key []byte, meta objectmodel.Metadata) error {
		if meta.Del {
			return nil
		}
		payload, _ := json.Marshal(struct {
			AddressID uint32 `json:"address_id"`
			Key       []byte `json:"key"`
		}{meta.AddressID, key})
		msgKey := fmt.Sprintf("%d:%s", meta.AddressID, key)
		return h.Queues.Publish(queue.AsyncDeleteObj, msgKey, payload)
	})
}
