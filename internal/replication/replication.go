// Package replication implements the Replication Engine (spec.md §4.4):
// quorum-gated fan-out of PUT/DELETE/GET across a key's redundancy set.
// A write never attempts a replica unless the active (reachable) replica
// count already clears the quorum it needs — degrading is a property of
// the object's own claimed replica count, not of live availability, and
// is floored so a degraded quorum can never be satisfied by a failure.
// When fewer acks than the quorum arrive, Put and Delete report
// NotSatisfyQuorum; the individual replica errors are not inspected, so
// neither a replica's NotFound nor ReplicateFailure is ever returned
// (Delete counts a NotFound as an ack). Grounded on the teacher's cluster.Replicator
// (ReplicateWrite/CoordinateRead's channel fan-out and ack counting) but
// reworked: per spec.md the coordinator is stateless over an external
// rpcclient.Client/ring.Resolver pair rather than owning its own store
// and membership, and resolution uses a scalar clock instead of vector
// clocks.
package replication

import (
	"context"
	"sync"

	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/ring"
	"distributed-objectstore/internal/rpcclient"
	"distributed-objectstore/internal/store"
)

// Engine fans writes and reads out to the nodes a key's RedundancySet
// names, including the local node when it is a member.
type Engine struct {
	SelfID   string
	Resolver *ring.Resolver
	Local    store.Facade
	Peers    rpcclient.Client
}

// New builds a replication Engine.
func New(selfID string, resolver *ring.Resolver, local store.Facade, peers rpcclient.Client) *Engine {
	return &Engine{SelfID: selfID, Resolver: resolver, Local: local, Peers: peers}
}

// ackResult is one replica's outcome for a write or delete fan-out.
type ackResult struct {
	nodeID string
	err    error
}

// requiredQuorum computes the ack count a write must actually clear.
// configured is the set's W or D; numOfReplicas is the object's own
// claimed replica count (the degrade trigger spec.md §4.4 step 5 names),
// which is independent of how many of those replicas happen to be
// reachable right now. A configured quorum of zero is the chunk-teardown
// signal (internal/handler's childSet.D = 0) to isolate one sub-delete
// from the parent's configured D, degrading instead against the replicas
// actually available. Either branch floors at 1: a quorum of zero would
// let the first response of any kind, including a failure, satisfy it.
func requiredQuorum(configured uint8, numOfReplicas uint8, available int) int {
	if configured == 0 {
		req := available - 1
		if req < 1 {
			req = 1
		}
		return req
	}
	req := int(configured)
	if numOfReplicas > 0 && int(numOfReplicas) < req {
		req = int(numOfReplicas) - 1
		if req < 1 {
			req = 1
		}
	}
	return req
}

// Put writes obj to the coordinator (local, if in the set) and fans out
// to the remaining replicas, returning once W acks (including local) are
// collected or every replica has responded.
func (e *Engine) Put(ctx context.Context, set objectmodel.RedundancySet, key store.Key, obj objectmodel.Object) (uint64, error) {
	nodes := set.Available()
	if len(nodes) == 0 {
		return 0, objectmodel.ErrNoRedundancy
	}
	required := requiredQuorum(set.W, obj.NumOfReplicas, len(nodes))
	if len(nodes) < required {
		// Active-replica pre-check: fewer reachable replicas than the
		// write actually needs, so no replica write is attempted at all.
		return 0, objectmodel.New(objectmodel.KindNotSatisfyQuorum, nil)
	}

	var localEtag uint64
	acks := 0
	var wg sync.WaitGroup
	results := make(chan ackResult, len(nodes))

	for _, n := range nodes {
		if n.ID == e.SelfID {
			etag, err := e.Local.Put(ctx, key, obj)
			if err == nil {
				localEtag = etag
				acks++
			} else {
				results <- ackResult{n.ID, err}
			}
			continue
		}
		wg.Add(1)
		go func(node objectmodel.Node) {
			defer wg.Done()
			resp, err := e.Peers.Put(ctx, node, rpcclient.PutRequest{Ref: objectmodel.NewReference(), Obj: obj})
			if err != nil {
				results <- ackResult{node.ID, err}
				return
			}
			results <- ackResult{node.ID, nil}
			_ = resp
		}(n)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	for r := range results {
		if r.err == nil {
			acks++
		} else {
			errs = append(errs, r.err)
		}
		if acks >= required {
			// Quorum reached; remaining replicas finish asynchronously
			// (hinted handoff style), the caller does not wait on them.
			go func() {
				for range results {
				}
			}()
			return localEtag, nil
		}
	}

	if acks >= required {
		return localEtag, nil
	}
	return 0, objectmodel.New(objectmodel.KindNotSatisfyQuorum, nil)
}

// Delete tombstones obj across the coordinator and fans out to the
// remaining replicas with the same quorum rule as Put, using D instead
// of W.
func (e *Engine) Delete(ctx context.Context, set objectmodel.RedundancySet, key store.Key, obj objectmodel.Object) error {
	nodes := set.Available()
	if len(nodes) == 0 {
		return objectmodel.ErrNoRedundancy
	}
	required := requiredQuorum(set.D, obj.NumOfReplicas, len(nodes))
	if len(nodes) < required {
		return objectmodel.New(objectmodel.KindNotSatisfyQuorum, nil)
	}

	acks := 0
	var wg sync.WaitGroup
	results := make(chan ackResult, len(nodes))

	for _, n := range nodes {
		if n.ID == e.SelfID {
			err := e.Local.Delete(ctx, key, obj)
			if err == nil || objectmodel.KindOf(err) == objectmodel.KindNotFound {
				acks++
			} else {
				results <- ackResult{n.ID, err}
			}
			continue
		}
		wg.Add(1)
		go func(node objectmodel.Node) {
			defer wg.Done()
			_, err := e.Peers.Delete(ctx, node, rpcclient.DeleteRequest{Ref: objectmodel.NewReference(), Obj: obj})
			// NotFound on a peer delete is normalized to success: the
			// tombstone it would have written is equivalent to one that
			// already exists.
			if err != nil && objectmodel.KindOf(err) != objectmodel.KindNotFound {
				results <- ackResult{node.ID, err}
				return
			}
			results <- ackResult{node.ID, nil}
		}(n)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	for r := range results {
		if r.err == nil {
			acks++
		} else {
			errs = append(errs, r.err)
		}
		if acks >= required {
			go func() {
				for range results {
				}
			}()
			return nil
		}
	}
	if acks >= required {
		return nil
	}
	return objectmodel.New(objectmodel.KindNotSatisfyQuorum, nil)
}

// Reading is its own concern (resolution across R replies plus
// read-repair), owned by the readrepair package; replication only
// exposes the raw per-replica fetch it needs.
func (e *Engine) FetchOne(ctx context.Context, node objectmodel.Node, params objectmodel.ReadParams) (objectmodel.Metadata, objectmodel.Object, error) {
	if node.ID == e.SelfID {
		return e.Local.Get(ctx, store.Key{AddressID: params.AddressID, Key: params.Key}, params.StartPos, params.EndPos, false)
	}
	resp, err := e.Peers.Get(ctx, node, rpcclient.GetRequest{Ref: params.Ref, Params: params})
	if err != nil {
		return objectmodel.Metadata{}, objectmodel.Object{}, err
	}
	return resp.Meta, resp.Obj, nil
}
