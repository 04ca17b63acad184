// Package readrepair implements the Read-Repair Engine (spec.md §4.5):
// tries each candidate replica in order as the "primary read" until one
// succeeds, honours the if-match short-circuit (with its num_of_replicas
// == 1 special case), and spawns a fire-and-forget background repair
// across any remaining replicas once a primary read succeeds. Grounded
// on the teacher's cluster.Replicator.CoordinateRead (sequential replica
// iteration, async best-effort write-back) generalized from vector-clock
// reconciliation to the highest-clock-then-checksum rule spec.md's data
// model requires.
package readrepair

import (
	"context"

	"github.com/rs/zerolog"

	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/replication"
	"distributed-objectstore/internal/rpcclient"
	"distributed-objectstore/internal/store"
)

// outcome is the per-attempt result of read_and_repair_2.
type outcome struct {
	match bool
	meta  objectmodel.Metadata
	obj   objectmodel.Object
	err   error
}

// Repairer is the external collaborator that reconciles replicas once a
// primary read has succeeded; a completion callback maps its result onto
// the taxonomy read_and_repair_3 expects.
type Repairer interface {
	Repair(ctx context.Context, params objectmodel.ReadParams, authoritative objectmodel.Metadata, authoritativeObj objectmodel.Object, remaining []objectmodel.Node, done func(error))
}

// Engine implements read_and_repair over a replication.Engine's
// per-replica fetch.
type Engine struct {
	Replication *replication.Engine
	Repairer    Repairer
}

// New builds a read-repair Engine.
func New(rep *replication.Engine, repairer Repairer) *Engine {
	return &Engine{Replication: rep, Repairer: repairer}
}

// getActiveRedundancies filters set down to the quorum-eligible replica
// list, failing if there are fewer available nodes than the quorum
// requires.
func getActiveRedundancies(quorum uint8, set objectmodel.RedundancySet) ([]objectmodel.Node, error) {
	available := set.Available()
	if len(available) < int(quorum) {
		return nil, objectmodel.New(objectmodel.KindNotSatisfyQuorum, nil)
	}
	return available, nil
}

// Read executes read_and_repair: params.Quorum gates candidate
// eligibility, set.Nodes supplies the ordered candidate list.
func (e *Engine) Read(ctx context.Context, params objectmodel.ReadParams, set objectmodel.RedundancySet) (objectmodel.Metadata, objectmodel.Object, error) {
	active, err := getActiveRedundancies(params.Quorum, set)
	if err != nil {
		return objectmodel.Metadata{}, objectmodel.Object{}, err
	}

	var lastErr error
	for i, candidate := range active {
		o := e.attempt(ctx, params, candidate)
		meta, obj, done, repErr := e.postProcess(ctx, params, o, active[i+1:])
		if repErr == errFallThrough {
			lastErr = o.err
			continue
		}
		if repErr != nil {
			return objectmodel.Metadata{}, objectmodel.Object{}, repErr
		}
		_ = done
		return meta, obj, nil
	}
	if lastErr == nil {
		lastErr = objectmodel.ErrNotFound
	}
	return objectmodel.Metadata{}, objectmodel.Object{}, lastErr
}

// errFallThrough is a private sentinel meaning "this candidate's
// attempt failed in a way that should try the next candidate", kept
// distinct from the errors actually returned to the caller.
var errFallThrough = objectmodel.New(objectmodel.KindNone, nil)

// attempt implements read_and_repair_2 for one candidate.
func (e *Engine) attempt(ctx context.Context, params objectmodel.ReadParams, candidate objectmodel.Node) outcome {
	isLocal := candidate.ID == e.Replication.SelfID

	if isLocal && params.Etag != 0 {
		meta, err := e.Replication.Local.Head(ctx, store.Key{AddressID: params.AddressID, Key: params.Key})
		if err != nil {
			return outcome{err: err}
		}
		if meta.Checksum == params.Etag {
			return outcome{match: true, meta: meta}
		}
		if params.NumOfReplicas == 1 {
			_, obj, err := e.Replication.Local.Get(ctx, store.Key{AddressID: params.AddressID, Key: params.Key}, params.StartPos, params.EndPos, false)
			return outcome{meta: meta, obj: obj, err: err}
		}
		// Fall through to a normal GET against this same local candidate.
	}

	meta, obj, err := e.Replication.FetchOne(ctx, candidate, params)
	return outcome{meta: meta, obj: obj, err: err}
}

// postProcess implements read_and_repair_3. It returns errFallThrough
// when the caller should advance to the next candidate.
func (e *Engine) postProcess(ctx context.Context, params objectmodel.ReadParams, o outcome, remaining []objectmodel.Node) (objectmodel.Metadata, objectmodel.Object, bool, error) {
	if o.match {
		return o.meta, objectmodel.Object{}, true, nil
	}
	if o.err != nil {
		switch objectmodel.KindOf(o.err) {
		case objectmodel.KindNotFound:
			return objectmodel.Metadata{}, objectmodel.Object{}, false, o.err
		case objectmodel.KindTimeout:
			return objectmodel.Metadata{}, objectmodel.Object{}, false, o.err
		default:
			return objectmodel.Metadata{}, objectmodel.Object{}, false, errFallThrough
		}
	}
	if len(remaining) == 0 {
		return o.meta, o.obj, false, nil
	}
	if e.Repairer != nil {
		go e.Repairer.Repair(ctx, params, o.meta, o.obj, remaining, func(err error) {
			// The repair result does not affect the reply already
			// returned to the caller; a failure only matters for
			// observability (logged as RecoverFailure upstream).
			_ = err
		})
	}
	return o.meta, o.obj, false, nil
}

// DefaultRepairer is a reference Repairer: it HEADs every remaining
// replica, compares it against the authoritative copy by the
// highest-clock-then-checksum rule spec.md's data model requires, and
// issues a corrective PUT or DELETE against any replica found stale.
// Grounded on the teacher's cluster.Replicator best-effort write-back
// (its CoordinateRead repaired the primary's own stale copy the same
// way), generalized here to every remaining replica instead of just
// the coordinator.
type DefaultRepairer struct {
	Replication *replication.Engine
	Log         zerolog.Logger
}

// NewDefaultRepairer builds a DefaultRepairer bound to rep.
func NewDefaultRepairer(rep *replication.Engine, log zerolog.Logger) *DefaultRepairer {
	return &DefaultRepairer{Replication: rep, Log: log}
}

// stale reports whether candidate lags authoritative by the
// highest-clock-then-checksum rule: a lower clock is stale outright; an
// equal clock with a different checksum is stale too (the authoritative
// copy already won the primary read, so it is preferred on a tie).
func stale(candidate, authoritative objectmodel.Metadata) bool {
	if candidate.Clock < authoritative.Clock {
		return true
	}
	if candidate.Clock == authoritative.Clock && candidate.Checksum != authoritative.Checksum {
		return true
	}
	return false
}

// Repair implements Repairer.Repair.
func (r *DefaultRepairer) Repair(ctx context.Context, params objectmodel.ReadParams, authoritative objectmodel.Metadata, authoritativeObj objectmodel.Object, remaining []objectmodel.Node, done func(error)) {
	var firstErr error
	for _, node := range remaining {
		meta, err := r.headNode(ctx, node, params)
		if err != nil {
			if objectmodel.KindOf(err) != objectmodel.KindNotFound {
				r.Log.Warn().Str("node", node.ID).Err(err).Msg("read-repair head failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			meta = objectmodel.Metadata{} // absent entirely: always stale
		}
		if !stale(meta, authoritative) {
			continue
		}
		if err := r.correct(ctx, node, authoritative, authoritativeObj); err != nil {
			r.Log.Warn().Str("node", node.ID).Err(err).Msg("read-repair correction failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.Log.Info().Str("node", node.ID).Uint64("clock", authoritative.Clock).Msg("read-repair corrected replica")
	}
	if firstErr != nil {
		done(objectmodel.New(objectmodel.KindRecoverFailure, firstErr))
		return
	}
	done(nil)
}

func (r *DefaultRepairer) headNode(ctx context.Context, node objectmodel.Node, params objectmodel.ReadParams) (objectmodel.Metadata, error) {
	if node.ID == r.Replication.SelfID {
		return r.Replication.Local.Head(ctx, store.Key{AddressID: params.AddressID, Key: params.Key})
	}
	resp, err := r.Replication.Peers.Head(ctx, node, params.AddressID, params.Key)
	if err != nil {
		return objectmodel.Metadata{}, err
	}
	return resp.Meta, nil
}

func (r *DefaultRepairer) correct(ctx context.Context, node objectmodel.Node, meta objectmodel.Metadata, obj objectmodel.Object) error {
	key := store.Key{AddressID: meta.AddressID, Key: meta.Key}
	if node.ID == r.Replication.SelfID {
		if meta.Del {
			return r.Replication.Local.Delete(ctx, key, obj)
		}
		_, err := r.Replication.Local.Put(ctx, key, obj)
		return err
	}
	if meta.Del {
		_, err := r.Replication.Peers.Delete(ctx, node, rpcclient.DeleteRequest{Ref: objectmodel.NewReference(), Obj: obj})
		return err
	}
	_, err := r.Replication.Peers.Put(ctx, node, rpcclient.PutRequest{Ref: objectmodel.NewReference(), Obj: obj})
	return err
}
