// Package objectmodel defines the wire and storage shapes shared by every
// other package in the core: the Object/Metadata record, read parameters,
// redundancy sets, compaction stats and watchdog alarms described in the
// data model.
package objectmodel

import (
	"time"

	"github.com/google/uuid"
)

// Method distinguishes a mutation's intent. DELETE objects are PUTs with
// del=true and an empty body; Method is kept distinct from Object.Del so
// callers that only care about the wire verb don't have to reconstruct it.
type Method uint8

const (
	MethodPut Method = iota
	MethodDelete
)

func (m Method) String() string {
	if m == MethodDelete {
		return "DELETE"
	}
	return "PUT"
}

// Reference correlates an in-flight request with its peer replies. It is
// minted by the initiator and echoed verbatim by every responder.
type Reference uuid.UUID

// NewReference mints a fresh Reference for an outbound request.
func NewReference() Reference {
	return Reference(uuid.New())
}

func (r Reference) String() string {
	return uuid.UUID(r).String()
}

// Zero reports whether this is the unset Reference.
func (r Reference) Zero() bool {
	return r == Reference{}
}

// Object is the unit of replication. Invariants (enforced by callers, not
// by this type): del=true implies DataSize=0 and Data is empty; Checksum is
// the content hash of Data on PUT; Clock is monotone per (node,key) within
// one process lifetime; AddressID is vnode_id(Key) under the ring.
type Object struct {
	AddressID     uint32
	Key           []byte
	Data          []byte
	DataSize      uint64
	ContentIndex  uint32
	ParentKey     []byte // nil for non-chunked objects
	Clock         uint64 // logical, monotone per (node,key)
	Timestamp     uint64 // wall clock, nanoseconds since epoch
	Checksum      uint64 // content hash, doubles as the ETag
	Method        Method
	Del           bool
	ReqID         uint64
	RingHash      uint64
	NumOfReplicas uint8
}

// Metadata is the projection of Object without the body, plus the chunk
// count used to drive chunked-object teardown.
type Metadata struct {
	AddressID     uint32
	Key           []byte
	DataSize      uint64
	ContentIndex  uint32
	ParentKey     []byte
	Clock         uint64
	Timestamp     uint64
	Checksum      uint64
	Method        Method
	Del           bool
	ReqID         uint64
	RingHash      uint64
	NumOfReplicas uint8
	Cnumber       uint32 // chunk count; 0 for non-chunked objects
}

// MetadataOf projects an Object down to its Metadata.
func MetadataOf(o Object, cnumber uint32) Metadata {
	return Metadata{
		AddressID:     o.AddressID,
		Key:           o.Key,
		DataSize:      o.DataSize,
		ContentIndex:  o.ContentIndex,
		ParentKey:     o.ParentKey,
		Clock:         o.Clock,
		Timestamp:     o.Timestamp,
		Checksum:      o.Checksum,
		Method:        o.Method,
		Del:           o.Del,
		ReqID:         o.ReqID,
		RingHash:      o.RingHash,
		NumOfReplicas: o.NumOfReplicas,
		Cnumber:       cnumber,
	}
}

// NowNano returns the current wall clock stamped onto Object.Timestamp.
// Centralized so tests can see exactly where wall-clock is read.
func NowNano() uint64 {
	return uint64(time.Now().UnixNano())
}

// ReadParams carries everything a GET needs to resolve and, if necessary,
// repair a read. A zero Etag disables the if-match short-circuit. Zero
// StartPos/EndPos mean "whole object".
type ReadParams struct {
	Ref           Reference
	AddressID     uint32
	Key           []byte
	Etag          uint64
	StartPos      uint64
	EndPos        uint64
	NumOfReplicas uint8
	Quorum        uint8
	ReqID         uint64
}

// WholeObject reports whether this read spans the entire object.
func (p ReadParams) WholeObject() bool {
	return p.StartPos == 0 && p.EndPos == 0
}

// Node is a single member of a RedundancySet.
type Node struct {
	ID        string
	Address   string
	Available bool
}

// RedundancySet is a read-only snapshot, valid for one request, of the
// nodes responsible for a key or address plus the quorum parameters that
// apply to it.
type RedundancySet struct {
	Nodes    []Node
	N        uint8
	W        uint8
	R        uint8
	D        uint8
	RingHash uint64
}

// Available returns the subset of Nodes currently marked available, in
// ring order.
func (s RedundancySet) Available() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Available {
			out = append(out, n)
		}
	}
	return out
}

// CompactionStatus is the compactor FSM's externally visible state.
type CompactionStatus uint8

const (
	CompactionIdle CompactionStatus = iota
	CompactionRunning
)

func (s CompactionStatus) String() string {
	if s == CompactionRunning {
		return "RUNNING"
	}
	return "IDLE"
}

// ContainerID identifies a unit of storage in the local store that may be
// a compaction target.
type ContainerID string

// CompactionStats reports the compactor FSM's state to the watchdog
// controller and to peers answering a `compact` RPC.
type CompactionStats struct {
	Status         CompactionStatus
	PendingTargets []ContainerID
	LatestExecTime uint64 // unix nanos
}

// WatchdogLevel classifies an alarm's severity.
type WatchdogLevel uint8

const (
	WatchdogInfo WatchdogLevel = iota
	WatchdogWarn
	WatchdogError
	WatchdogCritical
)

// WatchdogAlarm is an out-of-band monitor event.
type WatchdogAlarm struct {
	Level WatchdogLevel
	Props map[string]any
}
