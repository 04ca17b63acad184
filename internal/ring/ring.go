// Package ring implements the Redundancy Resolver (spec.md §4.1): a pure
// function from a key or address to an ordered list of responsible peers
// plus N/W/R/D. The actual ring/consistent-hashing membership service is
// an external collaborator (spec.md §1); this package provides the
// resolver logic plus a reference in-process Ring/Membership so the core
// is runnable and testable without that external service, the way the
// teacher's cluster.Ring/cluster.Membership pair did.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"sort"
	"sync"

	"distributed-objectstore/internal/config"
	"distributed-objectstore/internal/objectmodel"
)

const defaultVnodes = 150

// Op is the operation a lookup is being performed for; it may affect
// ordering (preferred primary first).
type Op uint8

const (
	OpGet Op = iota
	OpPut
)

// Ring is a consistent-hash ring over physical node IDs, adapted from the
// teacher's cluster.Ring: virtual nodes for even distribution, a sorted
// position slice for binary search lookups.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	ring   map[uint32]string
	sorted []uint32
}

// NewRing creates an empty hash ring. vnodes<=0 uses the package default.
func NewRing(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVnodes
	}
	return &Ring{vnodes: vnodes, ring: make(map[uint32]string)}
}

func (r *Ring) hash(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

// VnodeID hashes a key down to its ring position, matching spec.md's
// address_id = vnode_id(key).
func (r *Ring) VnodeID(key []byte) uint32 {
	return r.hash(string(key))
}

func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.ring))
	for pos := range r.ring {
		r.sorted = append(r.sorted, pos)
	}
	slices.Sort(r.sorted)
}

func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= pos })
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}

// AddNode places nodeID's virtual nodes on the ring.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(nodeID + "#" + itoa(i))
		r.ring[pos] = nodeID
	}
	r.rebuild()
}

// RemoveNode removes nodeID's virtual nodes from the ring.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(nodeID + "#" + itoa(i))
		delete(r.ring, pos)
	}
	r.rebuild()
}

// NodeIDsFromPosition walks the ring clockwise from pos, returning up to n
// distinct physical node IDs.
func (r *Ring) NodeIDsFromPosition(pos uint32, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sorted) == 0 {
		return nil
	}
	idx := r.search(pos)
	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for i := 0; i < len(r.sorted) && len(out) < n; i++ {
		vpos := r.sorted[(idx+i)%len(r.sorted)]
		id := r.ring[vpos]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// NodeIDsFromKey hashes key and walks the ring clockwise for n distinct
// physical node IDs.
func (r *Ring) NodeIDsFromKey(key []byte, n int) []string {
	return r.NodeIDsFromPosition(r.VnodeID(key), n)
}

// NodeCount returns the number of distinct physical nodes on the ring.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, id := range r.ring {
		seen[id] = true
	}
	return len(seen)
}

func itoa(i int) string {
	// small allocation-free itoa for ring position salting; i is always
	// in [0, vnodes) so this never needs to handle large or negative values.
	if i == 0 {
		return "0"
	}
	var buf [8]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// Membership tracks cluster members and their availability, and owns the
// Ring used to resolve keys/addresses to nodes.
type Membership struct {
	mu    sync.RWMutex
	nodes map[string]*objectmodel.Node
	ring  *Ring
}

// NewMembership seeds membership with the given nodes, all marked
// available, and places them on a fresh ring.
func NewMembership(nodes []objectmodel.Node, vnodes int) *Membership {
	m := &Membership{nodes: make(map[string]*objectmodel.Node), ring: NewRing(vnodes)}
	for i := range nodes {
		n := nodes[i]
		n.Available = true
		m.nodes[n.ID] = &n
		m.ring.AddNode(n.ID)
	}
	return m
}

// SetAvailable flips a node's availability, e.g. in response to a failed
// RPC or a membership-service push.
func (m *Membership) SetAvailable(nodeID string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.Available = available
	}
}

// Join adds a node to the cluster and its ring.
func (m *Membership) Join(n objectmodel.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.Available = true
	m.nodes[n.ID] = &n
	m.ring.AddNode(n.ID)
}

// Leave removes a node from the cluster and its ring.
func (m *Membership) Leave(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeID)
	m.ring.RemoveNode(nodeID)
}

// All returns every known node, available or not.
func (m *Membership) All() []objectmodel.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]objectmodel.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	return out
}

// VnodeIDOf hashes key down to its ring position, satisfying spec.md's
// address_id = vnode_id(key) convention for synthetic chunk keys.
func (m *Membership) VnodeIDOf(key []byte) uint32 {
	return m.ring.VnodeID(key)
}

// Ring exposes the underlying consistent-hash Ring, e.g. so cmd/server
// can cap configured N/W/R/D to the number of nodes actually present.
func (m *Membership) Ring() *Ring {
	return m.ring
}

// RunningMembers returns every node currently marked available,
// satisfying the Redundancy Resolver's running_members().
func (m *Membership) RunningMembers() []objectmodel.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]objectmodel.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Available {
			out = append(out, *n)
		}
	}
	return out
}

func (m *Membership) lookup(ids []string) []objectmodel.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]objectmodel.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

// Resolver implements the Redundancy Resolver contract over a Membership.
type Resolver struct {
	SelfID     string
	Membership *Membership
	Cfg        config.Config
}

// NewResolver builds a Resolver bound to selfID and a Membership.
func NewResolver(selfID string, m *Membership, cfg config.Config) *Resolver {
	return &Resolver{SelfID: selfID, Membership: m, Cfg: cfg}
}

func (r *Resolver) quorums() (n, w, rq, d uint8) {
	return uint8(r.Cfg.ReplicationN), uint8(r.Cfg.WriteQuorum), uint8(r.Cfg.ReadQuorum), uint8(r.Cfg.DeleteQuorum)
}

// preferPrimary rotates nodes so that, for a GET, the local node (if
// present) is tried first — saving a network hop on the common case where
// the coordinator already holds a replica.
func (r *Resolver) preferPrimary(op Op, nodes []objectmodel.Node) []objectmodel.Node {
	if op != OpGet {
		return nodes
	}
	for i, n := range nodes {
		if n.ID == r.SelfID {
			if i == 0 {
				return nodes
			}
			out := make([]objectmodel.Node, 0, len(nodes))
			out = append(out, n)
			out = append(out, nodes[:i]...)
			out = append(out, nodes[i+1:]...)
			return out
		}
	}
	return nodes
}

// LookupByKey resolves a key to its RedundancySet. Returns ErrNoRedundancy
// if the ring yields nothing (fatal for the request per spec.md §4.1).
func (r *Resolver) LookupByKey(op Op, key []byte) (objectmodel.RedundancySet, error) {
	n, w, rq, d := r.quorums()
	ids := r.Membership.ring.NodeIDsFromKey(key, int(n))
	return r.buildSet(op, ids, n, w, rq, d)
}

// LookupByAddr resolves an address_id (already a ring position, per
// spec.md's vnode_id convention) to its RedundancySet.
func (r *Resolver) LookupByAddr(op Op, addr uint32) (objectmodel.RedundancySet, error) {
	n, w, rq, d := r.quorums()
	ids := r.Membership.ring.NodeIDsFromPosition(addr, int(n))
	return r.buildSet(op, ids, n, w, rq, d)
}

func (r *Resolver) buildSet(op Op, ids []string, n, w, rq, d uint8) (objectmodel.RedundancySet, error) {
	if len(ids) == 0 {
		return objectmodel.RedundancySet{}, objectmodel.ErrNoRedundancy
	}
	nodes := r.Membership.lookup(ids)
	if len(nodes) == 0 {
		return objectmodel.RedundancySet{}, objectmodel.ErrNoRedundancy
	}
	nodes = r.preferPrimary(op, nodes)
	return objectmodel.RedundancySet{Nodes: nodes, N: n, W: w, R: rq, D: d}, nil
}

// RunningMembers returns every node the Membership currently considers
// available.
func (r *Resolver) RunningMembers() []objectmodel.Node {
	return r.Membership.RunningMembers()
}

// HasChargeOfNode reports whether node is among the replicas responsible
// for key, i.e. whether node may legitimately hold a copy of it.
func (r *Resolver) HasChargeOfNode(key []byte, node string) bool {
	ids := r.Membership.ring.NodeIDsFromKey(key, r.Cfg.ReplicationN)
	return slices.Contains(ids, node)
}
