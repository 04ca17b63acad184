package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-objectstore/internal/config"
	"distributed-objectstore/internal/objectmodel"
)

func testConfig() config.Config {
	return config.Config{ReplicationN: 3, WriteQuorum: 2, ReadQuorum: 2, DeleteQuorum: 2}
}

func TestResolverLookupByKeyDeterministic(t *testing.T) {
	nodes := []objectmodel.Node{{ID: "a", Address: "a:1"}, {ID: "b", Address: "b:1"}, {ID: "c", Address: "c:1"}}
	m := NewMembership(nodes, 50)
	r := NewResolver("a", m, testConfig())

	set1, err := r.LookupByKey(OpGet, []byte("hello"))
	require.NoError(t, err)
	set2, err := r.LookupByKey(OpGet, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, set1.Nodes, set2.Nodes, "same key must resolve to the same ordered set")
	assert.Len(t, set1.Nodes, 3)
	assert.Equal(t, uint8(3), set1.N)
	assert.Equal(t, uint8(2), set1.W)
}

func TestResolverPreferPrimaryOnGet(t *testing.T) {
	nodes := []objectmodel.Node{{ID: "a", Address: "a:1"}, {ID: "b", Address: "b:1"}, {ID: "c", Address: "c:1"}}
	m := NewMembership(nodes, 50)
	r := NewResolver("a", m, testConfig())

	set, err := r.LookupByKey(OpGet, []byte("somekey"))
	require.NoError(t, err)
	for i, n := range set.Nodes {
		if n.ID == "a" {
			assert.Equal(t, 0, i, "self must be rotated to the front for a GET")
		}
	}

	// PUT ordering is not rotated.
	putSet, err := r.LookupByKey(OpPut, []byte("somekey"))
	require.NoError(t, err)
	assert.Equal(t, len(set.Nodes), len(putSet.Nodes))
}

func TestResolverNoRedundancyOnEmptyMembership(t *testing.T) {
	m := NewMembership(nil, 50)
	r := NewResolver("a", m, testConfig())

	_, err := r.LookupByKey(OpGet, []byte("key"))
	require.Error(t, err)
	assert.ErrorIs(t, err, objectmodel.ErrNoRedundancy)
}

func TestResolverHasChargeOfNode(t *testing.T) {
	nodes := []objectmodel.Node{{ID: "a", Address: "a:1"}, {ID: "b", Address: "b:1"}}
	m := NewMembership(nodes, 50)
	r := NewResolver("a", m, testConfig())

	set, err := r.LookupByKey(OpGet, []byte("k"))
	require.NoError(t, err)
	for _, n := range set.Nodes {
		assert.True(t, r.HasChargeOfNode([]byte("k"), n.ID))
	}
	assert.False(t, r.HasChargeOfNode([]byte("k"), "nonexistent-node"))
}

func TestRunningMembersExcludesUnavailable(t *testing.T) {
	nodes := []objectmodel.Node{{ID: "a", Address: "a:1"}, {ID: "b", Address: "b:1"}}
	m := NewMembership(nodes, 50)
	m.SetAvailable("b", false)

	r := NewResolver("a", m, testConfig())
	running := r.RunningMembers()
	require.Len(t, running, 1)
	assert.Equal(t, "a", running[0].ID)
}

func TestRingNodeIDsFromKeyDistinct(t *testing.T) {
	r := NewRing(50)
	r.AddNode("x")
	r.AddNode("y")
	r.AddNode("z")

	ids := r.NodeIDsFromKey([]byte("abc"), 3)
	require.Len(t, ids, 3)
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "NodeIDsFromKey must not repeat a physical node")
		seen[id] = true
	}
}

func TestRingRemoveNode(t *testing.T) {
	r := NewRing(20)
	r.AddNode("x")
	r.AddNode("y")
	assert.Equal(t, 2, r.NodeCount())
	r.RemoveNode("x")
	assert.Equal(t, 1, r.NodeCount())
	ids := r.NodeIDsFromKey([]byte("k"), 2)
	assert.Equal(t, []string{"y"}, ids)
}
