package readrepair

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/replication"
	"distributed-objectstore/internal/rpcclient"
	"distributed-objectstore/internal/store"
)

type fakeLocal struct {
	mu        sync.Mutex
	heads     map[string]objectmodel.Metadata
	getObj    map[string]objectmodel.Object
	getErr    map[string]error
	putCalled int
	delCalled int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{heads: map[string]objectmodel.Metadata{}, getObj: map[string]objectmodel.Object{}, getErr: map[string]error{}}
}

func (f *fakeLocal) Get(ctx context.Context, key store.Key, startPos, endPos uint64, forced bool) (objectmodel.Metadata, objectmodel.Object, error) {
	name := string(key.Key)
	if err, ok := f.getErr[name]; ok {
		return objectmodel.Metadata{}, objectmodel.Object{}, err
	}
	return f.heads[name], f.getObj[name], nil
}
func (f *fakeLocal) Put(ctx context.Context, key store.Key, obj objectmodel.Object) (uint64, error) {
	f.mu.Lock()
	f.putCalled++
	f.mu.Unlock()
	return 0, nil
}
func (f *fakeLocal) Delete(ctx context.Context, key store.Key, obj objectmodel.Object) error {
	f.mu.Lock()
	f.delCalled++
	f.mu.Unlock()
	return nil
}
func (f *fakeLocal) Head(ctx context.Context, key store.Key) (objectmodel.Metadata, error) {
	name := string(key.Key)
	if err, ok := f.getErr[name]; ok {
		return objectmodel.Metadata{}, err
	}
	return f.heads[name], nil
}
func (f *fakeLocal) HeadWithMD5(ctx context.Context, key store.Key, acc []byte) (objectmodel.Metadata, []byte, error) {
	return objectmodel.Metadata{}, acc, nil
}
func (f *fakeLocal) FetchByKey(ctx context.Context, prefix []byte, visitor func([]byte, objectmodel.Metadata) error) error {
	return nil
}
func (f *fakeLocal) CompactData(ctx context.Context, targets []objectmodel.ContainerID, parallelism int, ownership func(objectmodel.ContainerID) bool) error {
	return nil
}

type fakePeers struct {
	mu       sync.Mutex
	getResp  map[string]rpcclient.GetResponse
	getErr   map[string]error
	putCalls map[string]int
	delCalls map[string]int
}

func newFakePeers() *fakePeers {
	return &fakePeers{getResp: map[string]rpcclient.GetResponse{}, getErr: map[string]error{}, putCalls: map[string]int{}, delCalls: map[string]int{}}
}

func (f *fakePeers) Put(ctx context.Context, node objectmodel.Node, req rpcclient.PutRequest) (rpcclient.PutResponse, error) {
	f.mu.Lock()
	f.putCalls[node.ID]++
	f.mu.Unlock()
	return rpcclient.PutResponse{}, nil
}
func (f *fakePeers) Get(ctx context.Context, node objectmodel.Node, req rpcclient.GetRequest) (rpcclient.GetResponse, error) {
	if err, ok := f.getErr[node.ID]; ok {
		return rpcclient.GetResponse{}, err
	}
	return f.getResp[node.ID], nil
}
func (f *fakePeers) Delete(ctx context.Context, node objectmodel.Node, req rpcclient.DeleteRequest) (rpcclient.DeleteResponse, error) {
	f.mu.Lock()
	f.delCalls[node.ID]++
	f.mu.Unlock()
	return rpcclient.DeleteResponse{}, nil
}
func (f *fakePeers) Head(ctx context.Context, node objectmodel.Node, addressID uint32, key []byte) (rpcclient.HeadResponse, error) {
	if err, ok := f.getErr[node.ID]; ok {
		return rpcclient.HeadResponse{}, err
	}
	return rpcclient.HeadResponse{Meta: f.getResp[node.ID].Meta}, nil
}
func (f *fakePeers) Compact(ctx context.Context, node objectmodel.Node, targets []objectmodel.ContainerID) error {
	return nil
}
func (f *fakePeers) CompactionStatus(ctx context.Context, node objectmodel.Node) (objectmodel.CompactionStats, error) {
	return objectmodel.CompactionStats{}, nil
}
func (f *fakePeers) DeleteObjectsUnderDir(ctx context.Context, node objectmodel.Node, prefix []byte) error {
	return nil
}

func TestReadIfMatchShortCircuits(t *testing.T) {
	local := newFakeLocal()
	local.heads["k"] = objectmodel.Metadata{Checksum: 99}
	rep := replication.New("a", nil, local, newFakePeers())
	e := New(rep, nil)

	set := objectmodel.RedundancySet{Nodes: []objectmodel.Node{{ID: "a", Available: true}}, N: 1}
	params := objectmodel.ReadParams{AddressID: 1, Key: []byte("k"), Etag: 99, Quorum: 1}

	meta, _, err := e.Read(context.Background(), params, set)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), meta.Checksum)
}

func TestReadSingleReplicaOnEtagMismatchFetches(t *testing.T) {
	local := newFakeLocal()
	local.heads["k"] = objectmodel.Metadata{Checksum: 1}
	local.getObj["k"] = objectmodel.Object{Data: []byte("fresh")}
	rep := replication.New("a", nil, local, newFakePeers())
	e := New(rep, nil)

	set := objectmodel.RedundancySet{Nodes: []objectmodel.Node{{ID: "a", Available: true}}, N: 1}
	params := objectmodel.ReadParams{AddressID: 1, Key: []byte("k"), Etag: 999, NumOfReplicas: 1, Quorum: 1}

	_, obj, err := e.Read(context.Background(), params, set)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), obj.Data)
}

func TestReadNotSatisfyQuorumWhenTooFewAvailable(t *testing.T) {
	local := newFakeLocal()
	rep := replication.New("a", nil, local, newFakePeers())
	e := New(rep, nil)

	set := objectmodel.RedundancySet{Nodes: []objectmodel.Node{{ID: "a", Available: false}}, N: 1}
	params := objectmodel.ReadParams{AddressID: 1, Key: []byte("k"), Quorum: 1}

	_, _, err := e.Read(context.Background(), params, set)
	require.Error(t, err)
	assert.Equal(t, objectmodel.KindNotSatisfyQuorum, objectmodel.KindOf(err))
}

func TestReadSpawnsBackgroundRepairForRemaining(t *testing.T) {
	local := newFakeLocal()
	local.getErr["k"] = nil
	local.heads["k"] = objectmodel.Metadata{Checksum: 5, Clock: 2}
	local.getObj["k"] = objectmodel.Object{Data: []byte("v")}
	rep := replication.New("a", nil, local, newFakePeers())

	repaired := make(chan struct{}, 1)
	repairer := &fakeRepairer{onRepair: func() { repaired <- struct{}{} }}
	e := New(rep, repairer)

	set := objectmodel.RedundancySet{Nodes: []objectmodel.Node{{ID: "a", Available: true}, {ID: "b", Available: true}}, N: 2}
	params := objectmodel.ReadParams{AddressID: 1, Key: []byte("k"), Quorum: 1}

	_, _, err := e.Read(context.Background(), params, set)
	require.NoError(t, err)

	select {
	case <-repaired:
	case <-time.After(time.Second):
		t.Fatal("expected background repair to be spawned for the remaining replica")
	}
}

type fakeRepairer struct {
	onRepair func()
}

func (f *fakeRepairer) Repair(ctx context.Context, params objectmodel.ReadParams, authoritative objectmodel.Metadata, authoritativeObj objectmodel.Object, remaining []objectmodel.Node, done func(error)) {
	f.onRepair()
	done(nil)
}

func TestStaleComparesClockThenChecksum(t *testing.T) {
	authoritative := objectmodel.Metadata{Clock: 5, Checksum: 100}
	assert.True(t, stale(objectmodel.Metadata{Clock: 4, Checksum: 100}, authoritative))
	assert.True(t, stale(objectmodel.Metadata{Clock: 5, Checksum: 1}, authoritative))
	assert.False(t, stale(objectmodel.Metadata{Clock: 5, Checksum: 100}, authoritative))
	assert.False(t, stale(objectmodel.Metadata{Clock: 6, Checksum: 1}, authoritative))
}

func TestDefaultRepairerCorrectsStaleReplica(t *testing.T) {
	local := newFakeLocal()
	peers := newFakePeers()
	peers.getResp["b"] = rpcclient.GetResponse{Meta: objectmodel.Metadata{Clock: 1}}
	rep := replication.New("a", nil, local, peers)
	r := NewDefaultRepairer(rep, zerolog.Nop())

	authoritative := objectmodel.Metadata{AddressID: 1, Key: []byte("k"), Clock: 5}
	remaining := []objectmodel.Node{{ID: "b", Address: "b:1"}}

	done := make(chan error, 1)
	r.Repair(context.Background(), objectmodel.ReadParams{}, authoritative, objectmodel.Object{}, remaining, func(err error) {
		done <- err
	})
	require.NoError(t, <-done)
	assert.Equal(t, 1, peers.putCalls["b"])
}

func TestDefaultRepairerSkipsUpToDateReplica(t *testing.T) {
	local := newFakeLocal()
	peers := newFakePeers()
	peers.getResp["b"] = rpcclient.GetResponse{Meta: objectmodel.Metadata{Clock: 5, Checksum: 7}}
	rep := replication.New("a", nil, local, peers)
	r := NewDefaultRepairer(rep, zerolog.Nop())

	authoritative := objectmodel.Metadata{AddressID: 1, Key: []byte("k"), Clock: 5, Checksum: 7}
	remaining := []objectmodel.Node{{ID: "b", Address: "b:1"}}

	done := make(chan error, 1)
	r.Repair(context.Background(), objectmodel.ReadParams{}, authoritative, objectmodel.Object{}, remaining, func(err error) {
		done <- err
	})
	require.NoError(t, <-done)
	assert.Equal(t, 0, peers.putCalls["b"])
}
