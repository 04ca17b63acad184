package handler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-objectstore/internal/config"
	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/queue"
	"distributed-objectstore/internal/readrepair"
	"distributed-objectstore/internal/replication"
	"distributed-objectstore/internal/ring"
	"distributed-objectstore/internal/rpcclient"
	"distributed-objectstore/internal/store"
)

func singleNodeHandler(t *testing.T, local store.Facade) (*Handler, *queue.Broker) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ReplicationN = 1
	cfg.WriteQuorum = 1
	cfg.ReadQuorum = 1
	cfg.DeleteQuorum = 1

	m := ring.NewMembership([]objectmodel.Node{{ID: "self", Address: "self:1"}}, 10)
	resolver := ring.NewResolver("self", m, cfg)

	var peers rpcclient.Client // never dialed: the only node is self
	rep := replication.New("self", resolver, local, peers)
	rr := readrepair.New(rep, nil)
	q := queue.NewBroker(1)

	h := &Handler{
		SelfID:      "self",
		Resolver:    resolver,
		Replication: rep,
		ReadRepair:  rr,
		Local:       local,
		Peers:       peers,
		Queues:      q,
	}
	return h, q
}

func TestPutGetRoundTrip(t *testing.T) {
	engine, err := store.New(t.TempDir(), "self")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	h, _ := singleNodeHandler(t, engine)
	ctx := context.Background()

	addr := h.Resolver.Membership.VnodeIDOf([]byte("k"))
	_, err = h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte("k"), Data: []byte("v")}, 1, 1)
	require.NoError(t, err)

	meta, obj, err := h.Get(ctx, objectmodel.ReadParams{AddressID: addr, Key: []byte("k")})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), obj.Data)
	assert.False(t, meta.Del)
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	engine, err := store.New(t.TempDir(), "self")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	h, _ := singleNodeHandler(t, engine)
	ctx := context.Background()
	addr := h.Resolver.Membership.VnodeIDOf([]byte("k"))

	_, err = h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte("k"), Data: []byte("v")}, 1, 1)
	require.NoError(t, err)

	err = h.Delete(ctx, objectmodel.Object{AddressID: addr, Key: []byte("k")}, 2, 2, false)
	require.NoError(t, err)

	_, _, err = h.Get(ctx, objectmodel.ReadParams{AddressID: addr, Key: []byte("k")})
	assert.ErrorIs(t, err, objectmodel.ErrNotFound)
}

func TestPreflightGuardBlocksWhenUnsafe(t *testing.T) {
	engine, err := store.New(t.TempDir(), "self")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	h, _ := singleNodeHandler(t, engine)
	h.Safety = fakeUnsafe{}
	ctx := context.Background()
	addr := h.Resolver.Membership.VnodeIDOf([]byte("k"))

	_, err = h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte("k"), Data: []byte("v")}, 1, 1)
	assert.ErrorIs(t, err, objectmodel.ErrUnavailable)

	_, _, err = h.Get(ctx, objectmodel.ReadParams{AddressID: addr, Key: []byte("k")})
	assert.ErrorIs(t, err, objectmodel.ErrUnavailable)

	err = h.Delete(ctx, objectmodel.Object{AddressID: addr, Key: []byte("k")}, 1, 1, false)
	assert.ErrorIs(t, err, objectmodel.ErrUnavailable)
}

type fakeUnsafe struct{}

func (fakeUnsafe) FindNotSafeItems(exclude map[string]bool) []string {
	return []string{"container-1"}
}

// fakeChunkedStore is a store.Facade stand-in whose Head reports a fixed
// chunk count, so tearDownChunks can be exercised without needing the
// reference engine to expose a way to seed Cnumber directly.
type fakeChunkedStore struct {
	mu         sync.Mutex
	cnumber    uint32
	deletes    [][]byte
	puts       []objectmodel.Object
	failDelete map[string]error
}

func (f *fakeChunkedStore) Get(ctx context.Context, key store.Key, startPos, endPos uint64, forced bool) (objectmodel.Metadata, objectmodel.Object, error) {
	return objectmodel.Metadata{}, objectmodel.Object{}, objectmodel.ErrNotFound
}
func (f *fakeChunkedStore) Put(ctx context.Context, key store.Key, obj objectmodel.Object) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, obj)
	return 1, nil
}
func (f *fakeChunkedStore) Delete(ctx context.Context, key store.Key, obj objectmodel.Object) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failDelete[string(key.Key)]; err != nil {
		return err
	}
	f.deletes = append(f.deletes, append([]byte(nil), key.Key...))
	return nil
}
func (f *fakeChunkedStore) Head(ctx context.Context, key store.Key) (objectmodel.Metadata, error) {
	return objectmodel.Metadata{Cnumber: f.cnumber}, nil
}
func (f *fakeChunkedStore) HeadWithMD5(ctx context.Context, key store.Key, acc []byte) (objectmodel.Metadata, []byte, error) {
	return objectmodel.Metadata{}, acc, nil
}
func (f *fakeChunkedStore) FetchByKey(ctx context.Context, prefix []byte, visitor func([]byte, objectmodel.Metadata) error) error {
	return nil
}
func (f *fakeChunkedStore) CompactData(ctx context.Context, targets []objectmodel.ContainerID, parallelism int, ownership func(objectmodel.ContainerID) bool) error {
	return nil
}

func TestChunkedDeleteTeardownDeletesEachChunk(t *testing.T) {
	fake := &fakeChunkedStore{cnumber: 2}
	h, _ := singleNodeHandler(t, fake)
	ctx := context.Background()
	addr := h.Resolver.Membership.VnodeIDOf([]byte("parent"))

	_, err := h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte("parent"), Del: true}, 1, 1)
	require.NoError(t, err)

	require.Len(t, fake.deletes, 2, "both chunks must be torn down before the parent delete")
	assert.Equal(t, chunkKey([]byte("parent"), 2), fake.deletes[0])
	assert.Equal(t, chunkKey([]byte("parent"), 1), fake.deletes[1])

	require.Len(t, fake.puts, 1, "the parent's own del=true write lands as a PUT")
	assert.True(t, fake.puts[0].Del)
}

func TestChunkedDeleteAbortsParentOnSubDeleteFailure(t *testing.T) {
	fake := &fakeChunkedStore{cnumber: 2, failDelete: map[string]error{}}
	h, _ := singleNodeHandler(t, fake)
	ctx := context.Background()
	addr := h.Resolver.Membership.VnodeIDOf([]byte("parent"))
	fake.failDelete[string(chunkKey([]byte("parent"), 1))] = assert.AnError

	_, err := h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte("parent"), Del: true}, 1, 1)
	require.Error(t, err, "a real chunk-delete failure must abort the parent delete, not be swallowed by the degraded quorum")
	assert.Len(t, fake.deletes, 1, "chunk 2 must have torn down before chunk 1 failed")
	assert.Empty(t, fake.puts, "the parent's own del=true write must never land once a chunk delete fails")
}

func TestChunkedDeleteSkipsTeardownWhenNoChunks(t *testing.T) {
	fake := &fakeChunkedStore{cnumber: 0}
	h, _ := singleNodeHandler(t, fake)
	ctx := context.Background()
	addr := h.Resolver.Membership.VnodeIDOf([]byte("parent"))

	_, err := h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte("parent"), Del: true}, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, fake.deletes)
}

func TestDirectoryDeletePublishesAsyncDeleteForLiveEntries(t *testing.T) {
	engine, err := store.New(t.TempDir(), "self")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	h, q := singleNodeHandler(t, engine)
	ctx := context.Background()

	for _, k := range []string{"dir/a", "dir/b"} {
		addr := h.Resolver.Membership.VnodeIDOf([]byte(k))
		_, err := h.Put(ctx, objectmodel.Object{AddressID: addr, Key: []byte(k), Data: []byte("v")}, 1, 1)
		require.NoError(t, err)
	}

	dirAddr := h.Resolver.Membership.VnodeIDOf([]byte("dir/"))
	err = h.Delete(ctx, objectmodel.Object{AddressID: dirAddr, Key: []byte("dir/")}, 1, 1, true)
	require.NoError(t, err)

	msgs := q.Messages(queue.AsyncDeleteObj)
	assert.Len(t, msgs, 2)
}
