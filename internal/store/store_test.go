package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-objectstore/internal/objectmodel"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(t.TempDir(), "node-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := Key{AddressID: 1, Key: []byte("hello")}

	etag, err := e.Put(ctx, key, objectmodel.Object{
		AddressID: 1,
		Key:       []byte("hello"),
		Data:      []byte("world"),
		DataSize:  5,
		Method:    objectmodel.MethodPut,
	})
	require.NoError(t, err)
	assert.Equal(t, Checksum([]byte("world")), etag)

	meta, obj, err := e.Get(ctx, key, 0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), obj.Data)
	assert.Equal(t, etag, meta.Checksum)
	assert.False(t, meta.Del)
}

func TestGetForcedIntegrityCheckDetectsCorruption(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := Key{AddressID: 1, Key: []byte("k")}

	_, err := e.Put(ctx, key, objectmodel.Object{AddressID: 1, Key: []byte("k"), Data: []byte("abc")})
	require.NoError(t, err)

	// Corrupt the stored record directly to simulate on-disk bitrot.
	ik := key.indexKey()
	rec := e.data[ik]
	rec.data = []byte("tampered")
	e.data[ik] = rec

	_, _, err = e.Get(ctx, key, 0, 0, true)
	assert.ErrorIs(t, err, objectmodel.ErrInvalidData)
}

func TestDeleteWritesTombstone(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := Key{AddressID: 1, Key: []byte("k")}

	_, err := e.Put(ctx, key, objectmodel.Object{AddressID: 1, Key: []byte("k"), Data: []byte("abc")})
	require.NoError(t, err)

	err = e.Delete(ctx, key, objectmodel.Object{AddressID: 1, Key: []byte("k"), Method: objectmodel.MethodDelete})
	require.NoError(t, err)

	_, _, err = e.Get(ctx, key, 0, 0, false)
	assert.ErrorIs(t, err, objectmodel.ErrNotFound)

	meta, err := e.Head(ctx, key)
	require.NoError(t, err)
	assert.True(t, meta.Del)
}

func TestLockedContainerRejectsDuringCompaction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := Key{AddressID: 1, Key: []byte("k")}

	_, err := e.Put(ctx, key, objectmodel.Object{AddressID: 1, Key: []byte("k"), Data: []byte("abc")})
	require.NoError(t, err)

	container := containerOf(key.indexKey())
	e.mu.Lock()
	e.locked[container] = true
	e.mu.Unlock()

	_, _, err = e.Get(ctx, key, 0, 0, false)
	assert.ErrorIs(t, err, objectmodel.ErrLockedContainer)

	_, err = e.Put(ctx, key, objectmodel.Object{AddressID: 1, Key: []byte("k"), Data: []byte("def")})
	assert.ErrorIs(t, err, objectmodel.ErrLockedContainer)

	e.mu.Lock()
	delete(e.locked, container)
	e.mu.Unlock()

	_, _, err = e.Get(ctx, key, 0, 0, false)
	assert.NoError(t, err)
}

func TestFetchByKeyOrdersByKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, k := range []string{"dir/b", "dir/a", "dir/c"} {
		_, err := e.Put(ctx, Key{AddressID: 1, Key: []byte(k)}, objectmodel.Object{
			AddressID: 1, Key: []byte(k), Data: []byte("x"),
		})
		require.NoError(t, err)
	}
	// unrelated key must not match the prefix scan.
	_, err := e.Put(ctx, Key{AddressID: 1, Key: []byte("other")}, objectmodel.Object{
		AddressID: 1, Key: []byte("other"), Data: []byte("x"),
	})
	require.NoError(t, err)

	var seen []string
	err = e.FetchByKey(ctx, []byte("dir/"), func(key []byte, meta objectmodel.Metadata) error {
		seen = append(seen, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/a", "dir/b", "dir/c"}, seen)
}

func TestCompactDataLocksAndUnlocksTargets(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.CompactData(ctx, []objectmodel.ContainerID{"00000001"}, 2, nil)
	require.NoError(t, err)

	e.mu.RLock()
	locked := e.locked["00000001"]
	e.mu.RUnlock()
	assert.False(t, locked, "CompactData must release the lock once the pass completes")
}

func TestCompactDataHonorsOwnership(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var compacted []string
	ownership := func(c objectmodel.ContainerID) bool { return c == "owned" }

	err := e.CompactData(ctx, []objectmodel.ContainerID{"owned", "not-owned"}, 1, ownership)
	require.NoError(t, err)
	_ = compacted
}

func TestSliceRangeInclusive(t *testing.T) {
	data := []byte("0123456789")
	assert.Equal(t, []byte("234"), sliceRange(data, 2, 4))
	assert.Equal(t, []byte("23456789"), sliceRange(data, 2, 0))
	assert.Nil(t, sliceRange(data, 100, 0))
}
