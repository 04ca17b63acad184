// Package store implements the Local Store Facade (spec.md §4.3): a thin
// contract over the object store primitives (get/put/delete/head/
// head_with_md5/fetch_by_key/compact_data). The on-disk append-only log
// and metadata index engine itself is an external collaborator out of
// scope; this package supplies a reference in-memory engine — built the
// way the teacher's internal/store built its WAL+snapshot map — so the
// Facade has something concrete to run and be tested against.
package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/rs/zerolog"

	"distributed-objectstore/internal/objectmodel"
)

// Key addresses a single object: its address_id plus the raw key bytes.
type Key struct {
	AddressID uint32
	Key       []byte
}

func (k Key) indexKey() string {
	return fmt.Sprintf("%08x:%s", k.AddressID, hex.EncodeToString(k.Key))
}

// Checksum computes the content hash used as Object.Checksum / ETag, the
// way ghjramos-aistore computes object checksums with OneOfOne/xxhash.
func Checksum(data []byte) uint64 {
	return xxhash.Checksum64(data)
}

// Facade is the contract the Replicator, Read-Repair Engine, and Handler
// layer depend on. Every method signature mirrors spec.md §4.3 exactly.
type Facade interface {
	Get(ctx context.Context, key Key, startPos, endPos uint64, forcedIntegrityCheck bool) (objectmodel.Metadata, objectmodel.Object, error)
	Put(ctx context.Context, key Key, obj objectmodel.Object) (etag uint64, err error)
	Delete(ctx context.Context, key Key, obj objectmodel.Object) error
	Head(ctx context.Context, key Key) (objectmodel.Metadata, error)
	HeadWithMD5(ctx context.Context, key Key, accumulator []byte) (objectmodel.Metadata, []byte, error)
	FetchByKey(ctx context.Context, prefix []byte, visitor func(key []byte, meta objectmodel.Metadata) error) error
	CompactData(ctx context.Context, targets []objectmodel.ContainerID, parallelism int, ownership func(objectmodel.ContainerID) bool) error
}

// record is what the engine actually keeps per key: a Metadata envelope
// plus, unless it's a tombstone, the body.
type record struct {
	meta objectmodel.Metadata
	data []byte
}

// Engine is a reference Facade implementation: an in-memory index backed
// by a write-ahead log and periodic snapshots, generalized from the
// teacher's store.Store to the Object/Metadata/chunk model.
type Engine struct {
	mu      sync.RWMutex
	data    map[string]record
	wal     *WAL
	dataDir string
	nodeID  string

	locked map[string]bool // containers currently mid-compaction
}

var _ Facade = (*Engine)(nil)

// New opens or creates an Engine rooted at dataDir, replaying its WAL (and
// any snapshot) the way the teacher's store.New does. log is optional
// (omit it, or pass zerolog.Nop(), in tests) and is used only to surface
// WAL replay warnings.
func New(dataDir, nodeID string, log ...zerolog.Logger) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	e := &Engine{
		data:    make(map[string]record),
		dataDir: dataDir,
		nodeID:  nodeID,
		locked:  make(map[string]bool),
	}
	if err := e.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	walLog := zerolog.Nop()
	if len(log) > 0 {
		walLog = log[0]
	}
	wal, err := newWAL(filepath.Join(dataDir, "wal.log"), walLog)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	e.wal = wal
	if err := e.replayWAL(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	return e, nil
}

// Close flushes and closes the WAL. Call during node shutdown.
func (e *Engine) Close() error {
	return e.wal.close()
}

// Get implements Facade.Get. Ranges are inclusive; zero StartPos/EndPos
// means whole object. forcedIntegrityCheck re-verifies the stored
// checksum before returning.
func (e *Engine) Get(ctx context.Context, key Key, startPos, endPos uint64, forcedIntegrityCheck bool) (objectmodel.Metadata, objectmodel.Object, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ik := key.indexKey()
	if e.locked[containerOf(ik)] {
		return objectmodel.Metadata{}, objectmodel.Object{}, objectmodel.ErrLockedContainer
	}

	rec, ok := e.data[ik]
	if !ok || rec.meta.Del {
		return objectmodel.Metadata{}, objectmodel.Object{}, objectmodel.ErrNotFound
	}

	data := rec.data
	if endPos > 0 || startPos > 0 {
		data = sliceRange(data, startPos, endPos)
	}

	if forcedIntegrityCheck {
		if Checksum(rec.data) != rec.meta.Checksum {
			return objectmodel.Metadata{}, objectmodel.Object{}, objectmodel.ErrInvalidData
		}
	}

	obj := objectmodel.Object{
		AddressID:     rec.meta.AddressID,
		Key:           rec.meta.Key,
		Data:          data,
		DataSize:      uint64(len(data)),
		ContentIndex:  rec.meta.ContentIndex,
		ParentKey:     rec.meta.ParentKey,
		Clock:         rec.meta.Clock,
		Timestamp:     rec.meta.Timestamp,
		Checksum:      rec.meta.Checksum,
		Method:        rec.meta.Method,
		Del:           rec.meta.Del,
		ReqID:         rec.meta.ReqID,
		RingHash:      rec.meta.RingHash,
		NumOfReplicas: rec.meta.NumOfReplicas,
	}
	return rec.meta, obj, nil
}

// Put implements Facade.Put, returning the object's checksum as its ETag.
func (e *Engine) Put(ctx context.Context, key Key, obj objectmodel.Object) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ik := key.indexKey()
	if e.locked[containerOf(ik)] {
		return 0, objectmodel.ErrLockedContainer
	}

	cnumber := uint32(0)
	if existing, ok := e.data[ik]; ok {
		cnumber = existing.meta.Cnumber
	}

	checksum := obj.Checksum
	if checksum == 0 && len(obj.Data) > 0 {
		checksum = Checksum(obj.Data)
	}
	obj.Checksum = checksum
	if obj.DataSize == 0 && len(obj.Data) > 0 {
		obj.DataSize = uint64(len(obj.Data))
	}

	meta := objectmodel.MetadataOf(obj, cnumber)
	if err := e.wal.append(walEntry{Op: walOpPut, Key: ik, Meta: meta, Data: obj.Data}); err != nil {
		return 0, fmt.Errorf("wal append: %w", err)
	}
	e.data[ik] = record{meta: meta, data: obj.Data}
	return checksum, nil
}

// Delete implements Facade.Delete: writes a tombstone carrying the
// mutating Object's clock/timestamp, preserving the prior chunk count so
// HEAD can still report it.
func (e *Engine) Delete(ctx context.Context, key Key, obj objectmodel.Object) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ik := key.indexKey()
	if e.locked[containerOf(ik)] {
		return objectmodel.ErrLockedContainer
	}

	cnumber := uint32(0)
	if existing, ok := e.data[ik]; ok {
		cnumber = existing.meta.Cnumber
	}

	tombstone := obj
	tombstone.Del = true
	tombstone.Data = nil
	tombstone.DataSize = 0
	tombstone.Checksum = 0

	meta := objectmodel.MetadataOf(tombstone, cnumber)
	if err := e.wal.append(walEntry{Op: walOpDelete, Key: ik, Meta: meta}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	e.data[ik] = record{meta: meta}
	return nil
}

// Head implements Facade.Head.
func (e *Engine) Head(ctx context.Context, key Key) (objectmodel.Metadata, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.data[key.indexKey()]
	if !ok {
		return objectmodel.Metadata{}, objectmodel.ErrNotFound
	}
	return rec.meta, nil
}

// HeadWithMD5 implements Facade.HeadWithMD5, folding the object's checksum
// into the caller-supplied accumulator the way a streaming digest would.
func (e *Engine) HeadWithMD5(ctx context.Context, key Key, accumulator []byte) (objectmodel.Metadata, []byte, error) {
	meta, err := e.Head(ctx, key)
	if err != nil {
		return objectmodel.Metadata{}, accumulator, err
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(meta.Checksum >> (8 * i))
	}
	return meta, append(accumulator, buf[:]...), nil
}

// FetchByKey implements Facade.FetchByKey: scans every entry whose key
// begins with prefix, in key order, invoking visitor with its metadata.
func (e *Engine) FetchByKey(ctx context.Context, prefix []byte, visitor func(key []byte, meta objectmodel.Metadata) error) error {
	e.mu.RLock()
	type hit struct {
		key  []byte
		meta objectmodel.Metadata
	}
	var hits []hit
	for _, rec := range e.data {
		if bytes.HasPrefix(rec.meta.Key, prefix) {
			hits = append(hits, hit{key: rec.meta.Key, meta: rec.meta})
		}
	}
	e.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return bytes.Compare(hits[i].key, hits[j].key) < 0 })
	for _, h := range hits {
		if err := visitor(h.key, h.meta); err != nil {
			return err
		}
	}
	return nil
}

// CompactData implements Facade.CompactData: locks each target the
// caller is allowed to compact (per ownership) for the duration of the
// pass, bounded by parallelism concurrent targets at once.
func (e *Engine) CompactData(ctx context.Context, targets []objectmodel.ContainerID, parallelism int, ownership func(objectmodel.ContainerID) bool) error {
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, target := range targets {
		if ownership != nil && !ownership(target) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(t objectmodel.ContainerID) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.compactOne(t); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()
	return firstErr
}

func (e *Engine) compactOne(target objectmodel.ContainerID) error {
	e.mu.Lock()
	e.locked[string(target)] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.locked, string(target))
		e.mu.Unlock()
	}()

	// The real compaction pass (rewriting the append-only log, dropping
	// tombstoned/superseded entries) lives in the on-disk engine, which is
	// out of scope; the reference engine only needs to model the
	// lock/unlock window so callers see LockedContainer correctly.
	return nil
}

func sliceRange(data []byte, start, end uint64) []byte {
	if int(start) > len(data) {
		return nil
	}
	if end == 0 || int(end) >= len(data) {
		return data[start:]
	}
	return data[start : end+1] // inclusive end
}

// containerOf derives the pseudo-container a key belongs to for the
// reference engine's lock simulation: the address_id prefix of its index
// key, so a CompactData pass against one container only ever blocks keys
// sharing that address.
func containerOf(indexKey string) string {
	return indexKey[:8]
}
