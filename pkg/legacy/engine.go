// Package legacy is RayDB's badger-backed engine: the migration path for
// callers who ran with Options.MVCC == false before the CSR/WAL/MVCC
// machinery (pkg/storage, pkg/wal, pkg/mvcc) existed. It stores the same
// node/edge/label/property model as the rest of RayDB, but keeps it in a
// BadgerDB LSM tree instead of a memory-mapped CSR snapshot, trading
// RayDB's single-writer-many-readers MVCC design for Badger's own
// transaction isolation.
//
// Key Structure:
//   - Nodes: 0x01 + nodeID(8 bytes BE) -> wireNode
//   - Edges: 0x02 + src(8) + etype(4) + dst(8) -> wireEdge
//   - Label index: 0x03 + labelID(4) + 0x00 + nodeID(8) -> empty
//   - Outgoing index: 0x04 + src(8) + etype(4) + dst(8) -> empty
//   - Incoming index: 0x05 + dst(8) + etype(4) + src(8) -> empty
//   - Dictionary: 0x06 + kind(1) + id(4) -> name bytes
//   - Key index: 0x07 + key bytes -> nodeID(8 bytes BE)
//
// This package is additive: it gives Options.Backend == "badger" a real
// implementation, not a replacement for the snapshot+delta+WAL engine.
package legacy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/raydb/raydb/pkg/storage"
)

var (
	ErrClosed     = errors.New("legacy: engine closed")
	ErrNotFound   = storage.ErrNotFound
	ErrExists     = storage.ErrAlreadyExists
	ErrInvalidID  = storage.ErrInvalidID
	ErrInvalidKey = errors.New("legacy: invalid key")
)

const (
	prefixNode       = byte(0x01)
	prefixEdge       = byte(0x02)
	prefixLabelIndex = byte(0x03)
	prefixOutIndex   = byte(0x04)
	prefixInIndex    = byte(0x05)
	prefixDict       = byte(0x06)
	prefixKeyIndex   = byte(0x07)
)

const (
	dictLabel   = byte(1)
	dictEtype   = byte(2)
	dictPropkey = byte(3)
)

// Options configures a badger-backed Engine. It mirrors the teacher's
// BadgerOptions shape, trimmed to the knobs this engine actually exposes.
type Options struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
	LowMemory  bool
	Logger     badger.Logger
}

// Engine is a badger-backed implementation of RayDB's node/edge/property
// model, used when Options.MVCC == false and Options.Backend == "badger".
type Engine struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a badger-backed Engine rooted at dataDir.
func Open(dataDir string) (*Engine, error) {
	return OpenWithOptions(Options{DataDir: dataDir})
}

// OpenInMemory creates a badger-backed Engine with no on-disk footprint,
// for tests that want persistence semantics without real file I/O.
func OpenInMemory() (*Engine, error) {
	return OpenWithOptions(Options{InMemory: true})
}

// OpenWithOptions opens a badger-backed Engine with full control over
// durability and memory trade-offs.
func OpenWithOptions(opts Options) (*Engine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(16 << 20).
			WithIndexCacheSize(8 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("legacy: open badger at %s: %w", opts.DataDir, err)
	}

	return &Engine{db: db}, nil
}

// Close releases the underlying badger database. Safe to call more than
// once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// --- key encoding ---

func nodeKey(id storage.NodeID) []byte {
	buf := make([]byte, 9)
	buf[0] = prefixNode
	binary.BigEndian.PutUint64(buf[1:], uint64(id))
	return buf
}

func edgeKey(k storage.EdgeKey) []byte {
	buf := make([]byte, 21)
	buf[0] = prefixEdge
	binary.BigEndian.PutUint64(buf[1:9], uint64(k.Src))
	binary.BigEndian.PutUint32(buf[9:13], uint32(k.EType))
	binary.BigEndian.PutUint64(buf[13:21], uint64(k.Dst))
	return buf
}

func labelIndexKey(l storage.LabelID, id storage.NodeID) []byte {
	buf := make([]byte, 14)
	buf[0] = prefixLabelIndex
	binary.BigEndian.PutUint32(buf[1:5], uint32(l))
	buf[5] = 0x00
	binary.BigEndian.PutUint64(buf[6:14], uint64(id))
	return buf
}

func labelIndexPrefix(l storage.LabelID) []byte {
	buf := make([]byte, 6)
	buf[0] = prefixLabelIndex
	binary.BigEndian.PutUint32(buf[1:5], uint32(l))
	buf[5] = 0x00
	return buf
}

func outIndexKey(k storage.EdgeKey) []byte {
	buf := make([]byte, 21)
	buf[0] = prefixOutIndex
	binary.BigEndian.PutUint64(buf[1:9], uint64(k.Src))
	binary.BigEndian.PutUint32(buf[9:13], uint32(k.EType))
	binary.BigEndian.PutUint64(buf[13:21], uint64(k.Dst))
	return buf
}

func outIndexPrefix(src storage.NodeID) []byte {
	buf := make([]byte, 9)
	buf[0] = prefixOutIndex
	binary.BigEndian.PutUint64(buf[1:9], uint64(src))
	return buf
}

func inIndexKey(k storage.EdgeKey) []byte {
	buf := make([]byte, 21)
	buf[0] = prefixInIndex
	binary.BigEndian.PutUint64(buf[1:9], uint64(k.Dst))
	binary.BigEndian.PutUint32(buf[9:13], uint32(k.EType))
	binary.BigEndian.PutUint64(buf[13:21], uint64(k.Src))
	return buf
}

func inIndexPrefix(dst storage.NodeID) []byte {
	buf := make([]byte, 9)
	buf[0] = prefixInIndex
	binary.BigEndian.PutUint64(buf[1:9], uint64(dst))
	return buf
}

func dictKey(kind byte, id uint32) []byte {
	buf := make([]byte, 6)
	buf[0] = prefixDict
	buf[1] = kind
	binary.BigEndian.PutUint32(buf[2:], id)
	return buf
}

func keyIndexKey(key string) []byte {
	buf := make([]byte, 1+len(key))
	buf[0] = prefixKeyIndex
	copy(buf[1:], key)
	return buf
}

func extractEdgeFromIndexKey(k []byte, fromDst bool) storage.EdgeKey {
	a := storage.NodeID(binary.BigEndian.Uint64(k[1:9]))
	etype := storage.ETypeID(binary.BigEndian.Uint32(k[9:13]))
	b := storage.NodeID(binary.BigEndian.Uint64(k[13:21]))
	if fromDst {
		return storage.EdgeKey{Src: b, EType: etype, Dst: a}
	}
	return storage.EdgeKey{Src: a, EType: etype, Dst: b}
}
