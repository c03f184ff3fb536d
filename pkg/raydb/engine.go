// Package raydb is the top-level engine facade (the "storage engine" of
// spec.md §3): it ties the container (C6), WAL (C3), delta overlay (C2),
// snapshot (C1), MVCC core (C5), and checkpoint compactor (C4) together
// behind the programmatic surface described in spec.md §6.
package raydb

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/raydb/raydb/pkg/checkpoint"
	"github.com/raydb/raydb/pkg/config"
	"github.com/raydb/raydb/pkg/container"
	"github.com/raydb/raydb/pkg/legacy"
	"github.com/raydb/raydb/pkg/mvcc"
	"github.com/raydb/raydb/pkg/storage"
	"github.com/raydb/raydb/pkg/wal"
)

// Engine is a single open database. All exported methods are safe for
// concurrent use; Begin/Commit/Rollback additionally serialize writers per
// cfg.MVCC, described on Engine.writeMu below.
type Engine struct {
	cfg *config.Config
	log *log.Logger

	// writeMu is held for a write transaction's ENTIRE lifetime when MVCC
	// is disabled: Begin acquires it, Commit/Rollback release it. That
	// gives cfg.MVCC==false true single-writer serialization, so
	// mvcc.Manager's conflict check can never fire (there is never a
	// second active writer to conflict with) even though the same
	// Manager machinery drives both modes.
	//
	// When MVCC is enabled, Begin does NOT take writeMu: transactions are
	// allowed to interleave, and only CommitTx's short critical section
	// (already serialized inside mvcc.Manager itself) decides who wins.
	// writeMu is then used only to serialize the commit-time delta-apply
	// step below, which is not safe for concurrent callers.
	writeMu sync.Mutex

	mu     sync.RWMutex // guards everything below
	closed bool

	cont       container.Container
	snap       *storage.Snapshot
	delta      *storage.Delta
	dict       storage.Dictionary
	generation uint64

	mvccMgr   *mvcc.Manager
	compactor *checkpoint.Compactor

	legacyEngine *legacy.Engine // non-nil only when cfg.Backend == "badger"

	nextNodeID    uint64
	nextLabelID   uint32
	nextEtypeID   uint32
	nextPropkeyID uint32

	walBytesSinceCheckpoint uint64

	history commitHistory // commitTs -> wall-clock, feeds the background GC's retention horizon
	stopGC  chan struct{}
	gcDone  chan struct{}
}

// Open opens (or creates, per cfg.CreateIfMissing) the database at path.
// path with a file extension (e.g. "graph.raydb") selects the single-file
// layout; a bare directory path selects the multi-file layout. spec.md §6
// doesn't mandate a selection rule, so this mirrors the common embedded-db
// convention of inferring layout from whether the path names a file.
func Open(path string, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.LoadFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg: cfg,
		log: log.New(io.Discard, "", 0),
	}

	if cfg.Backend == "badger" {
		return openLegacy(e, path, cfg)
	}
	return openNative(e, path, cfg)
}

// SetLogger redirects the engine's diagnostic output (checkpoint
// triggers, GC sweeps); the default discards everything.
func (e *Engine) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	e.log = l
}

func openLegacy(e *Engine, path string, cfg *config.Config) (*Engine, error) {
	le, err := legacy.OpenWithOptions(legacy.Options{DataDir: path, SyncWrites: cfg.SyncMode == "full"})
	if err != nil {
		return nil, err
	}
	e.legacyEngine = le
	return e, nil
}

// openContainer picks the single- or multi-file layout by whether path
// names a file with an extension, then opens it — creating it first if
// it's absent and opts.CreateIfMissing allows that. container.OpenMultiFile
// already folds its own create-if-missing step in; the single-file layout
// needs it done here since CreateSingleFile and OpenSingleFile are
// separate entry points (a single file, unlike a directory, can't be
// opened and populated in one O_CREATE call without first deciding its
// region sizes).
func openContainer(path string, opts container.Options) (container.Container, error) {
	if filepath.Ext(path) == "" {
		return container.OpenMultiFile(path, opts)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !opts.CreateIfMissing {
			return nil, &container.IOError{Op: "stat", Path: path, Cause: err}
		}
		return container.CreateSingleFile(path, opts)
	}
	return container.OpenSingleFile(path, opts)
}

func openNative(e *Engine, path string, cfg *config.Config) (*Engine, error) {
	opts := container.Options{
		ReadOnly:        cfg.ReadOnly,
		CreateIfMissing: cfg.CreateIfMissing,
		PageSize:        cfg.PageSize,
		WALSize:         uint64(cfg.WALSize),
	}
	if cfg.EncryptionKeyPath != "" {
		key, err := os.ReadFile(cfg.EncryptionKeyPath)
		if err != nil {
			return nil, fmt.Errorf("raydb: read encryption key: %w", err)
		}
		opts.EncryptionKey = key
	}
	cont, err := openContainer(path, opts)
	if err != nil {
		return nil, err
	}
	e.cont = cont

	generation, snapBytes, err := cont.ActiveGeneration()
	if err != nil {
		cont.Close()
		return nil, err
	}
	snap, err := storage.OpenSnapshotBytes(snapBytes)
	if err != nil {
		cont.Close()
		return nil, err
	}
	e.snap = snap
	e.generation = generation
	e.dict = snapshotDictionary(snap)

	e.nextNodeID = uint64(snap.MaxNodeID()) + 1
	e.nextLabelID = uint32(len(e.dict.Labels))
	e.nextEtypeID = uint32(len(e.dict.Etypes))
	e.nextPropkeyID = uint32(len(e.dict.Propkeys))

	delta := storage.NewDelta()

	// Peek the container's own persisted counters (meaningful for
	// single-file, which round-trips NextTxID/LastCommitTs through its
	// header; a no-op baseline of 0/0 for multi-file, whose manifest
	// deliberately omits those fields per spec.md §6). NextTxID/
	// NextCommitTs both atomically increment-and-return, so peeking costs
	// one throwaway counter value, which is harmless since both are
	// monotonic seeds, not identifiers anyone persists.
	seedTxID := cont.NextTxID() - 1
	seedCommitTs := cont.NextCommitTs() - 1

	res, err := cont.RecoverWAL()
	if err != nil {
		snap.Close()
		cont.Close()
		return nil, err
	}
	maxSeenTxID := replayIntoDelta(delta, &e.dict, &e.nextLabelID, &e.nextEtypeID, &e.nextPropkeyID, &e.nextNodeID, res)
	if maxSeenTxID > seedTxID {
		seedTxID = maxSeenTxID
	}
	if maxSeenTxID > seedCommitTs {
		seedCommitTs = maxSeenTxID
	}
	e.delta = delta

	e.mvccMgr = mvcc.NewManager(mvcc.Config{
		RetentionMs:   uint64(cfg.MVCCRetentionMs),
		MaxChainDepth: cfg.MVCCMaxChainDepth,
	}, seedTxID, seedCommitTs)

	e.compactor = checkpoint.New(storage.CompressionNone, true)

	if cfg.MVCC {
		e.startBackgroundGC()
	}

	return e, nil
}

// snapshotDictionary copies a snapshot's label/etype/propkey name arrays
// into a storage.Dictionary the delta overlay and checkpoint compactor can
// extend without touching the (read-only, mmap-backed) snapshot itself.
func snapshotDictionary(snap *storage.Snapshot) storage.Dictionary {
	d := storage.Dictionary{
		Labels:   make([]string, snap.NumLabels()),
		Etypes:   make([]string, snap.NumEtypes()),
		Propkeys: make([]string, snap.NumPropkeys()),
	}
	for i := range d.Labels {
		d.Labels[i] = snap.LabelString(storage.LabelID(i))
	}
	for i := range d.Etypes {
		d.Etypes[i] = snap.EtypeString(storage.ETypeID(i))
	}
	for i := range d.Propkeys {
		d.Propkeys[i] = snap.PropkeyString(storage.PropKeyID(i))
	}
	return d
}

// replayIntoDelta applies every committed WAL record recovered at Open
// directly onto a fresh delta overlay, since no readers or transactions
// exist yet to hand them to the MVCC pool instead (spec.md §8 S4/S5). It
// returns the highest TxID observed, used as a conflict-free floor for
// mvcc.Manager's own counters.
func replayIntoDelta(delta *storage.Delta, dict *storage.Dictionary, nextLabel, nextEtype, nextPropkey *uint32, nextNode *uint64, res wal.RecoveryResult) uint64 {
	var maxTxID uint64
	for _, grp := range res.Committed {
		if grp.TxID > maxTxID {
			maxTxID = grp.TxID
		}
		for _, rec := range grp.Records {
			applyRecord(delta, dict, nextLabel, nextEtype, nextPropkey, nextNode, rec)
		}
	}
	return maxTxID
}

// applyRecord folds one WAL record into delta, growing the engine's
// dictionary and next-ID counters as new labels/etypes/propkeys/nodes are
// observed. TypeBegin/TypeCommit/TypeRollback carry no payload to apply;
// they only bounded the group that replayIntoDelta already used to decide
// which records to replay.
func applyRecord(delta *storage.Delta, dict *storage.Dictionary, nextLabel, nextEtype, nextPropkey *uint32, nextNode *uint64, rec wal.Record) {
	switch rec.Type {
	case wal.TypeBegin, wal.TypeCommit, wal.TypeRollback:
		return
	case wal.TypeCreateNode:
		id, key, labels := wal.DecodeCreateNode(rec.Payload)
		delta.CreateNode(id, key, labels, nil)
		if uint64(id)+1 > *nextNode {
			*nextNode = uint64(id) + 1
		}
	case wal.TypeDeleteNode:
		id := wal.DecodeDeleteNode(rec.Payload)
		delta.DeleteNode(id)
	case wal.TypeAddEdge:
		k := wal.DecodeEdge(rec.Payload)
		delta.AddEdge(k)
	case wal.TypeDeleteEdge:
		k := wal.DecodeEdge(rec.Payload)
		delta.DeleteEdge(k)
	case wal.TypeDefineLabel:
		id, name := wal.DecodeDefineDict(rec.Payload)
		delta.DefineLabel(storage.LabelID(id), name)
		growDict(&dict.Labels, id, name)
		if id+1 > *nextLabel {
			*nextLabel = id + 1
		}
	case wal.TypeDefineEtype:
		id, name := wal.DecodeDefineDict(rec.Payload)
		delta.DefineEtype(storage.ETypeID(id), name)
		growDict(&dict.Etypes, id, name)
		if id+1 > *nextEtype {
			*nextEtype = id + 1
		}
	case wal.TypeDefinePropkey:
		id, name := wal.DecodeDefineDict(rec.Payload)
		delta.DefinePropkey(storage.PropKeyID(id), name)
		growDict(&dict.Propkeys, id, name)
		if id+1 > *nextPropkey {
			*nextPropkey = id + 1
		}
	case wal.TypeAddNodeLabel:
		id, l := wal.DecodeNodeLabel(rec.Payload)
		delta.SetNodeLabel(id, l, true)
	case wal.TypeRemoveNodeLabel:
		id, l := wal.DecodeNodeLabel(rec.Payload)
		delta.SetNodeLabel(id, l, false)
	case wal.TypeSetNodeProp:
		id, pk, v := wal.DecodeNodeProp(rec.Payload)
		delta.SetNodeProp(id, pk, v)
	case wal.TypeDelNodeProp:
		id, pk := wal.DecodeDelNodeProp(rec.Payload)
		delta.SetNodeProp(id, pk, storage.Null)
	case wal.TypeSetEdgeProp:
		k, pk, v := wal.DecodeEdgeProp(rec.Payload)
		delta.SetEdgeProp(k, pk, v)
	case wal.TypeDelEdgeProp:
		k, pk := wal.DecodeDelEdgeProp(rec.Payload)
		delta.SetEdgeProp(k, pk, storage.Null)
	}
}

func growDict(arr *[]string, id uint32, name string) {
	for uint32(len(*arr)) <= id {
		*arr = append(*arr, "")
	}
	(*arr)[id] = name
}

// Close flushes and releases every resource Open acquired. A database
// opened with cfg.Backend == "badger" closes its badger handle instead of
// the native container stack.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.stopGC != nil {
		close(e.stopGC)
		<-e.gcDone
	}

	if e.legacyEngine != nil {
		return e.legacyEngine.Close()
	}
	if err := e.snap.Close(); err != nil {
		e.cont.Close()
		return err
	}
	return e.cont.Close()
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return fmt.Errorf("raydb: use of closed engine")
	}
	return nil
}

// isNative reports whether this Engine is backed by the container/delta
// stack (true) rather than pkg/legacy's badger-backed engine (false).
func (e *Engine) isNative() bool { return e.legacyEngine == nil }

// allocNodeID, allocLabelID, allocEtypeID, allocPropkeyID hand out the next
// free ID from each of the engine's monotonic counters (spec.md §9
// "next_node_id, next_label_id, etc... advanced under single-writer
// discipline"). Plain atomic adds are enough: whether or not MVCC allows
// interleaved transactions, two transactions must never receive the same
// ID, and nothing about ID assignment itself needs ordering against any
// other field.
func (e *Engine) allocNodeID() storage.NodeID {
	return storage.NodeID(atomic.AddUint64(&e.nextNodeID, 1) - 1)
}

func (e *Engine) allocLabelID() storage.LabelID {
	return storage.LabelID(atomic.AddUint32(&e.nextLabelID, 1) - 1)
}

func (e *Engine) allocEtypeID() storage.ETypeID {
	return storage.ETypeID(atomic.AddUint32(&e.nextEtypeID, 1) - 1)
}

func (e *Engine) allocPropkeyID() storage.PropKeyID {
	return storage.PropKeyID(atomic.AddUint32(&e.nextPropkeyID, 1) - 1)
}

// appendWAL appends rec to the active container and, under cfg.SyncMode ==
// "full", fsyncs immediately — per-record durability for the strict mode;
// "batch"/"off" defer the fsync to commit time or skip it entirely (spec.md
// §6 sync-mode options).
func (e *Engine) appendWAL(rec wal.Record) error {
	if err := e.cont.AppendWAL(rec); err != nil {
		return err
	}
	if e.cfg.SyncMode == "full" || (e.cfg.SyncMode == "batch" && rec.Type == wal.TypeCommit) {
		return e.cont.SyncWAL()
	}
	return nil
}

