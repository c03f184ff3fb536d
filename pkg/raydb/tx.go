package raydb

import (
	"errors"
	"fmt"

	"github.com/raydb/raydb/pkg/legacy"
	"github.com/raydb/raydb/pkg/mvcc"
	"github.com/raydb/raydb/pkg/storage"
	"github.com/raydb/raydb/pkg/wal"
)

// ErrUnsupportedInLegacyTx is returned by transaction-scoped operations the
// badger-backed legacy engine's reduced Transaction API cannot express
// (it only offers CreateNode/AddEdge/GetNode mid-transaction). Callers on
// the badger backend that need finer-grained ops must issue them through
// the db-level (non-transactional) surface instead.
var ErrUnsupportedInLegacyTx = errors.New("raydb: operation not supported inside a badger-backend transaction")

// Tx is a single write (or read-write) transaction. Obtained from
// Engine.Begin, and must end in exactly one call to Commit or Rollback.
type Tx struct {
	e    *Engine
	done bool

	// Native backend.
	mvccTx *mvcc.Transaction
	// held reports whether this Tx is holding e.writeMu for its entire
	// lifetime: true when cfg.MVCC is false, giving true single-writer
	// serialization (see Engine.writeMu's doc comment). When true,
	// mvcc.Manager's own conflict check can never fire.
	held bool
	ops  []func(*storage.Delta) // staged delta mutations, applied at Commit

	// Legacy (badger) backend.
	legacyTx *legacy.Transaction
}

// Begin starts a new transaction.
func (e *Engine) Begin() (*Tx, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.isNative() {
		lt, err := e.legacyEngine.Begin()
		if err != nil {
			return nil, err
		}
		return &Tx{e: e, legacyTx: lt}, nil
	}

	held := !e.cfg.MVCC
	if held {
		e.writeMu.Lock()
	}
	mvccTx := e.mvccMgr.BeginTx()
	if err := e.appendWAL(wal.Record{Type: wal.TypeBegin, TxID: mvccTx.TxID}); err != nil {
		e.mvccMgr.RollbackTx(mvccTx)
		if held {
			e.writeMu.Unlock()
		}
		return nil, err
	}
	return &Tx{e: e, mvccTx: mvccTx, held: held}, nil
}

func (t *Tx) checkActive() error {
	if t.done {
		return fmt.Errorf("raydb: transaction already committed or rolled back")
	}
	return nil
}

// Commit validates the transaction against first-committer-wins (a no-op
// when cfg.MVCC is false, since no other writer could have run
// concurrently), durably appends the WAL commit record, and only then
// applies every staged write to the version pool and the delta overlay.
// That order matters: spec.md §4.3 requires "only then is the delta (and
// version chains) updated in memory" once the WAL append has actually
// landed, and §7 requires "a commit fsync failure must be treated as a
// commit failure (do not update delta)". Validating conflicts before the
// WAL write (rather than after, as a single CommitTx call would) keeps a
// WalBufferFull/IO failure from ever leaving a transaction's writes visible
// to other readers on this engine handle with no corresponding WAL record.
func (t *Tx) Commit() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	t.done = true

	if t.legacyTx != nil {
		return t.legacyTx.Commit()
	}

	e := t.e
	if !t.held {
		// MVCC-enabled mode: Begin did not hold writeMu, so the commit
		// below needs its own short critical section.
		e.writeMu.Lock()
	}

	if err := e.mvccMgr.ValidateCommit(t.mvccTx); err != nil {
		e.mvccMgr.RollbackTx(t.mvccTx)
		e.writeMu.Unlock()
		return err
	}
	if err := e.appendWAL(wal.Record{Type: wal.TypeCommit, TxID: t.mvccTx.TxID}); err != nil {
		e.mvccMgr.RollbackTx(t.mvccTx)
		e.writeMu.Unlock()
		return err
	}
	e.mvccMgr.FinalizeCommit(t.mvccTx)
	for _, op := range t.ops {
		op(e.delta)
	}
	e.walBytesSinceCheckpoint += walRecordApproxSize
	// runCheckpoint takes writeMu itself, so it must be released first.
	e.writeMu.Unlock()
	e.maybeCheckpoint()
	return nil
}

// walRecordApproxSize is a coarse per-commit accounting unit for the
// auto-checkpoint fill-ratio heuristic; Stats reports the same running
// approximation as WALBytes rather than the container's exact byte count.
const walRecordApproxSize = 64

// Rollback discards every staged write. Per spec.md §5 "Cancellation", no
// COMMIT record is ever written for this txid, so recovery already treats
// it as if it never happened — Rollback's WAL record (if any) is purely
// diagnostic.
func (t *Tx) Rollback() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	t.done = true

	if t.legacyTx != nil {
		t.legacyTx.Rollback()
		return nil
	}

	e := t.e
	e.mvccMgr.RollbackTx(t.mvccTx)
	_ = e.appendWAL(wal.Record{Type: wal.TypeRollback, TxID: t.mvccTx.TxID})
	if t.held {
		e.writeMu.Unlock()
	}
	return nil
}

// visibleNode returns the state of id as seen by this transaction: a
// write already buffered by it, the newest version committed at or before
// its start, or (on a first touch) the latest-committed snapshot+delta
// merge. Read ops additionally RecordRead so a later conflicting writer
// is caught at commit time.
func (t *Tx) visibleNode(id storage.NodeID) (*nodeState, bool) {
	key := nodeMVCCKey(id)
	t.mvccTx.RecordRead(key)
	if data, deleted, ok := t.mvccTx.Visible(key); ok {
		if deleted {
			return nil, false
		}
		ns := data.(nodeState)
		return &ns, true
	}
	if t.mvccTx.Tracked(key) {
		// A chain exists for id, but nothing in it predates this
		// transaction's StartTs: id did not exist as of this snapshot.
		// Falling through to the live merge here would leak a concurrent
		// writer's phantom (spec.md §8 scenario S6).
		return nil, false
	}
	n, ok := mergedNode(t.e.snap, t.e.delta, id)
	if !ok {
		return nil, false
	}
	return &nodeState{Key: n.Key, Labels: n.Labels, Props: n.Props}, true
}

func (t *Tx) visibleEdge(k storage.EdgeKey) (*edgeState, bool) {
	key := edgeMVCCKey(k)
	t.mvccTx.RecordRead(key)
	if data, deleted, ok := t.mvccTx.Visible(key); ok {
		if deleted {
			return nil, false
		}
		es := data.(edgeState)
		return &es, true
	}
	if t.mvccTx.Tracked(key) {
		return nil, false
	}
	props := t.e.delta.EdgeProps(k)
	return &edgeState{Props: props}, true
}

// CreateNode creates a node, returning its freshly allocated ID.
func (t *Tx) CreateNode(key string, labels []storage.LabelID, props map[storage.PropKeyID]storage.Value) (storage.NodeID, error) {
	if t.legacyTx != nil {
		id := t.e.allocNodeID()
		if err := t.legacyTx.CreateNode(&storage.Node{ID: id, Key: key, Labels: labels, Props: props}); err != nil {
			return 0, err
		}
		return id, nil
	}
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	id := t.e.allocNodeID()
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeCreateNode, TxID: t.mvccTx.TxID, Payload: wal.EncodeCreateNode(id, key, labels)}); err != nil {
		return 0, err
	}
	t.mvccTx.Put(nodeMVCCKey(id), nodeState{Key: key, Labels: cloneLabels(labels), Props: cloneValueMap(props)})
	t.ops = append(t.ops, func(d *storage.Delta) { d.CreateNode(id, key, labels, props) })
	return id, nil
}

// DeleteNode removes a node and, implicitly, every edge incident to it.
func (t *Tx) DeleteNode(id storage.NodeID) error {
	if t.legacyTx != nil {
		return ErrUnsupportedInLegacyTx
	}
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeDeleteNode, TxID: t.mvccTx.TxID, Payload: wal.EncodeDeleteNode(id)}); err != nil {
		return err
	}
	t.mvccTx.Delete(nodeMVCCKey(id))
	t.ops = append(t.ops, func(d *storage.Delta) { d.DeleteNode(id) })
	return nil
}

// AddEdge adds an edge; re-adding an existing (src, etype, dst) triple is
// idempotent at the delta layer.
func (t *Tx) AddEdge(src storage.NodeID, etype storage.ETypeID, dst storage.NodeID) error {
	k := storage.EdgeKey{Src: src, EType: etype, Dst: dst}
	if t.legacyTx != nil {
		return t.legacyTx.AddEdge(k, nil)
	}
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeAddEdge, TxID: t.mvccTx.TxID, Payload: wal.EncodeEdge(k)}); err != nil {
		return err
	}
	t.mvccTx.Put(edgeMVCCKey(k), edgeState{})
	t.ops = append(t.ops, func(d *storage.Delta) { d.AddEdge(k) })
	return nil
}

// DeleteEdge removes an edge.
func (t *Tx) DeleteEdge(src storage.NodeID, etype storage.ETypeID, dst storage.NodeID) error {
	if t.legacyTx != nil {
		return ErrUnsupportedInLegacyTx
	}
	if err := t.checkActive(); err != nil {
		return err
	}
	k := storage.EdgeKey{Src: src, EType: etype, Dst: dst}
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeDeleteEdge, TxID: t.mvccTx.TxID, Payload: wal.EncodeEdge(k)}); err != nil {
		return err
	}
	t.mvccTx.Delete(edgeMVCCKey(k))
	t.ops = append(t.ops, func(d *storage.Delta) { d.DeleteEdge(k) })
	return nil
}

// SetNodeProp sets (or, given storage.Null, deletes) a node property.
func (t *Tx) SetNodeProp(id storage.NodeID, pk storage.PropKeyID, v storage.Value) error {
	if t.legacyTx != nil {
		return ErrUnsupportedInLegacyTx
	}
	if err := t.checkActive(); err != nil {
		return err
	}
	ns, ok := t.visibleNode(id)
	if !ok {
		return storage.ErrNotFound
	}
	if ns.Props == nil {
		ns.Props = make(map[storage.PropKeyID]storage.Value)
	}
	if v.NullValue() {
		delete(ns.Props, pk)
	} else {
		ns.Props[pk] = v
	}
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeSetNodeProp, TxID: t.mvccTx.TxID, Payload: wal.EncodeNodeProp(id, pk, v)}); err != nil {
		return err
	}
	t.mvccTx.Put(nodeMVCCKey(id), *ns)
	t.ops = append(t.ops, func(d *storage.Delta) { d.SetNodeProp(id, pk, v) })
	return nil
}

// SetEdgeProp sets (or, given storage.Null, deletes) an edge property.
func (t *Tx) SetEdgeProp(src storage.NodeID, etype storage.ETypeID, dst storage.NodeID, pk storage.PropKeyID, v storage.Value) error {
	if t.legacyTx != nil {
		return ErrUnsupportedInLegacyTx
	}
	if err := t.checkActive(); err != nil {
		return err
	}
	k := storage.EdgeKey{Src: src, EType: etype, Dst: dst}
	es, ok := t.visibleEdge(k)
	if !ok {
		return storage.ErrNotFound
	}
	if es.Props == nil {
		es.Props = make(map[storage.PropKeyID]storage.Value)
	}
	if v.NullValue() {
		delete(es.Props, pk)
	} else {
		es.Props[pk] = v
	}
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeSetEdgeProp, TxID: t.mvccTx.TxID, Payload: wal.EncodeEdgeProp(k, pk, v)}); err != nil {
		return err
	}
	t.mvccTx.Put(edgeMVCCKey(k), *es)
	t.ops = append(t.ops, func(d *storage.Delta) { d.SetEdgeProp(k, pk, v) })
	return nil
}

// AddNodeLabel and RemoveNodeLabel toggle a single label on a node.
func (t *Tx) AddNodeLabel(id storage.NodeID, l storage.LabelID) error {
	return t.setNodeLabel(id, l, true)
}

func (t *Tx) RemoveNodeLabel(id storage.NodeID, l storage.LabelID) error {
	return t.setNodeLabel(id, l, false)
}

func (t *Tx) setNodeLabel(id storage.NodeID, l storage.LabelID, add bool) error {
	if t.legacyTx != nil {
		return ErrUnsupportedInLegacyTx
	}
	if err := t.checkActive(); err != nil {
		return err
	}
	ns, ok := t.visibleNode(id)
	if !ok {
		return storage.ErrNotFound
	}
	if add {
		ns.Labels = appendLabelIfMissing(ns.Labels, l)
	} else {
		ns.Labels = removeLabelFrom(ns.Labels, l)
	}
	recType := wal.TypeAddNodeLabel
	if !add {
		recType = wal.TypeRemoveNodeLabel
	}
	if err := t.e.appendWAL(wal.Record{Type: recType, TxID: t.mvccTx.TxID, Payload: wal.EncodeNodeLabel(id, l)}); err != nil {
		return err
	}
	t.mvccTx.Put(nodeMVCCKey(id), *ns)
	t.ops = append(t.ops, func(d *storage.Delta) { d.SetNodeLabel(id, l, add) })
	return nil
}

func appendLabelIfMissing(labels []storage.LabelID, l storage.LabelID) []storage.LabelID {
	for _, have := range labels {
		if have == l {
			return labels
		}
	}
	return append(labels, l)
}

func removeLabelFrom(labels []storage.LabelID, l storage.LabelID) []storage.LabelID {
	out := labels[:0]
	for _, have := range labels {
		if have != l {
			out = append(out, have)
		}
	}
	return out
}

// DefineLabel, DefineEtype, DefinePropkey mint a new dictionary entry and
// return its ID. Dictionary growth is tracked on the engine directly
// (outside the MVCC pool): two concurrent defines of the same name would
// both succeed with distinct IDs rather than conflict, matching how the
// badger backend's caller-assigned-ID dictionaries behave too.
func (t *Tx) DefineLabel(name string) (storage.LabelID, error) {
	if t.legacyTx != nil {
		id := t.e.allocLabelID()
		return id, t.e.legacyEngine.DefineLabel(id, name)
	}
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	id := t.e.allocLabelID()
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeDefineLabel, TxID: t.mvccTx.TxID, Payload: wal.EncodeDefineDict(uint32(id), name)}); err != nil {
		return 0, err
	}
	t.ops = append(t.ops, func(d *storage.Delta) { d.DefineLabel(id, name) })
	return id, nil
}

func (t *Tx) DefineEtype(name string) (storage.ETypeID, error) {
	if t.legacyTx != nil {
		id := t.e.allocEtypeID()
		return id, t.e.legacyEngine.DefineEtype(id, name)
	}
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	id := t.e.allocEtypeID()
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeDefineEtype, TxID: t.mvccTx.TxID, Payload: wal.EncodeDefineDict(uint32(id), name)}); err != nil {
		return 0, err
	}
	t.ops = append(t.ops, func(d *storage.Delta) { d.DefineEtype(id, name) })
	return id, nil
}

func (t *Tx) DefinePropkey(name string) (storage.PropKeyID, error) {
	if t.legacyTx != nil {
		id := t.e.allocPropkeyID()
		return id, t.e.legacyEngine.DefinePropkey(id, name)
	}
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	id := t.e.allocPropkeyID()
	if err := t.e.appendWAL(wal.Record{Type: wal.TypeDefinePropkey, TxID: t.mvccTx.TxID, Payload: wal.EncodeDefineDict(uint32(id), name)}); err != nil {
		return 0, err
	}
	t.ops = append(t.ops, func(d *storage.Delta) { d.DefinePropkey(id, name) })
	return id, nil
}

// GetNode reads id as visible to this transaction.
func (t *Tx) GetNode(id storage.NodeID) (*storage.Node, error) {
	if t.legacyTx != nil {
		return t.legacyTx.GetNode(id)
	}
	ns, ok := t.visibleNode(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Node{ID: id, Key: ns.Key, Labels: ns.Labels, Props: ns.Props}, nil
}

// GetNodeProp reads a single property as visible to this transaction.
func (t *Tx) GetNodeProp(id storage.NodeID, pk storage.PropKeyID) (storage.Value, bool, error) {
	n, err := t.GetNode(id)
	if err != nil {
		return storage.Value{}, false, err
	}
	v, ok := n.Props[pk]
	return v, ok, nil
}

// GetNodeByKey resolves an external key as visible to this transaction.
// Key-index lookups aren't yet tracked per-key in the MVCC pool (only
// whole-node/whole-edge state is), so this falls through to the
// latest-committed delta+snapshot merge — a phantom created by a
// concurrent, not-yet-committed transaction is therefore invisible here,
// which is the correct side of spec.md §8 S6 to err on.
func (t *Tx) GetNodeByKey(key string) (storage.NodeID, bool, error) {
	if t.legacyTx != nil {
		return t.e.legacyEngine.GetNodeByKey(key)
	}
	if err := t.checkActive(); err != nil {
		return 0, false, err
	}
	return t.e.GetNodeByKey(key)
}
