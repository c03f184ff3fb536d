package raydb

import "github.com/raydb/raydb/pkg/storage"

// Db-level ("latest committed", non-transactional) operations — spec.md
// §6's handle|db dual surface. Reads merge the active snapshot with the
// delta overlay directly: since every committed transaction's writes are
// folded into the delta at commit time (tx.go's Commit), that merge IS the
// latest-committed view: these reads never need to consult the MVCC pool.
// Writes are single-operation transactions: Begin, the one mutation,
// Commit, so they go through the exact same WAL/delta/MVCC path a
// multi-operation transaction does.

// GetNode reads id's latest-committed state.
func (e *Engine) GetNode(id storage.NodeID) (*storage.Node, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.isNative() {
		return e.legacyEngine.GetNode(id)
	}
	n, ok := mergedNode(e.snap, e.delta, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return n, nil
}

// GetNodeProp reads a single latest-committed property.
func (e *Engine) GetNodeProp(id storage.NodeID, pk storage.PropKeyID) (storage.Value, bool, error) {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return storage.Value{}, false, err
		}
		return e.legacyEngine.GetNodeProp(id, pk)
	}
	n, err := e.GetNode(id)
	if err != nil {
		return storage.Value{}, false, err
	}
	v, ok := n.Props[pk]
	return v, ok, nil
}

// GetNodeByKey resolves an external key to a NodeID.
func (e *Engine) GetNodeByKey(key string) (storage.NodeID, bool, error) {
	if err := e.checkOpen(); err != nil {
		return 0, false, err
	}
	if !e.isNative() {
		return e.legacyEngine.GetNodeByKey(key)
	}
	if id, tombstoned, overlaid := e.delta.LookupByKey(key); overlaid {
		return id, !tombstoned, nil
	}
	id, ok := e.snap.LookupByKey(key)
	if ok && e.delta.IsDeleted(id) {
		return 0, false, nil
	}
	return id, ok, nil
}

// GetNeighborsOut returns id's out-neighbors, optionally filtered to a
// single edge type.
func (e *Engine) GetNeighborsOut(id storage.NodeID, etype *storage.ETypeID) ([]storage.Neighbor, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.isNative() {
		return e.legacyEngine.GetNeighborsOut(id)
	}
	var base []storage.Neighbor
	if phys, ok := e.snap.GetPhys(id); ok {
		base = e.snap.GetOutEdges(phys)
	}
	add, del := e.delta.OutPatch(id)
	merged := mergedOutNeighbors(e.delta, id, base, add, del)
	return filterByEtype(merged, etype), nil
}

// GetNeighborsIn returns id's in-neighbors, optionally filtered to a
// single edge type.
func (e *Engine) GetNeighborsIn(id storage.NodeID, etype *storage.ETypeID) ([]storage.Neighbor, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !e.isNative() {
		return e.legacyEngine.GetNeighborsIn(id)
	}
	var base []storage.Neighbor
	if phys, ok := e.snap.GetPhys(id); ok {
		base = e.snap.GetInEdges(phys)
	}
	add, del := e.delta.InPatch(id)
	merged := mergedInNeighbors(e.delta, id, base, add, del)
	return filterByEtype(merged, etype), nil
}

func filterByEtype(neighbors []storage.Neighbor, etype *storage.ETypeID) []storage.Neighbor {
	if etype == nil {
		return neighbors
	}
	out := neighbors[:0]
	for _, n := range neighbors {
		if n.EType == *etype {
			out = append(out, n)
		}
	}
	return out
}

// LabelName, EtypeName, PropkeyName resolve a dictionary ID to its name.
func (e *Engine) LabelName(id storage.LabelID) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if !e.isNative() {
		return e.legacyEngine.LabelName(id)
	}
	if int(id) < len(e.dict.Labels) {
		return e.dict.Labels[id], nil
	}
	return "", storage.ErrInvalidID
}

func (e *Engine) EtypeName(id storage.ETypeID) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if !e.isNative() {
		return e.legacyEngine.EtypeName(id)
	}
	if int(id) < len(e.dict.Etypes) {
		return e.dict.Etypes[id], nil
	}
	return "", storage.ErrInvalidID
}

func (e *Engine) PropkeyName(id storage.PropKeyID) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if !e.isNative() {
		return e.legacyEngine.PropkeyName(id)
	}
	if int(id) < len(e.dict.Propkeys) {
		return e.dict.Propkeys[id], nil
	}
	return "", storage.ErrInvalidID
}

// SetNodeProp is the db-level, auto-committing form of Tx.SetNodeProp.
func (e *Engine) SetNodeProp(id storage.NodeID, pk storage.PropKeyID, v storage.Value) error {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return err
		}
		return e.legacyEngine.SetNodeProp(id, pk, v)
	}
	tx, err := e.Begin()
	if err != nil {
		return err
	}
	if err := tx.SetNodeProp(id, pk, v); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateNode is the db-level, auto-committing form of Tx.CreateNode.
func (e *Engine) CreateNode(key string, labels []storage.LabelID, props map[storage.PropKeyID]storage.Value) (storage.NodeID, error) {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return 0, err
		}
		id := e.allocNodeID()
		return id, e.legacyEngine.CreateNode(&storage.Node{ID: id, Key: key, Labels: labels, Props: props})
	}
	tx, err := e.Begin()
	if err != nil {
		return 0, err
	}
	id, err := tx.CreateNode(key, labels, props)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return id, tx.Commit()
}

// DeleteNode is the db-level, auto-committing form of Tx.DeleteNode.
func (e *Engine) DeleteNode(id storage.NodeID) error {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return err
		}
		return e.legacyEngine.DeleteNode(id)
	}
	tx, err := e.Begin()
	if err != nil {
		return err
	}
	if err := tx.DeleteNode(id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AddEdge is the db-level, auto-committing form of Tx.AddEdge.
func (e *Engine) AddEdge(src storage.NodeID, etype storage.ETypeID, dst storage.NodeID) error {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return err
		}
		return e.legacyEngine.AddEdge(storage.EdgeKey{Src: src, EType: etype, Dst: dst}, nil)
	}
	tx, err := e.Begin()
	if err != nil {
		return err
	}
	if err := tx.AddEdge(src, etype, dst); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DeleteEdge is the db-level, auto-committing form of Tx.DeleteEdge.
func (e *Engine) DeleteEdge(src storage.NodeID, etype storage.ETypeID, dst storage.NodeID) error {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return err
		}
		return e.legacyEngine.DeleteEdge(storage.EdgeKey{Src: src, EType: etype, Dst: dst})
	}
	tx, err := e.Begin()
	if err != nil {
		return err
	}
	if err := tx.DeleteEdge(src, etype, dst); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DefineLabel, DefineEtype, DefinePropkey are the db-level, auto-committing
// forms of the Tx dictionary methods.
func (e *Engine) DefineLabel(name string) (storage.LabelID, error) {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return 0, err
		}
		id := e.allocLabelID()
		return id, e.legacyEngine.DefineLabel(id, name)
	}
	tx, err := e.Begin()
	if err != nil {
		return 0, err
	}
	id, err := tx.DefineLabel(name)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return id, tx.Commit()
}

func (e *Engine) DefineEtype(name string) (storage.ETypeID, error) {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return 0, err
		}
		id := e.allocEtypeID()
		return id, e.legacyEngine.DefineEtype(id, name)
	}
	tx, err := e.Begin()
	if err != nil {
		return 0, err
	}
	id, err := tx.DefineEtype(name)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return id, tx.Commit()
}

func (e *Engine) DefinePropkey(name string) (storage.PropKeyID, error) {
	if !e.isNative() {
		if err := e.checkOpen(); err != nil {
			return 0, err
		}
		id := e.allocPropkeyID()
		return id, e.legacyEngine.DefinePropkey(id, name)
	}
	tx, err := e.Begin()
	if err != nil {
		return 0, err
	}
	id, err := tx.DefinePropkey(name)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return id, tx.Commit()
}
