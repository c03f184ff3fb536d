package storage

import "sync"

// Delta is the in-memory mutation buffer layered on top of the immutable
// snapshot (spec.md §4.2, C2). All writes after the last checkpoint live
// here; reads merge the delta over the snapshot (spec.md §4.2's four-case
// merge: created, deleted, modified, else pass through to the snapshot).
//
// Delta is safe for concurrent readers against a single writer (RayDB's
// single-writer discipline, spec.md §5): reads take RLock, the one
// in-flight write transaction takes Lock only at apply/commit time.
type Delta struct {
	mu sync.RWMutex

	createdNodes map[NodeID]*NodeDelta
	deletedNodes map[NodeID]struct{}
	modifiedNodes map[NodeID]*NodeDelta

	// outAdd/outDel/inAdd/inDel record edge patches, per source (out) or
	// destination (in), kept sorted by (etype, other) so merging with the
	// snapshot's sorted CSR slice is a single linear pass (spec.md §9
	// "Edge patch arrays are ordered sequences kept sorted by
	// (etype, other)").
	outAdd map[NodeID][]EdgeKey
	outDel map[NodeID][]EdgeKey
	inAdd  map[NodeID][]EdgeKey
	inDel  map[NodeID][]EdgeKey

	edgeProps map[EdgeKey]map[PropKeyID]Value

	newLabels   map[LabelID]string
	newEtypes   map[ETypeID]string
	newPropkeys map[PropKeyID]string

	keyIndex        map[string]NodeID
	keyIndexDeleted map[string]struct{}
}

// NewDelta creates an empty delta overlay, as built fresh after every
// checkpoint (spec.md §4.4: "the delta is cleared").
func NewDelta() *Delta {
	return &Delta{
		createdNodes:    make(map[NodeID]*NodeDelta),
		deletedNodes:    make(map[NodeID]struct{}),
		modifiedNodes:   make(map[NodeID]*NodeDelta),
		outAdd:          make(map[NodeID][]EdgeKey),
		outDel:          make(map[NodeID][]EdgeKey),
		inAdd:           make(map[NodeID][]EdgeKey),
		inDel:           make(map[NodeID][]EdgeKey),
		edgeProps:       make(map[EdgeKey]map[PropKeyID]Value),
		newLabels:       make(map[LabelID]string),
		newEtypes:       make(map[ETypeID]string),
		newPropkeys:     make(map[PropKeyID]string),
		keyIndex:        make(map[string]NodeID),
		keyIndexDeleted: make(map[string]struct{}),
	}
}

// CreateNode records a newly created node. Per §13 open-question decision
// 1, create-then-delete-then-recreate within one generation collapses to a
// single createdNodes entry: if id was already tombstoned in this delta,
// the tombstone is cleared and the entry replaced outright (create-wins).
func (d *Delta) CreateNode(id NodeID, key string, labels []LabelID, props map[PropKeyID]Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.deletedNodes, id)
	delete(d.modifiedNodes, id)
	nd := &NodeDelta{Key: key, Labels: append([]LabelID(nil), labels...), Props: cloneProps(props)}
	d.createdNodes[id] = nd
	if key != "" {
		d.keyIndex[key] = id
		delete(d.keyIndexDeleted, key)
	}
}

// DeleteNode tombstones id. If id was created in this same delta
// generation, the create is simply undone rather than leaving both a
// createdNodes and a deletedNodes entry (spec.md §4.2 invariant: the two
// maps are disjoint): no node tombstone is left, its key is marked deleted
// in the key-index overlay, and the edge patches touching it are dropped.
func (d *Delta) DeleteNode(id NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if created, ok := d.createdNodes[id]; ok {
		if created.Key != "" {
			delete(d.keyIndex, created.Key)
			d.keyIndexDeleted[created.Key] = struct{}{}
		}
		delete(d.createdNodes, id)
		for _, k := range d.outAdd[id] {
			removeEdgeKey(d.inAdd, k.Dst, k)
			delete(d.edgeProps, k)
		}
		for _, k := range d.inAdd[id] {
			removeEdgeKey(d.outAdd, k.Src, k)
			delete(d.edgeProps, k)
		}
		delete(d.outAdd, id)
		delete(d.inAdd, id)
		return
	}
	if mod, ok := d.modifiedNodes[id]; ok && mod.Key != "" {
		d.keyIndexDeleted[mod.Key] = struct{}{}
		delete(d.keyIndex, mod.Key)
	}
	delete(d.modifiedNodes, id)
	d.deletedNodes[id] = struct{}{}
}

// IsDeleted reports whether id was tombstoned in this delta generation.
func (d *Delta) IsDeleted(id NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.deletedNodes[id]
	return ok
}

// SetNodeLabel adds or removes a label on a node that already exists in the
// snapshot (recorded as a modifiedNodes overlay) or was created in this
// delta (folded directly into its Labels).
func (d *Delta) SetNodeLabel(id NodeID, l LabelID, add bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if created, ok := d.createdNodes[id]; ok {
		if add {
			created.Labels = appendUniqueLabel(created.Labels, l)
		} else {
			created.Labels = removeLabel(created.Labels, l)
		}
		return
	}
	mod := d.modifiedNode(id)
	if add {
		mod.AddedLabels = appendUniqueLabel(mod.AddedLabels, l)
		mod.RemovedLabels = removeLabel(mod.RemovedLabels, l)
	} else {
		mod.RemovedLabels = appendUniqueLabel(mod.RemovedLabels, l)
		mod.AddedLabels = removeLabel(mod.AddedLabels, l)
	}
}

// SetNodeProp overlays a property value (or, with Null, deletes it — spec.md
// §4.2 "explicit null wins") for a node.
func (d *Delta) SetNodeProp(id NodeID, pk PropKeyID, v Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if created, ok := d.createdNodes[id]; ok {
		if created.Props == nil {
			created.Props = make(map[PropKeyID]Value)
		}
		created.Props[pk] = v
		return
	}
	mod := d.modifiedNode(id)
	if mod.Props == nil {
		mod.Props = make(map[PropKeyID]Value)
	}
	mod.Props[pk] = v
}

func (d *Delta) modifiedNode(id NodeID) *NodeDelta {
	mod, ok := d.modifiedNodes[id]
	if !ok {
		mod = &NodeDelta{Props: make(map[PropKeyID]Value)}
		d.modifiedNodes[id] = mod
	}
	return mod
}

// AddEdge records a new edge. Patches are inserted keeping the per-source
// (or per-destination) slice sorted by (etype, other).
func (d *Delta) AddEdge(k EdgeKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	removeEdgeKey(d.outDel, k.Src, k)
	insertSortedEdge(d.outAdd, k.Src, k)
	removeEdgeKey(d.inDel, k.Dst, k)
	insertSortedEdge(d.inAdd, k.Dst, k)
}

// DeleteEdge tombstones an edge. Edge property overlays for the deleted
// edge are dropped since the edge no longer exists to carry them.
func (d *Delta) DeleteEdge(k EdgeKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	removeEdgeKey(d.outAdd, k.Src, k)
	insertSortedEdge(d.outDel, k.Src, k)
	removeEdgeKey(d.inAdd, k.Dst, k)
	insertSortedEdge(d.inDel, k.Dst, k)
	delete(d.edgeProps, k)
}

// SetEdgeProp overlays a property on an edge keyed by its (src, etype, dst)
// triple.
func (d *Delta) SetEdgeProp(k EdgeKey, pk PropKeyID, v Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	props, ok := d.edgeProps[k]
	if !ok {
		props = make(map[PropKeyID]Value)
		d.edgeProps[k] = props
	}
	props[pk] = v
}

// OutPatch returns the delta's additions and deletions for id's
// out-adjacency, both sorted by (etype, other).
func (d *Delta) OutPatch(id NodeID) (add, del []EdgeKey) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.outAdd[id], d.outDel[id]
}

// InPatch returns the delta's additions and deletions for id's in-adjacency.
func (d *Delta) InPatch(id NodeID) (add, del []EdgeKey) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inAdd[id], d.inDel[id]
}

// EdgeProps returns the property overlay for edge k, if any.
func (d *Delta) EdgeProps(k EdgeKey) map[PropKeyID]Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.edgeProps[k]
}

// DefineLabel, DefineEtype, and DefinePropkey register a freshly minted
// dictionary entry (spec.md §4.2 "dictionary extensions").
func (d *Delta) DefineLabel(id LabelID, name string)     { d.mu.Lock(); d.newLabels[id] = name; d.mu.Unlock() }
func (d *Delta) DefineEtype(id ETypeID, name string)     { d.mu.Lock(); d.newEtypes[id] = name; d.mu.Unlock() }
func (d *Delta) DefinePropkey(id PropKeyID, name string) { d.mu.Lock(); d.newPropkeys[id] = name; d.mu.Unlock() }

// LookupByKey resolves a key against the delta overlay only: (found, id,
// true) if created/reassigned in this delta, (_, _, true) with ok=false if
// the key was tombstoned in this delta (so the caller must not fall
// through to the snapshot), or (_, _, false) if the delta has no opinion
// and the caller should consult the snapshot.
func (d *Delta) LookupByKey(key string) (id NodeID, tombstoned bool, overlaid bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.keyIndex[key]; ok {
		return id, false, true
	}
	if _, ok := d.keyIndexDeleted[key]; ok {
		return 0, true, true
	}
	return 0, false, false
}

// CreatedNode, ModifiedNode return the delta entries for id, if any. Both
// return ok=false for nodes unaffected by this delta generation.
func (d *Delta) CreatedNode(id NodeID) (*NodeDelta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nd, ok := d.createdNodes[id]
	return nd, ok
}

func (d *Delta) ModifiedNode(id NodeID) (*NodeDelta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nd, ok := d.modifiedNodes[id]
	return nd, ok
}

// Stats reports counters used by the engine-level stats() surface
// (spec.md §6: deltaNodesCreated, deltaNodesDeleted, deltaEdgesAdded,
// deltaEdgesDeleted).
type DeltaStats struct {
	NodesCreated int
	NodesDeleted int
	EdgesAdded   int
	EdgesDeleted int
}

// CreatedNodeIDs, ModifiedNodeIDs, and DeletedNodeIDs enumerate this delta
// generation's affected nodes, for the checkpoint compactor's merge pass
// (spec.md §4.4 step 1-2). Order is unspecified; callers that need a stable
// order (e.g. for deterministic snapshot physical layout) sort the result.
func (d *Delta) CreatedNodeIDs() []NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]NodeID, 0, len(d.createdNodes))
	for id := range d.createdNodes {
		out = append(out, id)
	}
	return out
}

func (d *Delta) ModifiedNodeIDs() []NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]NodeID, 0, len(d.modifiedNodes))
	for id := range d.modifiedNodes {
		out = append(out, id)
	}
	return out
}

func (d *Delta) DeletedNodeIDs() []NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]NodeID, 0, len(d.deletedNodes))
	for id := range d.deletedNodes {
		out = append(out, id)
	}
	return out
}

// NewLabels, NewEtypes, and NewPropkeys return the dictionary entries minted
// since the last checkpoint (spec.md §4.2 "dictionary extensions"), for the
// compactor to fold into the next generation's id→name tables.
func (d *Delta) NewLabels() map[LabelID]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[LabelID]string, len(d.newLabels))
	for k, v := range d.newLabels {
		out[k] = v
	}
	return out
}

func (d *Delta) NewEtypes() map[ETypeID]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[ETypeID]string, len(d.newEtypes))
	for k, v := range d.newEtypes {
		out[k] = v
	}
	return out
}

func (d *Delta) NewPropkeys() map[PropKeyID]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[PropKeyID]string, len(d.newPropkeys))
	for k, v := range d.newPropkeys {
		out[k] = v
	}
	return out
}

func (d *Delta) Stats() DeltaStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var added, deleted int
	for _, v := range d.outAdd {
		added += len(v)
	}
	for _, v := range d.outDel {
		deleted += len(v)
	}
	return DeltaStats{
		NodesCreated: len(d.createdNodes),
		NodesDeleted: len(d.deletedNodes),
		EdgesAdded:   added,
		EdgesDeleted: deleted,
	}
}

func cloneProps(props map[PropKeyID]Value) map[PropKeyID]Value {
	if props == nil {
		return nil
	}
	out := make(map[PropKeyID]Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func appendUniqueLabel(labels []LabelID, l LabelID) []LabelID {
	for _, have := range labels {
		if have == l {
			return labels
		}
	}
	return append(labels, l)
}

func removeLabel(labels []LabelID, l LabelID) []LabelID {
	out := labels[:0]
	for _, have := range labels {
		if have != l {
			out = append(out, have)
		}
	}
	return out
}

func insertSortedEdge(m map[NodeID][]EdgeKey, node NodeID, k EdgeKey) {
	list := m[node]
	i := 0
	for i < len(list) && list[i].Less(k) {
		i++
	}
	if i < len(list) && list[i] == k {
		return
	}
	list = append(list, EdgeKey{})
	copy(list[i+1:], list[i:])
	list[i] = k
	m[node] = list
}

func removeEdgeKey(m map[NodeID][]EdgeKey, node NodeID, k EdgeKey) {
	list := m[node]
	for i, have := range list {
		if have == k {
			m[node] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
