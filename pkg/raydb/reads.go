package raydb

import (
	"sort"

	"github.com/raydb/raydb/pkg/storage"
)

// mergedNode produces the fully materialized view of id by layering the
// delta overlay over the active snapshot (spec.md §4.2's four-case merge:
// created, deleted, modified, else pass through). It is the single read
// path both db-level ("latest committed") and transaction-scoped reads
// fall back to when a key has no version of its own yet in the MVCC pool.
func mergedNode(snap *storage.Snapshot, delta *storage.Delta, id storage.NodeID) (*storage.Node, bool) {
	if delta.IsDeleted(id) {
		return nil, false
	}
	if nd, ok := delta.CreatedNode(id); ok {
		return &storage.Node{ID: id, Key: nd.Key, Labels: cloneLabels(nd.Labels), Props: cloneValueMap(nd.Props)}, true
	}

	phys, ok := snap.GetPhys(id)
	if !ok {
		return nil, false
	}
	n := &storage.Node{
		ID:     id,
		Key:    snap.GetNodeKey(phys),
		Labels: snap.IterateLabels(phys),
		Props:  snap.NodeProps(phys),
	}
	if nd, ok := delta.ModifiedNode(id); ok {
		n.Labels = applyLabelPatch(n.Labels, nd.AddedLabels, nd.RemovedLabels)
		n.Props = applyPropPatch(n.Props, nd.Props)
	}
	return n, true
}

func applyLabelPatch(base, added, removed []storage.LabelID) []storage.LabelID {
	out := make([]storage.LabelID, 0, len(base)+len(added))
	for _, l := range base {
		skip := false
		for _, r := range removed {
			if r == l {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, l)
		}
	}
	for _, l := range added {
		found := false
		for _, have := range out {
			if have == l {
				found = true
				break
			}
		}
		if !found {
			out = append(out, l)
		}
	}
	return out
}

func applyPropPatch(base map[storage.PropKeyID]storage.Value, overlay map[storage.PropKeyID]storage.Value) map[storage.PropKeyID]storage.Value {
	if len(overlay) == 0 {
		return base
	}
	out := cloneValueMap(base)
	if out == nil {
		out = make(map[storage.PropKeyID]storage.Value, len(overlay))
	}
	for k, v := range overlay {
		if v.NullValue() {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	return out
}

// mergedOutNeighbors merges src's snapshot out-adjacency with the delta's
// outAdd/outDel patch lists for src (spec.md §4.2: edge patch arrays merge
// against the snapshot's sorted CSR slice). A neighbor whose endpoint is
// itself tombstoned in delta is dropped here rather than left for the next
// checkpoint to fold away: for a snapshot-resident node DeleteNode only
// tombstones it and never patches the neighbors' own outAdd/outDel/inAdd/inDel
// arrays, so a dangling edge to it would otherwise be visible until the next
// compact. (A node created in the same delta generation leaves no tombstone;
// DeleteNode drops its edge patches instead.)
func mergedOutNeighbors(delta *storage.Delta, src storage.NodeID, base []storage.Neighbor, add, del []storage.EdgeKey) []storage.Neighbor {
	delSet := make(map[storage.EdgeKey]struct{}, len(del))
	for _, k := range del {
		delSet[k] = struct{}{}
	}
	out := make([]storage.Neighbor, 0, len(base)+len(add))
	for _, n := range base {
		if _, deleted := delSet[storage.EdgeKey{Src: src, EType: n.EType, Dst: n.Other}]; deleted {
			continue
		}
		if delta.IsDeleted(n.Other) {
			continue
		}
		out = append(out, n)
	}
	for _, k := range add {
		if delta.IsDeleted(k.Dst) {
			continue
		}
		out = append(out, storage.Neighbor{EType: k.EType, Other: k.Dst})
	}
	sortNeighbors(out)
	return out
}

// mergedInNeighbors is mergedOutNeighbors' counterpart for in-adjacency:
// dst is fixed, and each Neighbor's Other is the edge's source.
func mergedInNeighbors(delta *storage.Delta, dst storage.NodeID, base []storage.Neighbor, add, del []storage.EdgeKey) []storage.Neighbor {
	delSet := make(map[storage.EdgeKey]struct{}, len(del))
	for _, k := range del {
		delSet[k] = struct{}{}
	}
	out := make([]storage.Neighbor, 0, len(base)+len(add))
	for _, n := range base {
		if _, deleted := delSet[storage.EdgeKey{Src: n.Other, EType: n.EType, Dst: dst}]; deleted {
			continue
		}
		if delta.IsDeleted(n.Other) {
			continue
		}
		out = append(out, n)
	}
	for _, k := range add {
		if delta.IsDeleted(k.Src) {
			continue
		}
		out = append(out, storage.Neighbor{EType: k.EType, Other: k.Src})
	}
	sortNeighbors(out)
	return out
}

func sortNeighbors(n []storage.Neighbor) {
	sort.Slice(n, func(i, j int) bool {
		if n[i].EType != n[j].EType {
			return n[i].EType < n[j].EType
		}
		return n[i].Other < n[j].Other
	})
}
