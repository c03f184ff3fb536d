// Package checkpoint implements the checkpoint/compactor stage (C4): it
// merges a snapshot generation with the delta overlay accumulated on top of
// it into a new, standalone snapshot generation, then drives the container
// layer's atomic generation flip and WAL truncation.
package checkpoint

import (
	"fmt"
	"sort"
	"time"

	"github.com/raydb/raydb/pkg/container"
	"github.com/raydb/raydb/pkg/storage"
)

// Trigger identifies why a checkpoint ran, surfaced through Stats/logging
// so an operator can tell a threshold-driven checkpoint from a manual
// optimize() call.
type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerWALFull
	TriggerInterval
	TriggerOptimize
	TriggerShutdown
)

func (t Trigger) String() string {
	switch t {
	case TriggerManual:
		return "manual"
	case TriggerWALFull:
		return "wal-full"
	case TriggerInterval:
		return "interval"
	case TriggerOptimize:
		return "optimize"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Result summarizes one completed checkpoint run.
type Result struct {
	Generation uint64
	Trigger    Trigger
	NumNodes   uint64
	NumEdges   uint64
	Duration   time.Duration
}

// Compactor runs checkpoints against a container. It holds no state of its
// own between runs; the caller (pkg/raydb) owns the current delta, the
// dictionary, and the generation counter, and hands them in fresh each time.
type Compactor struct {
	Codec       storage.Compression
	WithInEdges bool
}

// New returns a Compactor using the given section compression and whether
// built snapshots should carry an in-edge CSR index (spec.md §4.1's
// "has-in-edges" flag — on by default; a read-mostly deployment may trade
// it off to shrink snapshot size).
func New(codec storage.Compression, withInEdges bool) *Compactor {
	return &Compactor{Codec: codec, WithInEdges: withInEdges}
}

// Run executes one checkpoint cycle against cont: merge snapshot(G) ⊕ delta
// into generation G+1, write it, and truncate the WAL (spec.md §4.4 steps
// 1-6). delta is read as it stands: the caller holds the lock that
// serializes writers for the whole call and installs a fresh, empty Delta
// only after Run returns.
func (c *Compactor) Run(cont container.Container, dict storage.Dictionary, delta *storage.Delta, generation uint64, trigger Trigger) (Result, storage.Dictionary, error) {
	start := time.Now()

	if err := cont.BeginCheckpoint(); err != nil {
		return Result{}, dict, fmt.Errorf("checkpoint: begin: %w", err)
	}

	_, prevBytes, err := cont.ActiveGeneration()
	if err != nil {
		return Result{}, dict, fmt.Errorf("checkpoint: read active generation: %w", err)
	}
	prev, err := storage.OpenSnapshotBytes(prevBytes)
	if err != nil {
		return Result{}, dict, fmt.Errorf("checkpoint: open prior generation: %w", err)
	}
	defer prev.Close()

	nodes, edges, newDict := mergeSnapshotAndDelta(prev, delta, dict)

	builder := storage.NewSnapshotBuilder(generation, uint64(start.UnixNano()), newDict, c.Codec, c.WithInEdges)
	for _, n := range nodes {
		builder.AddNode(n)
	}
	for _, e := range edges {
		builder.AddEdge(e)
	}

	data, err := builder.Build()
	if err != nil {
		return Result{}, dict, fmt.Errorf("checkpoint: build snapshot: %w", err)
	}

	if err := cont.WriteSnapshot(generation, data); err != nil {
		return Result{}, dict, fmt.Errorf("checkpoint: write snapshot: %w", err)
	}
	if err := cont.CompleteCheckpoint(); err != nil {
		return Result{}, dict, fmt.Errorf("checkpoint: complete: %w", err)
	}

	return Result{
		Generation: generation,
		Trigger:    trigger,
		NumNodes:   uint64(len(nodes)),
		NumEdges:   uint64(len(edges)),
		Duration:   time.Since(start),
	}, newDict, nil
}

// mergeSnapshotAndDelta folds delta's creates/deletes/modifies and edge
// patches over prev's live node/edge set, producing the flat node and edge
// lists a SnapshotBuilder needs, plus the dictionary extended with any
// labels/etypes/propkeys minted since prev was written (spec.md §4.2's
// four-case merge, applied once per node rather than per read).
func mergeSnapshotAndDelta(prev *storage.Snapshot, delta *storage.Delta, dict storage.Dictionary) ([]storage.BuildNode, []storage.BuildEdge, storage.Dictionary) {
	live := make(map[storage.NodeID]struct{}, prev.NumNodes())
	nodes := make([]storage.BuildNode, 0, prev.NumNodes())

	for phys := uint64(0); phys < prev.NumNodes(); phys++ {
		id := prev.PhysToNodeID(phys)
		if delta.IsDeleted(id) {
			continue
		}
		bn := storage.BuildNode{ID: id, Key: prev.GetNodeKey(phys), Labels: prev.IterateLabels(phys), Props: prev.NodeProps(phys)}
		if mod, ok := delta.ModifiedNode(id); ok {
			bn = applyNodeModification(bn, mod)
		}
		live[id] = struct{}{}
		nodes = append(nodes, bn)
	}

	created := delta.CreatedNodeIDs()
	sort.Slice(created, func(i, j int) bool { return created[i] < created[j] })
	for _, id := range created {
		nd, _ := delta.CreatedNode(id)
		nodes = append(nodes, storage.BuildNode{ID: id, Key: nd.Key, Labels: nd.Labels, Props: nd.Props})
		live[id] = struct{}{}
	}

	var edges []storage.BuildEdge
	for _, n := range nodes {
		var phys uint64
		var hasPhys bool
		if _, ok := delta.CreatedNode(n.ID); !ok {
			phys, hasPhys = prev.GetPhys(n.ID)
		}

		add, del := delta.OutPatch(n.ID)
		delSet := make(map[storage.EdgeKey]struct{}, len(del))
		for _, k := range del {
			delSet[storage.EdgeKey{EType: k.EType, Dst: k.Dst}] = struct{}{}
		}

		if hasPhys {
			for _, ed := range prev.OutEdgesDetailed(phys) {
				k := storage.EdgeKey{EType: ed.EType, Dst: ed.Dst}
				if _, deleted := delSet[k]; deleted {
					continue
				}
				if _, ok := live[ed.Dst]; !ok {
					continue // destination tombstoned this generation
				}
				edges = append(edges, storage.BuildEdge{Src: n.ID, Dst: ed.Dst, EType: ed.EType, Props: ed.Props})
			}
		}
		for _, k := range add {
			if _, ok := live[k.Dst]; !ok {
				continue
			}
			edges = append(edges, storage.BuildEdge{Src: n.ID, Dst: k.Dst, EType: k.EType, Props: delta.EdgeProps(storage.EdgeKey{Src: n.ID, EType: k.EType, Dst: k.Dst})})
		}
	}

	return nodes, edges, mergeDictionary(prev, delta, dict)
}

// applyNodeModification overlays a modifiedNodes entry onto a node's
// snapshot-derived base state (spec.md §4.2: added/removed labels, and
// property overlay where an explicit Null entry deletes the key).
func applyNodeModification(base storage.BuildNode, mod *storage.NodeDelta) storage.BuildNode {
	labels := append([]storage.LabelID(nil), base.Labels...)
	for _, l := range mod.RemovedLabels {
		labels = removeLabelFrom(labels, l)
	}
	for _, l := range mod.AddedLabels {
		labels = appendLabelIfMissing(labels, l)
	}
	base.Labels = labels

	if len(mod.Props) > 0 {
		props := make(map[storage.PropKeyID]storage.Value, len(base.Props)+len(mod.Props))
		for k, v := range base.Props {
			props[k] = v
		}
		for k, v := range mod.Props {
			if v.NullValue() {
				delete(props, k)
				continue
			}
			props[k] = v
		}
		base.Props = props
	}
	return base
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

func appendLabelIfMissing(labels []storage.LabelID, l storage.LabelID) []storage.LabelID {
	for _, have := range labels {
		if have == l {
			return labels
		}
	}
	return append(labels, l)
}

// mergeDictionary extends prev's id→name tables with any entries the delta
// minted since the last checkpoint. Dictionary arrays only grow; an id
// beyond the previous table's length grows the slice to fit.
func mergeDictionary(prev *storage.Snapshot, delta *storage.Delta, dict storage.Dictionary) storage.Dictionary {
	labels := dictArray(prev.NumLabels(), prev.LabelString, dict.Labels)
	for id, name := range delta.NewLabels() {
		labels = growAndSet(labels, int(id), name)
	}
	etypes := dictArray(prev.NumEtypes(), prev.EtypeString, dict.Etypes)
	for id, name := range delta.NewEtypes() {
		etypes = growAndSet(etypes, int(id), name)
	}
	propkeys := dictArray(prev.NumPropkeys(), prev.PropkeyString, dict.Propkeys)
	for id, name := range delta.NewPropkeys() {
		propkeys = growAndSet(propkeys, int(id), name)
	}
	return storage.Dictionary{Labels: labels, Etypes: etypes, Propkeys: propkeys}
}

func dictArray[T ~uint32](n uint64, resolve func(T) string, fallback []string) []string {
	if uint64(len(fallback)) >= n {
		return append([]string(nil), fallback...)
	}
	out := make([]string, n)
	for i := uint64(0); i < n; i++ {
		out[i] = resolve(T(i))
	}
	return out
}

func growAndSet(arr []string, idx int, name string) []string {
	if idx >= len(arr) {
		grown := make([]string, idx+1)
		copy(grown, arr)
		arr = grown
	}
	arr[idx] = name
	return arr
}
