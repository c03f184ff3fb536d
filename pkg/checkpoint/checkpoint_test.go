package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raydb/raydb/pkg/container"
	"github.com/raydb/raydb/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newEmptyMultiFile(t *testing.T) *container.MultiFile {
	t.Helper()
	dir := t.TempDir()
	c, err := container.OpenMultiFile(dir, container.Options{CreateIfMissing: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCheckpointFoldsCreatedNodesAndEdges(t *testing.T) {
	c := newEmptyMultiFile(t)

	delta := storage.NewDelta()
	delta.CreateNode(1, "alice", []storage.LabelID{1}, map[storage.PropKeyID]storage.Value{1: storage.Int64Value(30)})
	delta.CreateNode(2, "bob", []storage.LabelID{1}, nil)
	delta.AddEdge(storage.EdgeKey{Src: 1, EType: 1, Dst: 2})
	delta.DefineLabel(1, "Person")
	delta.DefinePropkey(1, "age")
	delta.DefineEtype(1, "KNOWS")

	dict := storage.Dictionary{}
	comp := New(storage.CompressionNone, true)

	result, newDict, err := comp.Run(c, dict, delta, 1, TriggerManual)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Generation)
	require.EqualValues(t, 2, result.NumNodes)
	require.EqualValues(t, 1, result.NumEdges)
	require.Equal(t, []string{"", "Person"}, newDict.Labels)

	gen, data, err := c.ActiveGeneration()
	require.NoError(t, err)
	require.EqualValues(t, 1, gen)

	path := filepath.Join(t.TempDir(), "gen1.gds")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	snap, err := storage.OpenSnapshot(path)
	require.NoError(t, err)
	defer snap.Close()

	require.True(t, snap.HasNode(1))
	require.True(t, snap.HasNode(2))
	id, ok := snap.LookupByKey("alice")
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	phys, _ := snap.GetPhys(1)
	v, ok := snap.GetNodeProp(phys, 1)
	require.True(t, ok)
	require.EqualValues(t, 30, v.I)

	out := snap.GetOutEdges(phys)
	require.Len(t, out, 1)
	require.EqualValues(t, 2, out[0].Other)
}

func TestCheckpointHonorsDeleteAndModify(t *testing.T) {
	c := newEmptyMultiFile(t)
	comp := New(storage.CompressionNone, true)

	delta1 := storage.NewDelta()
	delta1.CreateNode(1, "n1", nil, map[storage.PropKeyID]storage.Value{1: storage.Int64Value(1)})
	delta1.CreateNode(2, "n2", nil, nil)
	delta1.AddEdge(storage.EdgeKey{Src: 1, EType: 1, Dst: 2})

	_, dict, err := comp.Run(c, storage.Dictionary{}, delta1, 1, TriggerManual)
	require.NoError(t, err)

	delta2 := storage.NewDelta()
	delta2.DeleteNode(2) // edge (1->2) should be dropped along with node 2
	delta2.SetNodeProp(1, 1, storage.Int64Value(99))

	result2, _, err := comp.Run(c, dict, delta2, 2, TriggerManual)
	require.NoError(t, err)
	require.EqualValues(t, 1, result2.NumNodes)
	require.EqualValues(t, 0, result2.NumEdges)

	gen, data, err := c.ActiveGeneration()
	require.NoError(t, err)
	require.EqualValues(t, 2, gen)

	path := filepath.Join(t.TempDir(), "gen2.gds")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	snap, err := storage.OpenSnapshot(path)
	require.NoError(t, err)
	defer snap.Close()

	require.True(t, snap.HasNode(1))
	require.False(t, snap.HasNode(2))
	phys, _ := snap.GetPhys(1)
	v, ok := snap.GetNodeProp(phys, 1)
	require.True(t, ok)
	require.EqualValues(t, 99, v.I)
	require.Empty(t, snap.GetOutEdges(phys))
}
