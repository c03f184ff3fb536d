package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildAndOpen(t *testing.T, nodes []BuildNode, edges []BuildEdge, dict Dictionary) *Snapshot {
	t.Helper()
	b := NewSnapshotBuilder(1, 1000, dict, CompressionZstd, true)
	for _, n := range nodes {
		b.AddNode(n)
	}
	for _, e := range edges {
		b.AddEdge(e)
	}
	data, err := b.Build()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "gen1.gds")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	snap, err := OpenSnapshot(path)
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })
	return snap
}

func TestSnapshotRoundTrip(t *testing.T) {
	dict := Dictionary{Labels: []string{"Person"}, Etypes: []string{"KNOWS"}, Propkeys: []string{"name", "age"}}
	nodes := []BuildNode{
		{ID: 1, Key: "alice", Labels: []LabelID{0}, Props: map[PropKeyID]Value{0: StringValue("Alice"), 1: Int64Value(30)}},
		{ID: 2, Key: "bob", Labels: []LabelID{0}, Props: map[PropKeyID]Value{0: StringValue("Bob")}},
	}
	edges := []BuildEdge{{Src: 1, EType: 0, Dst: 2}}

	snap := buildAndOpen(t, nodes, edges, dict)

	require.EqualValues(t, 2, snap.NumNodes())
	require.EqualValues(t, 1, snap.NumEdges())

	id, ok := snap.LookupByKey("alice")
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	_, ok = snap.LookupByKey("carol")
	require.False(t, ok)

	phys, ok := snap.GetPhys(1)
	require.True(t, ok)
	require.Equal(t, "alice", snap.GetNodeKey(phys))

	v, ok := snap.GetNodeProp(phys, 1)
	require.True(t, ok)
	require.Equal(t, int64(30), v.I)

	out := snap.GetOutEdges(phys)
	require.Len(t, out, 1)
	require.EqualValues(t, 2, out[0].Other)
	require.True(t, snap.HasOutEdge(phys, 0, 2))
	require.False(t, snap.HasOutEdge(phys, 0, 99))

	bobPhys, _ := snap.GetPhys(2)
	in := snap.GetInEdges(bobPhys)
	require.Len(t, in, 1)
	require.EqualValues(t, 1, in[0].Other)

	require.Equal(t, "Person", snap.LabelString(0))
	require.Equal(t, "KNOWS", snap.EtypeString(0))
}

func TestSnapshotNoKey(t *testing.T) {
	dict := Dictionary{Labels: []string{"Thing"}}
	nodes := []BuildNode{{ID: 5, Labels: []LabelID{0}}}
	snap := buildAndOpen(t, nodes, nil, dict)

	phys, ok := snap.GetPhys(5)
	require.True(t, ok)
	require.Equal(t, "", snap.GetNodeKey(phys))
	require.False(t, snap.HasNode(6))
}

func TestKeyIndexHashCollisionSafe(t *testing.T) {
	b := NewKeyIndexBuilder(4)
	b.Add("alice", 1, 10)
	b.Add("bob", 2, 20)
	entries, buckets := b.Build()

	strs := map[StringID]string{1: "alice", 2: "bob"}
	resolve := func(id StringID) (string, bool) { s, ok := strs[id]; return s, ok }

	id, ok := LookupKeyIndex(entries, buckets, "alice", resolve)
	require.True(t, ok)
	require.EqualValues(t, 10, id)

	_, ok = LookupKeyIndex(entries, buckets, "nope", resolve)
	require.False(t, ok)
}
