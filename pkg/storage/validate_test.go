package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotValidateClean(t *testing.T) {
	dict := Dictionary{Labels: []string{"Person"}, Etypes: []string{"KNOWS"}, Propkeys: []string{"name"}}
	nodes := []BuildNode{
		{ID: 1, Key: "alice", Labels: []LabelID{0}, Props: map[PropKeyID]Value{0: StringValue("Alice")}},
		{ID: 2, Key: "bob", Labels: []LabelID{0}},
		{ID: 3, Key: "carol", Labels: []LabelID{0}},
	}
	edges := []BuildEdge{
		{Src: 1, EType: 0, Dst: 2},
		{Src: 1, EType: 0, Dst: 3},
		{Src: 2, EType: 0, Dst: 3},
	}
	snap := buildAndOpen(t, nodes, edges, dict)

	res := snap.Validate()
	require.Empty(t, res.Errors)
	require.Empty(t, res.Warnings)
}

func TestSnapshotValidateNoInEdges(t *testing.T) {
	dict := Dictionary{Labels: []string{"Thing"}}
	b := NewSnapshotBuilder(1, 1000, dict, CompressionNone, false) // withInEdges=false
	b.AddNode(BuildNode{ID: 1, Key: "a", Labels: []LabelID{0}})
	b.AddNode(BuildNode{ID: 2, Key: "b", Labels: []LabelID{0}})
	b.AddEdge(BuildEdge{Src: 1, EType: 0, Dst: 2})
	data, err := b.Build()
	require.NoError(t, err)

	snap, err := OpenSnapshotBytes(data)
	require.NoError(t, err)
	defer snap.Close()

	res := snap.Validate()
	require.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
}

func TestHasNeighborBinarySearch(t *testing.T) {
	neighbors := []Neighbor{
		{EType: 1, Other: 2},
		{EType: 1, Other: 5},
		{EType: 2, Other: 1},
	}
	require.True(t, hasNeighbor(neighbors, 1, 5))
	require.True(t, hasNeighbor(neighbors, 2, 1))
	require.False(t, hasNeighbor(neighbors, 1, 99))
	require.False(t, hasNeighbor(neighbors, 3, 1))
}
