package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaCreateThenDeleteThenRecreate(t *testing.T) {
	d := NewDelta()
	d.CreateNode(1, "alice", []LabelID{0}, map[PropKeyID]Value{0: StringValue("Alice")})
	d.DeleteNode(1)

	_, ok := d.CreatedNode(1)
	require.False(t, ok, "delete-after-create in the same generation must undo the create")
	require.False(t, d.IsDeleted(1), "an undone create leaves no tombstone")

	d.CreateNode(1, "alice", []LabelID{0}, map[PropKeyID]Value{0: StringValue("Alice2")})
	require.False(t, d.IsDeleted(1), "recreate must clear the tombstone")
	nd, ok := d.CreatedNode(1)
	require.True(t, ok)
	require.Equal(t, "Alice2", nd.Props[0].S)
}

func TestDeltaNullPropWins(t *testing.T) {
	d := NewDelta()
	d.SetNodeProp(7, 3, Null)
	mod, ok := d.ModifiedNode(7)
	require.True(t, ok)
	v, ok := mod.Props[3]
	require.True(t, ok)
	require.True(t, v.NullValue())
}

func TestDeltaEdgePatchesSorted(t *testing.T) {
	d := NewDelta()
	d.AddEdge(EdgeKey{Src: 1, EType: 2, Dst: 9})
	d.AddEdge(EdgeKey{Src: 1, EType: 0, Dst: 5})
	d.AddEdge(EdgeKey{Src: 1, EType: 0, Dst: 2})

	add, del := d.OutPatch(1)
	require.Empty(t, del)
	require.Len(t, add, 3)
	require.True(t, add[0].Less(add[1]) || add[0] == add[1])
	require.Equal(t, EdgeKey{Src: 1, EType: 0, Dst: 2}, add[0])
	require.Equal(t, EdgeKey{Src: 1, EType: 0, Dst: 5}, add[1])
	require.Equal(t, EdgeKey{Src: 1, EType: 2, Dst: 9}, add[2])
}

func TestDeltaKeyIndexOverlay(t *testing.T) {
	d := NewDelta()
	d.CreateNode(1, "alice", nil, nil)

	id, tomb, overlaid := d.LookupByKey("alice")
	require.True(t, overlaid)
	require.False(t, tomb)
	require.EqualValues(t, 1, id)

	d.DeleteNode(1)
	_, tomb, overlaid = d.LookupByKey("alice")
	require.True(t, overlaid)
	require.True(t, tomb)

	_, _, overlaid = d.LookupByKey("never-seen")
	require.False(t, overlaid)
}
