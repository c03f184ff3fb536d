package legacy

import (
	"testing"

	"github.com/raydb/raydb/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateAndGetNode(t *testing.T) {
	e := newTestEngine(t)

	n := &storage.Node{
		ID:     1,
		Key:    "alice",
		Labels: []storage.LabelID{1},
		Props:  map[storage.PropKeyID]storage.Value{1: storage.Int64Value(30)},
	}
	require.NoError(t, e.CreateNode(n))
	require.ErrorIs(t, e.CreateNode(n), ErrExists)

	got, err := e.GetNode(1)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Key)
	require.True(t, got.HasLabel(1))
	require.Equal(t, int64(30), got.Props[1].I)

	id, ok, err := e.GetNodeByKey("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	_, err = e.GetNode(999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetAndDeleteNodeProp(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateNode(&storage.Node{ID: 1}))

	require.NoError(t, e.SetNodeProp(1, 1, storage.StringValue("bob")))
	v, ok, err := e.GetNodeProp(1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", v.S)

	require.NoError(t, e.SetNodeProp(1, 1, storage.Null))
	_, ok, err = e.GetNodeProp(1, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddEdgeAndNeighbors(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateNode(&storage.Node{ID: 1}))
	require.NoError(t, e.CreateNode(&storage.Node{ID: 2}))
	require.NoError(t, e.CreateNode(&storage.Node{ID: 3}))

	k1 := storage.EdgeKey{Src: 1, EType: 1, Dst: 2}
	k2 := storage.EdgeKey{Src: 1, EType: 1, Dst: 3}
	require.NoError(t, e.AddEdge(k1, nil))
	require.NoError(t, e.AddEdge(k2, map[storage.PropKeyID]storage.Value{1: storage.Int64Value(5)}))
	require.ErrorIs(t, e.AddEdge(k1, nil), ErrExists)

	out, err := e.GetNeighborsOut(1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.EqualValues(t, 2, out[0].Other)
	require.EqualValues(t, 3, out[1].Other)

	in, err := e.GetNeighborsIn(2)
	require.NoError(t, err)
	require.Len(t, in, 1)
	require.EqualValues(t, 1, in[0].Other)

	require.NoError(t, e.DeleteEdge(k1))
	out, err = e.GetNeighborsOut(1)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestDeleteNodeRemovesEdgesAndIndexes(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateNode(&storage.Node{ID: 1, Key: "a", Labels: []storage.LabelID{1}}))
	require.NoError(t, e.CreateNode(&storage.Node{ID: 2, Key: "b"}))
	require.NoError(t, e.AddEdge(storage.EdgeKey{Src: 1, EType: 1, Dst: 2}, nil))

	require.NoError(t, e.DeleteNode(1))
	_, err := e.GetNode(1)
	require.ErrorIs(t, err, ErrNotFound)

	_, ok, err := e.GetNodeByKey("a")
	require.NoError(t, err)
	require.False(t, ok)

	in, err := e.GetNeighborsIn(2)
	require.NoError(t, err)
	require.Empty(t, in)
}

func TestDictionaryRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.DefineLabel(1, "Person"))
	require.NoError(t, e.DefineEtype(1, "KNOWS"))
	require.NoError(t, e.DefinePropkey(1, "age"))

	name, err := e.LabelName(1)
	require.NoError(t, err)
	require.Equal(t, "Person", name)

	etype, err := e.EtypeName(1)
	require.NoError(t, err)
	require.Equal(t, "KNOWS", etype)

	pk, err := e.PropkeyName(1)
	require.NoError(t, err)
	require.Equal(t, "age", pk)

	missing, err := e.LabelName(99)
	require.NoError(t, err)
	require.Equal(t, "", missing)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	e := newTestEngine(t)

	tx, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.CreateNode(&storage.Node{ID: 1}))
	require.NoError(t, tx.AddEdge(storage.EdgeKey{Src: 1, EType: 1, Dst: 1}, nil))
	require.NoError(t, tx.Commit())

	_, err = e.GetNode(1)
	require.NoError(t, err)

	tx2, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, tx2.CreateNode(&storage.Node{ID: 2}))
	tx2.Rollback()

	_, err = e.GetNode(2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.CreateNode(&storage.Node{ID: 1}), ErrClosed)
	require.NoError(t, e.Close()) // idempotent
}
