package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotIsolation(t *testing.T) {
	m := NewManager(Config{}, 0, 0)

	setup := m.BeginTx()
	setup.Put("node:1:name", "Alice")
	require.NoError(t, m.CommitTx(setup))

	reader := m.BeginTx()
	v, _, ok := reader.Visible("node:1:name")
	require.True(t, ok)
	require.Equal(t, "Alice", v)
	reader.RecordRead("node:1:name")

	writer := m.BeginTx()
	writer.Put("node:1:name", "Alicia")
	require.NoError(t, m.CommitTx(writer))

	// Repeatable read within the same transaction: reader must still see
	// the pre-writer value (spec.md §8 property 6).
	v2, _, ok := reader.Visible("node:1:name")
	require.True(t, ok)
	require.Equal(t, "Alice", v2)
}

func TestFirstCommitterWins(t *testing.T) {
	m := NewManager(Config{}, 0, 0)

	base := m.BeginTx()
	base.Put("node:1:name", "Alice")
	require.NoError(t, m.CommitTx(base))

	t1 := m.BeginTx()
	t2 := m.BeginTx()

	t1.RecordRead("node:1:name")
	t1.Put("node:1:name", "from-t1")
	require.NoError(t, m.CommitTx(t1))

	t2.RecordRead("node:1:name")
	t2.Put("node:1:name", "from-t2")
	err := m.CommitTx(t2)
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	m.RollbackTx(t2)
}

func TestGCPrunesBelowOldestActive(t *testing.T) {
	m := NewManager(Config{MaxChainDepth: 100}, 0, 0)

	for i := 0; i < 5; i++ {
		tx := m.BeginTx()
		tx.Put("node:1:name", i)
		require.NoError(t, m.CommitTx(tx))
	}

	reader := m.BeginTx() // holds the horizon at its startTs

	stats := m.RunGC(0)
	require.Equal(t, uint64(reader.StartTs), stats.Horizon)
	require.Greater(t, stats.VersionsPruned, 0)

	v, _, ok := reader.Visible("node:1:name")
	require.True(t, ok)
	require.Equal(t, 4, v)
}

func TestMaxChainDepthTruncation(t *testing.T) {
	m := NewManager(Config{MaxChainDepth: 2}, 0, 0)
	for i := 0; i < 5; i++ {
		tx := m.BeginTx()
		tx.Put("k", i)
		require.NoError(t, m.CommitTx(tx))
	}
	m.RunGC(0)
	require.LessOrEqual(t, m.pool.chainDepth("k"), 2)
}
