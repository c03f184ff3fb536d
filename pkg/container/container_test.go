package container

import (
	"path/filepath"
	"testing"

	"github.com/raydb/raydb/pkg/wal"
	"github.com/stretchr/testify/require"
)

func TestMultiFileCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenMultiFile(dir, Options{CreateIfMissing: true})
	require.NoError(t, err)

	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeBegin, TxID: 1}))
	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeCommit, TxID: 1}))
	require.NoError(t, c.SyncWAL())
	require.NoError(t, c.Close())

	c2, err := OpenMultiFile(dir, Options{})
	require.NoError(t, err)
	defer c2.Close()
	gen, data, err := c2.ActiveGeneration()
	require.NoError(t, err)
	require.EqualValues(t, 0, gen)
	require.NotEmpty(t, data)
}

func TestMultiFileRecoverWAL(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenMultiFile(dir, Options{CreateIfMissing: true})
	require.NoError(t, err)

	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeBegin, TxID: 1}))
	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeCreateNode, TxID: 1, Payload: wal.EncodeCreateNode(1, "a", nil)}))
	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeCommit, TxID: 1}))
	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeBegin, TxID: 2}))
	require.NoError(t, c.AppendWAL(wal.Record{Type: wal.TypeCreateNode, TxID: 2, Payload: wal.EncodeCreateNode(2, "b", nil)}))
	require.NoError(t, c.SyncWAL())

	res, err := c.RecoverWAL()
	require.NoError(t, err)
	require.Len(t, res.Committed, 1)
	require.EqualValues(t, 1, res.Committed[0].TxID)
	require.NoError(t, c.Close())
}

func TestMultiFileSnapshotFlip(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenMultiFile(dir, Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteSnapshot(1, []byte("generation-1-bytes")))
	gen, data, err := c.ActiveGeneration()
	require.NoError(t, err)
	require.EqualValues(t, 1, gen)
	require.Equal(t, "generation-1-bytes", string(data))
}

func TestSingleFileCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.raydb")
	sf, err := CreateSingleFile(path, Options{CreateIfMissing: true})
	require.NoError(t, err)

	require.NoError(t, sf.AppendWAL(wal.Record{Type: wal.TypeBegin, TxID: 5}))
	require.NoError(t, sf.AppendWAL(wal.Record{Type: wal.TypeCommit, TxID: 5}))
	require.NoError(t, sf.SyncWAL())
	require.NoError(t, sf.Close())

	sf2, err := OpenSingleFile(path, Options{})
	require.NoError(t, err)
	defer sf2.Close()
	gen, _, err := sf2.ActiveGeneration()
	require.NoError(t, err)
	require.EqualValues(t, 0, gen)
}

func TestSingleFileSnapshotFlip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test2.raydb")
	sf, err := CreateSingleFile(path, Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer sf.Close()

	payload := make([]byte, 5000) // spans multiple pages
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, sf.WriteSnapshot(1, payload))

	gen, data, err := sf.ActiveGeneration()
	require.NoError(t, err)
	require.EqualValues(t, 1, gen)
	require.Equal(t, payload, data[:len(payload)])
}

func TestSingleFileRecoverWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recover.raydb")
	sf, err := CreateSingleFile(path, Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer sf.Close()

	require.NoError(t, sf.AppendWAL(wal.Record{Type: wal.TypeBegin, TxID: 1}))
	require.NoError(t, sf.AppendWAL(wal.Record{Type: wal.TypeCreateNode, TxID: 1, Payload: wal.EncodeCreateNode(1, "a", nil)}))
	require.NoError(t, sf.AppendWAL(wal.Record{Type: wal.TypeCommit, TxID: 1}))
	require.NoError(t, sf.SyncWAL())

	res, err := sf.RecoverWAL()
	require.NoError(t, err)
	require.Len(t, res.Committed, 1)
	require.EqualValues(t, 1, res.Committed[0].TxID)
}

func TestSingleFileEncryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc.raydb")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sf, err := CreateSingleFile(path, Options{CreateIfMissing: true, EncryptionKey: key})
	require.NoError(t, err)
	defer sf.Close()

	require.NoError(t, sf.WriteSnapshot(1, []byte("top secret graph bytes")))
	_, data, err := sf.ActiveGeneration()
	require.NoError(t, err)
	require.Equal(t, "top secret graph bytes", string(data[:len("top secret graph bytes")]))
}
