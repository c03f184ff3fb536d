package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raydb/raydb/pkg/storage"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal_1.gdw")
	w, err := Create(path, 1, Config{SyncMode: SyncFull}, 1000)
	require.NoError(t, err)

	require.NoError(t, w.Append(Record{Type: TypeBegin, TxID: 7}))
	require.NoError(t, w.Append(Record{Type: TypeCreateNode, TxID: 7, Payload: EncodeCreateNode(1, "alice", []storage.LabelID{0})}))
	require.NoError(t, w.Append(Record{Type: TypeCommit, TxID: 7}))

	require.NoError(t, w.Append(Record{Type: TypeBegin, TxID: 8}))
	require.NoError(t, w.Append(Record{Type: TypeCreateNode, TxID: 8, Payload: EncodeCreateNode(2, "bob", nil)}))
	// txid 8 never commits.

	require.NoError(t, w.Close())

	res, err := Recover(path)
	require.NoError(t, err)
	require.False(t, res.Truncated)
	require.Len(t, res.Committed, 1)
	require.EqualValues(t, 7, res.Committed[0].TxID)
	require.Len(t, res.Committed[0].Records, 3)

	id, key, labels := DecodeCreateNode(res.Committed[0].Records[1].Payload)
	require.EqualValues(t, 1, id)
	require.Equal(t, "alice", key)
	require.Equal(t, []storage.LabelID{0}, labels)
}

func TestRecoverStopsAtCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal_2.gdw")
	w, err := Create(path, 2, Config{SyncMode: SyncFull}, 1000)
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Type: TypeBegin, TxID: 1}))
	require.NoError(t, w.Append(Record{Type: TypeCommit, TxID: 1}))
	require.NoError(t, w.Close())

	// Flip the last byte of the second (COMMIT) record, which has no payload,
	// so the byte is part of its CRC and the CRC check fails.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res, err := Recover(path)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Empty(t, res.Committed, "corrupting the COMMIT record must discard txid 1 as uncommitted")
}

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{Type: TypeSetNodeProp, TxID: 42, Payload: EncodeNodeProp(3, 1, storage.StringValue("hello"))}
	buf := rec.Encode()
	require.Equal(t, 0, len(buf)%8, "records must pad to a multiple of 8 bytes")

	got, n, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, rec.Type, got.Type)
	require.Equal(t, rec.TxID, got.TxID)

	id, pk, v := DecodeNodeProp(got.Payload)
	require.EqualValues(t, 3, id)
	require.EqualValues(t, 1, pk)
	require.Equal(t, "hello", v.S)
}
