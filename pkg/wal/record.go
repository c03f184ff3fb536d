// Package wal implements RayDB's write-ahead log (C3): a framed,
// CRC32C-protected, append-only record stream that is the sole durability
// primitive for acknowledged-but-not-yet-checkpointed work.
package wal

import (
	"encoding/binary"

	"github.com/raydb/raydb/pkg/checksum"
	"github.com/raydb/raydb/pkg/storage"
)

// RecordType identifies the kind of operation a WAL record carries.
type RecordType uint8

const (
	TypeBegin    RecordType = 1
	TypeCommit   RecordType = 2
	TypeRollback RecordType = 3

	TypeCreateNode RecordType = 10
	TypeDeleteNode RecordType = 11

	TypeAddEdge    RecordType = 20
	TypeDeleteEdge RecordType = 21

	TypeDefineLabel     RecordType = 30
	TypeAddNodeLabel    RecordType = 31
	TypeRemoveNodeLabel RecordType = 32

	TypeDefineEtype RecordType = 40

	TypeDefinePropkey RecordType = 50
	TypeSetNodeProp   RecordType = 51
	TypeDelNodeProp   RecordType = 52
	TypeSetEdgeProp   RecordType = 53
	TypeDelEdgeProp   RecordType = 54
)

// RecordHeaderSize is the fixed 20-byte record header (spec.md §4.3):
// recLen:u32 | type:u8 | flags:u8 | reserved:u16 | txid:u64 | payloadLen:u32.
const RecordHeaderSize = 20

// Record is one decoded WAL entry: a header plus its raw payload. Payload
// layout is fixed-schema per Type; encode/decode helpers below interpret it.
type Record struct {
	Type    RecordType
	Flags   uint8
	TxID    uint64
	Payload []byte
}

// Encode serializes r into its full on-disk form: 20-byte header, payload,
// 4-byte CRC32C over header+payload, then zero-padding to a multiple of 8
// bytes total (spec.md §4.3).
func (r Record) Encode() []byte {
	unpadded := RecordHeaderSize + len(r.Payload) + 4
	total := (unpadded + 7) &^ 7

	buf := make([]byte, total)
	recLen := uint32(unpadded)
	binary.LittleEndian.PutUint32(buf[0:4], recLen)
	buf[4] = byte(r.Type)
	buf[5] = r.Flags
	// buf[6:8] reserved, left zero.
	binary.LittleEndian.PutUint64(buf[8:16], r.TxID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(r.Payload)))
	copy(buf[RecordHeaderSize:], r.Payload)

	crc := checksum.CRC32C(buf[:RecordHeaderSize+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[RecordHeaderSize+len(r.Payload):], crc)
	return buf
}

// DecodeRecord reads one record starting at the head of buf, returning the
// record, the total on-disk length consumed (including CRC and padding),
// and an error if the header is malformed or the CRC does not match (the
// caller — wal.go's recovery scan — treats a CRC mismatch as end-of-log,
// not necessarily a hard failure).
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < RecordHeaderSize {
		return Record{}, 0, errShortHeader
	}
	recLen := binary.LittleEndian.Uint32(buf[0:4])
	if recLen < RecordHeaderSize+4 || int(recLen) > len(buf) {
		return Record{}, 0, errShortHeader
	}
	typ := RecordType(buf[4])
	flags := buf[5]
	txid := binary.LittleEndian.Uint64(buf[8:16])
	payloadLen := binary.LittleEndian.Uint32(buf[16:20])

	if int(RecordHeaderSize+payloadLen+4) != int(recLen) {
		return Record{}, 0, errShortHeader
	}
	payload := buf[RecordHeaderSize : RecordHeaderSize+payloadLen]
	wantCRC := binary.LittleEndian.Uint32(buf[RecordHeaderSize+payloadLen : recLen])
	if !checksum.Verify(buf[:RecordHeaderSize+payloadLen], wantCRC) {
		return Record{}, 0, errCRCMismatch
	}

	total := (int(recLen) + 7) &^ 7
	if total > len(buf) {
		return Record{}, 0, errShortHeader
	}

	out := make([]byte, payloadLen)
	copy(out, payload)
	return Record{Type: typ, Flags: flags, TxID: txid, Payload: out}, total, nil
}

// --- payload encoders/decoders, one pair per record type with a body ---

func putUint64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:off+8], v) }
func putUint32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }
func getUint64(b []byte, off int) uint64    { return binary.LittleEndian.Uint64(b[off : off+8]) }
func getUint32(b []byte, off int) uint32    { return binary.LittleEndian.Uint32(b[off : off+4]) }

func putString(buf []byte, off int, s string) int {
	putUint32(buf, off, uint32(len(s)))
	copy(buf[off+4:], s)
	return off + 4 + len(s)
}

func getString(buf []byte, off int) (string, int) {
	n := int(getUint32(buf, off))
	return string(buf[off+4 : off+4+n]), off + 4 + n
}

func encodeValue(v storage.Value) []byte {
	buf := make([]byte, 1+8+4) // tag, numeric payload, string length (0 if n/a)
	buf[0] = byte(v.Tag)
	switch v.Tag {
	case storage.TagBool:
		if v.B {
			putUint64(buf, 1, 1)
		}
	case storage.TagInt64:
		putUint64(buf, 1, uint64(v.I))
	case storage.TagFloat64:
		putUint64(buf, 1, floatBits(v.F))
	case storage.TagString:
		out := make([]byte, 1+4+len(v.S))
		out[0] = buf[0]
		putString(out, 1, v.S)
		return out
	}
	return buf[:9]
}

func decodeValue(buf []byte, off int) (storage.Value, int) {
	tag := storage.ValueTag(buf[off])
	switch tag {
	case storage.TagBool:
		return storage.BoolValue(getUint64(buf, off+1) != 0), off + 9
	case storage.TagInt64:
		return storage.Int64Value(int64(getUint64(buf, off+1))), off + 9
	case storage.TagFloat64:
		return storage.Float64Value(floatFromBits(getUint64(buf, off+1))), off + 9
	case storage.TagString:
		s, next := getString(buf, off+1)
		return storage.StringValue(s), next
	default:
		return storage.Null, off + 9
	}
}

// CreateNodePayload / ADD_EDGE etc. payloads below are intentionally simple
// fixed+varlen encodings; they exist purely to be replayed by
// pkg/checkpoint / pkg/raydb during recovery, not to be a general
// serialization format.

func EncodeCreateNode(id storage.NodeID, key string, labels []storage.LabelID) []byte {
	buf := make([]byte, 8+4+len(key)+4+4*len(labels))
	putUint64(buf, 0, uint64(id))
	off := putString(buf, 8, key)
	putUint32(buf, off, uint32(len(labels)))
	off += 4
	for _, l := range labels {
		putUint32(buf, off, uint32(l))
		off += 4
	}
	return buf
}

func DecodeCreateNode(buf []byte) (id storage.NodeID, key string, labels []storage.LabelID) {
	id = storage.NodeID(getUint64(buf, 0))
	var off int
	key, off = getString(buf, 8)
	n := int(getUint32(buf, off))
	off += 4
	labels = make([]storage.LabelID, n)
	for i := 0; i < n; i++ {
		labels[i] = storage.LabelID(getUint32(buf, off))
		off += 4
	}
	return
}

func EncodeDeleteNode(id storage.NodeID) []byte {
	buf := make([]byte, 8)
	putUint64(buf, 0, uint64(id))
	return buf
}

func DecodeDeleteNode(buf []byte) storage.NodeID {
	return storage.NodeID(getUint64(buf, 0))
}

func EncodeEdge(k storage.EdgeKey) []byte {
	buf := make([]byte, 20)
	putUint64(buf, 0, uint64(k.Src))
	putUint32(buf, 8, uint32(k.EType))
	putUint64(buf, 12, uint64(k.Dst))
	return buf
}

func DecodeEdge(buf []byte) storage.EdgeKey {
	return storage.EdgeKey{
		Src:   storage.NodeID(getUint64(buf, 0)),
		EType: storage.ETypeID(getUint32(buf, 8)),
		Dst:   storage.NodeID(getUint64(buf, 12)),
	}
}

func EncodeDefineDict(id uint32, name string) []byte {
	buf := make([]byte, 4+4+len(name))
	putUint32(buf, 0, id)
	putString(buf, 4, name)
	return buf
}

func DecodeDefineDict(buf []byte) (id uint32, name string) {
	id = getUint32(buf, 0)
	name, _ = getString(buf, 4)
	return
}

func EncodeNodeLabel(id storage.NodeID, l storage.LabelID) []byte {
	buf := make([]byte, 12)
	putUint64(buf, 0, uint64(id))
	putUint32(buf, 8, uint32(l))
	return buf
}

func DecodeNodeLabel(buf []byte) (storage.NodeID, storage.LabelID) {
	return storage.NodeID(getUint64(buf, 0)), storage.LabelID(getUint32(buf, 8))
}

func EncodeNodeProp(id storage.NodeID, pk storage.PropKeyID, v storage.Value) []byte {
	vbuf := encodeValue(v)
	buf := make([]byte, 8+4+len(vbuf))
	putUint64(buf, 0, uint64(id))
	putUint32(buf, 8, uint32(pk))
	copy(buf[12:], vbuf)
	return buf
}

func DecodeNodeProp(buf []byte) (storage.NodeID, storage.PropKeyID, storage.Value) {
	id := storage.NodeID(getUint64(buf, 0))
	pk := storage.PropKeyID(getUint32(buf, 8))
	v, _ := decodeValue(buf, 12)
	return id, pk, v
}

func EncodeDelNodeProp(id storage.NodeID, pk storage.PropKeyID) []byte {
	buf := make([]byte, 12)
	putUint64(buf, 0, uint64(id))
	putUint32(buf, 8, uint32(pk))
	return buf
}

func DecodeDelNodeProp(buf []byte) (storage.NodeID, storage.PropKeyID) {
	return storage.NodeID(getUint64(buf, 0)), storage.PropKeyID(getUint32(buf, 8))
}

func EncodeEdgeProp(k storage.EdgeKey, pk storage.PropKeyID, v storage.Value) []byte {
	ebuf := EncodeEdge(k)
	vbuf := encodeValue(v)
	buf := make([]byte, len(ebuf)+4+len(vbuf))
	copy(buf, ebuf)
	putUint32(buf, len(ebuf), uint32(pk))
	copy(buf[len(ebuf)+4:], vbuf)
	return buf
}

func DecodeEdgeProp(buf []byte) (storage.EdgeKey, storage.PropKeyID, storage.Value) {
	k := DecodeEdge(buf[:20])
	pk := storage.PropKeyID(getUint32(buf, 20))
	v, _ := decodeValue(buf, 24)
	return k, pk, v
}

func EncodeDelEdgeProp(k storage.EdgeKey, pk storage.PropKeyID) []byte {
	ebuf := EncodeEdge(k)
	buf := make([]byte, len(ebuf)+4)
	copy(buf, ebuf)
	putUint32(buf, len(ebuf), uint32(pk))
	return buf
}

func DecodeDelEdgeProp(buf []byte) (storage.EdgeKey, storage.PropKeyID) {
	k := DecodeEdge(buf[:20])
	return k, storage.PropKeyID(getUint32(buf, 20))
}
