package storage

import (
	"encoding/binary"
	"math"
)

// This file holds the flat array (de)serializers shared by the snapshot
// reader (snapshot.go) and the checkpoint builder (snapshot_build.go). Every
// section is a flat little-endian array of fixed-width elements; decoding a
// section is one linear copy with no parsing, which is why OpenSnapshot can afford to decode
// every section eagerly instead of parsing lazily on first touch.

func float64Bits(f float64) uint64    { return math.Float64bits(f) }
func float64FromBits(b uint64) float64 { return math.Float64frombits(b) }

func decodeU64Slice(buf []byte) []uint64 {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 8
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return out
}

func encodeU64Slice(vals []uint64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], v)
	}
	return buf
}

func decodeU64SliceAsNodeID(buf []byte) []NodeID {
	raw := decodeU64Slice(buf)
	out := make([]NodeID, len(raw))
	for i, v := range raw {
		out[i] = NodeID(v)
	}
	return out
}

func encodeNodeIDSlice(vals []NodeID) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(v))
	}
	return buf
}

func decodeU32Slice(buf []byte) []uint32 {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out
}

func encodeU32Slice(vals []uint32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

func decodeU32SliceAsEType(buf []byte) []ETypeID {
	raw := decodeU32Slice(buf)
	out := make([]ETypeID, len(raw))
	for i, v := range raw {
		out[i] = ETypeID(v)
	}
	return out
}

func encodeETypeSlice(vals []ETypeID) []byte {
	u := make([]uint32, len(vals))
	for i, v := range vals {
		u[i] = uint32(v)
	}
	return encodeU32Slice(u)
}

func decodeU32SliceAsLabelID(buf []byte) []LabelID {
	raw := decodeU32Slice(buf)
	out := make([]LabelID, len(raw))
	for i, v := range raw {
		out[i] = LabelID(v)
	}
	return out
}

func encodeLabelIDSlice(vals []LabelID) []byte {
	u := make([]uint32, len(vals))
	for i, v := range vals {
		u[i] = uint32(v)
	}
	return encodeU32Slice(u)
}

func decodeU32SliceAsPropKeyID(buf []byte) []PropKeyID {
	raw := decodeU32Slice(buf)
	out := make([]PropKeyID, len(raw))
	for i, v := range raw {
		out[i] = PropKeyID(v)
	}
	return out
}

func encodePropKeyIDSlice(vals []PropKeyID) []byte {
	u := make([]uint32, len(vals))
	for i, v := range vals {
		u[i] = uint32(v)
	}
	return encodeU32Slice(u)
}

func decodeU32SliceAsStringID(buf []byte) []StringID {
	raw := decodeU32Slice(buf)
	out := make([]StringID, len(raw))
	for i, v := range raw {
		out[i] = StringID(v)
	}
	return out
}

func encodeStringIDSlice(vals []StringID) []byte {
	u := make([]uint32, len(vals))
	for i, v := range vals {
		u[i] = uint32(v)
	}
	return encodeU32Slice(u)
}

// String table layout: numStrings+1 uint64 byte-offsets followed by the
// concatenated UTF-8 bytes of every string, offset[i]..offset[i+1] giving
// string i's span. This is the one section that self-describes two
// logically distinct arrays (offsets, bytes) to stay within the 23-section
// budget (spec.md §6).
func encodeStringTable(strs []string) []byte {
	offsets := make([]uint64, len(strs)+1)
	var total uint64
	for i, s := range strs {
		offsets[i] = total
		total += uint64(len(s))
	}
	offsets[len(strs)] = total

	buf := make([]byte, 8*len(offsets)+int(total))
	w := encodeU64Slice(offsets)
	copy(buf, w)
	pos := len(w)
	for _, s := range strs {
		pos += copy(buf[pos:], s)
	}
	return buf
}

func decodeStringTable(buf []byte, numStrings int) []string {
	if numStrings == 0 || len(buf) == 0 {
		return nil
	}
	offTableLen := 8 * (numStrings + 1)
	if len(buf) < offTableLen {
		return nil
	}
	offsets := decodeU64Slice(buf[:offTableLen])
	data := buf[offTableLen:]
	out := make([]string, numStrings)
	for i := 0; i < numStrings; i++ {
		lo, hi := offsets[i], offsets[i+1]
		if hi > uint64(len(data)) || lo > hi {
			continue
		}
		out[i] = string(data[lo:hi])
	}
	return out
}

func decodeKeyEntries(buf []byte) []KeyIndexEntry {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / KeyIndexEntrySize
	out := make([]KeyIndexEntry, n)
	for i := 0; i < n; i++ {
		out[i] = DecodeKeyIndexEntry(buf[i*KeyIndexEntrySize : (i+1)*KeyIndexEntrySize])
	}
	return out
}

func encodeKeyEntries(entries []KeyIndexEntry) []byte {
	buf := make([]byte, len(entries)*KeyIndexEntrySize)
	for i, e := range entries {
		b := EncodeKeyIndexEntry(e)
		copy(buf[i*KeyIndexEntrySize:], b[:])
	}
	return buf
}

func decodePropVals(buf []byte) [][16]byte {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 16
	out := make([][16]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], buf[i*16:i*16+16])
	}
	return out
}

func encodePropVals(vals [][16]byte) []byte {
	buf := make([]byte, len(vals)*16)
	for i, v := range vals {
		copy(buf[i*16:], v[:])
	}
	return buf
}
