package storage

import (
	"encoding/binary"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// Snapshot magic/version constants, per spec.md §6.
const (
	snapshotMagic      uint32 = 0x31534447 // "GDS1" little-endian
	snapshotVersion    uint32 = 1
	snapshotMinReader  uint32 = 1
	snapshotHeaderSize        = 88
	sectionEntrySize          = 24
	numSections               = 23
)

// Snapshot header flag bits (spec.md §4.1: "flags (has-in-edges,
// has-properties, has-key-buckets)").
const (
	FlagHasInEdges    uint32 = 1 << 0
	FlagHasProperties uint32 = 1 << 1
	FlagHasKeyBuckets uint32 = 1 << 2
)

// Section indices into the 23-entry section table. The order here is the
// on-disk contract; changing it is a format-breaking change.
const (
	secPhysToNodeID = iota
	secNodeIDToPhys
	secOutOffsets
	secOutDst
	secOutEType
	secInOffsets
	secInDst
	secInEType
	secLabelStrings
	secEtypeStrings
	secPropkeyStrings
	secNodeKeyString
	secKeyEntries
	secKeyBuckets
	secNodeLabelOffsets
	secNodeLabels
	secNodePropOffsets
	secNodePropKeys
	secNodePropVals
	secEdgePropOffsets
	secEdgePropKeys
	secEdgePropVals
	secStringTable
)

// SnapshotHeader is the 88-byte fixed header at the start of every
// snapshot file (spec.md §6).
type SnapshotHeader struct {
	Version       uint32
	MinReader     uint32
	Flags         uint32
	Generation    uint64
	CreatedUnixNs uint64
	NumNodes      uint64
	NumEdges      uint64
	MaxNodeID     uint64
	NumLabels     uint64
	NumEtypes     uint64
	NumPropkeys   uint64
	NumStrings    uint64
}

// sectionEntry is one row of the 23-entry section table.
type sectionEntry struct {
	Offset           uint64
	Length           uint64
	Compression      Compression
	UncompressedSize uint32
}

func encodeHeader(h SnapshotHeader) []byte {
	buf := make([]byte, snapshotHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.MinReader)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.Generation)
	binary.LittleEndian.PutUint64(buf[24:32], h.CreatedUnixNs)
	binary.LittleEndian.PutUint64(buf[32:40], h.NumNodes)
	binary.LittleEndian.PutUint64(buf[40:48], h.NumEdges)
	binary.LittleEndian.PutUint64(buf[48:56], h.MaxNodeID)
	binary.LittleEndian.PutUint64(buf[56:64], h.NumLabels)
	binary.LittleEndian.PutUint64(buf[64:72], h.NumEtypes)
	binary.LittleEndian.PutUint64(buf[72:80], h.NumPropkeys)
	binary.LittleEndian.PutUint64(buf[80:88], h.NumStrings)
	return buf
}

func decodeHeader(buf []byte) (SnapshotHeader, error) {
	if len(buf) < snapshotHeaderSize {
		return SnapshotHeader{}, &FormatError{Reason: "snapshot header truncated"}
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != snapshotMagic {
		return SnapshotHeader{}, &FormatError{Reason: "snapshot header: bad magic"}
	}
	h := SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:8]),
		MinReader:     binary.LittleEndian.Uint32(buf[8:12]),
		Flags:         binary.LittleEndian.Uint32(buf[12:16]),
		Generation:    binary.LittleEndian.Uint64(buf[16:24]),
		CreatedUnixNs: binary.LittleEndian.Uint64(buf[24:32]),
		NumNodes:      binary.LittleEndian.Uint64(buf[32:40]),
		NumEdges:      binary.LittleEndian.Uint64(buf[40:48]),
		MaxNodeID:     binary.LittleEndian.Uint64(buf[48:56]),
		NumLabels:     binary.LittleEndian.Uint64(buf[56:64]),
		NumEtypes:     binary.LittleEndian.Uint64(buf[64:72]),
		NumPropkeys:   binary.LittleEndian.Uint64(buf[72:80]),
		NumStrings:    binary.LittleEndian.Uint64(buf[80:88]),
	}
	if h.MinReader > snapshotVersion {
		return SnapshotHeader{}, &FormatError{Reason: "snapshot requires a newer reader"}
	}
	return h, nil
}

func encodeSectionEntry(e sectionEntry) []byte {
	buf := make([]byte, sectionEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], e.Length)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(e.Compression))
	binary.LittleEndian.PutUint32(buf[20:24], e.UncompressedSize)
	return buf
}

func decodeSectionEntry(buf []byte) sectionEntry {
	return sectionEntry{
		Offset:           binary.LittleEndian.Uint64(buf[0:8]),
		Length:           binary.LittleEndian.Uint64(buf[8:16]),
		Compression:      Compression(binary.LittleEndian.Uint32(buf[16:20])),
		UncompressedSize: binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// Snapshot is an opened, memory-mapped snapshot image: a self-describing
// binary blob read only, shared freely across any number of concurrent
// readers (spec.md §4.1). Every accessor is O(1) or O(log k) and returns
// data that stays valid for as long as the Snapshot is open.
type Snapshot struct {
	mu   sync.Mutex
	file *os.File
	data mmap.MMap

	header   SnapshotHeader
	sections [numSections]sectionEntry

	// decoded (decompressed) section payloads, all populated eagerly by
	// load at open time.
	decoded [numSections][]byte

	physToNodeID []NodeID
	nodeIDToPhys map[NodeID]uint64

	outOffsets, inOffsets []uint64
	outDst, inDst         []NodeID
	outEType, inEType     []ETypeID

	stringTable []string // index by StringID

	labelStringIDs, etypeStringIDs, propkeyStringIDs []StringID
	nodeKeyString                                     []StringID

	keyEntries []KeyIndexEntry
	keyBuckets []uint64

	nodeLabelOffsets []uint64
	nodeLabels       []LabelID

	nodePropOffsets []uint64
	nodePropKeys    []PropKeyID
	nodePropVals    [][16]byte

	edgePropOffsets []uint64
	edgePropKeys    []PropKeyID
	edgePropVals    [][16]byte

	closed bool
}

// OpenSnapshot memory-maps and validates the snapshot file at path. The
// file's header, section table, and every section are eagerly decoded and
// validated (not purely lazy) so that a corrupt file fails at open rather
// than on some later, harder-to-attribute read.
func OpenSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Cause: err}
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "mmap", Path: path, Cause: err}
	}

	s := &Snapshot{file: f, data: data, nodeIDToPhys: make(map[NodeID]uint64)}
	if err := s.load(); err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	return s, nil
}

// OpenSnapshotBytes loads a snapshot image already resident in memory (as
// returned by a container's ActiveGeneration) without mmap'ing a file of
// its own. Used by the checkpoint compactor, which receives the prior
// generation's bytes straight from the container layer rather than a path
// on disk.
func OpenSnapshotBytes(data []byte) (*Snapshot, error) {
	s := &Snapshot{data: mmap.MMap(data), nodeIDToPhys: make(map[NodeID]uint64)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) load() error {
	if len(s.data) < snapshotHeaderSize+numSections*sectionEntrySize {
		return &FormatError{Reason: "snapshot file too small for header + section table"}
	}
	h, err := decodeHeader(s.data[:snapshotHeaderSize])
	if err != nil {
		return err
	}
	s.header = h

	off := snapshotHeaderSize
	for i := 0; i < numSections; i++ {
		s.sections[i] = decodeSectionEntry(s.data[off : off+sectionEntrySize])
		off += sectionEntrySize
	}

	for i := 0; i < numSections; i++ {
		payload, err := s.section(i)
		if err != nil {
			return err
		}
		s.decoded[i] = payload
	}

	s.physToNodeID = decodeU64SliceAsNodeID(s.decoded[secPhysToNodeID])
	for phys, id := range s.physToNodeID {
		s.nodeIDToPhys[id] = uint64(phys)
	}

	s.outOffsets = decodeU64Slice(s.decoded[secOutOffsets])
	s.outDst = decodeU64SliceAsNodeID(s.decoded[secOutDst])
	s.outEType = decodeU32SliceAsEType(s.decoded[secOutEType])

	if s.header.Flags&FlagHasInEdges != 0 {
		s.inOffsets = decodeU64Slice(s.decoded[secInOffsets])
		s.inDst = decodeU64SliceAsNodeID(s.decoded[secInDst])
		s.inEType = decodeU32SliceAsEType(s.decoded[secInEType])
	}

	s.stringTable = decodeStringTable(s.decoded[secStringTable], int(s.header.NumStrings))
	s.labelStringIDs = decodeU32SliceAsStringID(s.decoded[secLabelStrings])
	s.etypeStringIDs = decodeU32SliceAsStringID(s.decoded[secEtypeStrings])
	s.propkeyStringIDs = decodeU32SliceAsStringID(s.decoded[secPropkeyStrings])
	s.nodeKeyString = decodeU32SliceAsStringID(s.decoded[secNodeKeyString])

	if s.header.Flags&FlagHasKeyBuckets != 0 {
		s.keyEntries = decodeKeyEntries(s.decoded[secKeyEntries])
		s.keyBuckets = decodeU64Slice(s.decoded[secKeyBuckets])
	}

	s.nodeLabelOffsets = decodeU64Slice(s.decoded[secNodeLabelOffsets])
	s.nodeLabels = decodeU32SliceAsLabelID(s.decoded[secNodeLabels])

	if s.header.Flags&FlagHasProperties != 0 {
		s.nodePropOffsets = decodeU64Slice(s.decoded[secNodePropOffsets])
		s.nodePropKeys = decodeU32SliceAsPropKeyID(s.decoded[secNodePropKeys])
		s.nodePropVals = decodePropVals(s.decoded[secNodePropVals])
		s.edgePropOffsets = decodeU64Slice(s.decoded[secEdgePropOffsets])
		s.edgePropKeys = decodeU32SliceAsPropKeyID(s.decoded[secEdgePropKeys])
		s.edgePropVals = decodePropVals(s.decoded[secEdgePropVals])
	}

	return nil
}

// section returns the decompressed payload for section index i.
func (s *Snapshot) section(i int) ([]byte, error) {
	e := s.sections[i]
	if e.Length == 0 {
		return nil, nil
	}
	if uint64(len(s.data)) < e.Offset+e.Length {
		return nil, &FormatError{Reason: "section extends past end of file"}
	}
	raw := s.data[e.Offset : e.Offset+e.Length]
	return decompressSection(raw, e.Compression, e.UncompressedSize)
}

// Close unmaps the snapshot file. Any Node/Neighbor slices returned by
// earlier reads must not be used after Close.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		// Backed by an in-memory byte slice (OpenSnapshotBytes): nothing to
		// unmap or close.
		return nil
	}
	if err := s.data.Unmap(); err != nil {
		s.file.Close()
		return &IOError{Op: "munmap", Path: s.file.Name(), Cause: err}
	}
	return s.file.Close()
}

func (s *Snapshot) Generation() uint64  { return s.header.Generation }
func (s *Snapshot) NumNodes() uint64    { return s.header.NumNodes }
func (s *Snapshot) NumEdges() uint64    { return s.header.NumEdges }
func (s *Snapshot) MaxNodeID() NodeID   { return NodeID(s.header.MaxNodeID) }
func (s *Snapshot) NumLabels() uint64   { return s.header.NumLabels }
func (s *Snapshot) NumEtypes() uint64   { return s.header.NumEtypes }
func (s *Snapshot) NumPropkeys() uint64 { return s.header.NumPropkeys }

// PhysToNodeID resolves a physical (dense array) index back to its NodeID.
func (s *Snapshot) PhysToNodeID(phys uint64) NodeID {
	if phys >= uint64(len(s.physToNodeID)) {
		return 0
	}
	return s.physToNodeID[phys]
}

// NodeProps returns the full property set stored for the node at physical
// index phys, resolving every key present in the snapshot's node-property
// section (checkpoint's merge path reads this wholesale rather than probing
// one PropKeyID at a time).
func (s *Snapshot) NodeProps(phys uint64) map[PropKeyID]Value {
	return s.propsAt(s.nodePropOffsets, s.nodePropKeys, s.nodePropVals, phys)
}

func (s *Snapshot) propsAt(offsets []uint64, keys []PropKeyID, vals [][16]byte, idx uint64) map[PropKeyID]Value {
	if offsets == nil || idx+1 >= uint64(len(offsets)) {
		return nil
	}
	lo, hi := offsets[idx], offsets[idx+1]
	if lo == hi {
		return nil
	}
	out := make(map[PropKeyID]Value, hi-lo)
	for i := lo; i < hi; i++ {
		out[keys[i]] = decodeValue(vals[i], s.resolveString)
	}
	return out
}

// EdgeDetail is one out-edge of a node together with its resolved property
// set, as returned by OutEdgesDetailed.
type EdgeDetail struct {
	EType ETypeID
	Dst   NodeID
	Props map[PropKeyID]Value
}

// OutEdgesDetailed returns phys's out-adjacency the same way GetOutEdges
// does, but with each edge's property set already resolved — the shape
// pkg/checkpoint needs to re-feed edges into a SnapshotBuilder without
// re-deriving per-edge ordinals itself.
func (s *Snapshot) OutEdgesDetailed(phys uint64) []EdgeDetail {
	if s.outOffsets == nil || phys+1 >= uint64(len(s.outOffsets)) {
		return nil
	}
	lo, hi := s.outOffsets[phys], s.outOffsets[phys+1]
	out := make([]EdgeDetail, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, EdgeDetail{
			EType: s.outEType[i],
			Dst:   s.outDst[i],
			Props: s.propsAt(s.edgePropOffsets, s.edgePropKeys, s.edgePropVals, i),
		})
	}
	return out
}

// HasNode reports whether id is present in this snapshot generation.
func (s *Snapshot) HasNode(id NodeID) bool {
	_, ok := s.nodeIDToPhys[id]
	return ok
}

// GetPhys resolves a NodeID to its physical (dense array) index.
func (s *Snapshot) GetPhys(id NodeID) (uint64, bool) {
	phys, ok := s.nodeIDToPhys[id]
	return phys, ok
}

// GetNodeKey returns the external key of the node at physical index phys,
// or "" if it has none.
func (s *Snapshot) GetNodeKey(phys uint64) string {
	if phys >= uint64(len(s.nodeKeyString)) {
		return ""
	}
	sid := s.nodeKeyString[phys]
	if sid == NoString {
		return ""
	}
	return s.resolveString(sid)
}

func (s *Snapshot) resolveString(id StringID) string {
	if int(id) >= len(s.stringTable) {
		return ""
	}
	return s.stringTable[id]
}

// GetOutEdges returns the out-adjacency of the node at physical index phys,
// sorted by (etype, dst) per the CSR contract.
func (s *Snapshot) GetOutEdges(phys uint64) []Neighbor {
	return s.edgesFrom(phys, s.outOffsets, s.outDst, s.outEType)
}

// GetInEdges returns the in-adjacency of the node at physical index phys.
// Empty (never nil-panicking) if the snapshot was built without an
// in-edge index (FlagHasInEdges unset).
func (s *Snapshot) GetInEdges(phys uint64) []Neighbor {
	return s.edgesFrom(phys, s.inOffsets, s.inDst, s.inEType)
}

func (s *Snapshot) edgesFrom(phys uint64, offsets []uint64, dst []NodeID, etype []ETypeID) []Neighbor {
	if offsets == nil || phys+1 >= uint64(len(offsets)) {
		return nil
	}
	lo, hi := offsets[phys], offsets[phys+1]
	out := make([]Neighbor, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, Neighbor{EType: etype[i], Other: dst[i]})
	}
	return out
}

// HasOutEdge reports whether an out-edge (phys, etype, dst) exists, via
// binary search within the node's sorted out-adjacency slice (spec.md §4.1
// "O(log k)... via binary search within the edge slice").
func (s *Snapshot) HasOutEdge(phys uint64, etype ETypeID, dst NodeID) bool {
	if s.outOffsets == nil || phys+1 >= uint64(len(s.outOffsets)) {
		return false
	}
	lo, hi := s.outOffsets[phys], s.outOffsets[phys+1]
	target := EdgeKey{EType: etype, Dst: dst}
	idx := sort.Search(int(hi-lo), func(i int) bool {
		j := lo + uint64(i)
		return !(EdgeKey{EType: s.outEType[j], Dst: s.outDst[j]}).Less(target)
	})
	j := lo + uint64(idx)
	return j < hi && s.outEType[j] == etype && s.outDst[j] == dst
}

// GetNodeProp returns the property value for (phys, pk), and whether it is
// present in this snapshot generation at all (a present-but-null value is
// never written to the snapshot section; checkpoint omits nulled props).
func (s *Snapshot) GetNodeProp(phys uint64, pk PropKeyID) (Value, bool) {
	return s.lookupProp(s.nodePropOffsets, s.nodePropKeys, s.nodePropVals, phys, pk)
}

// GetEdgeProp returns the property value for an edge, addressed by its
// position within the flattened, sorted edge list (phys's out-adjacency
// concatenation order — callers normally reach this via the delta-merged
// read path in pkg/raydb rather than calling it directly).
func (s *Snapshot) GetEdgeProp(edgeOrdinal uint64, pk PropKeyID) (Value, bool) {
	return s.lookupProp(s.edgePropOffsets, s.edgePropKeys, s.edgePropVals, edgeOrdinal, pk)
}

func (s *Snapshot) lookupProp(offsets []uint64, keys []PropKeyID, vals [][16]byte, idx uint64, pk PropKeyID) (Value, bool) {
	if offsets == nil || idx+1 >= uint64(len(offsets)) {
		return Value{}, false
	}
	lo, hi := offsets[idx], offsets[idx+1]
	for i := lo; i < hi; i++ {
		if keys[i] == pk {
			return decodeValue(vals[i], s.resolveString), true
		}
	}
	return Value{}, false
}

// IterateLabels returns the label set of the node at physical index phys.
func (s *Snapshot) IterateLabels(phys uint64) []LabelID {
	if s.nodeLabelOffsets == nil || phys+1 >= uint64(len(s.nodeLabelOffsets)) {
		return nil
	}
	lo, hi := s.nodeLabelOffsets[phys], s.nodeLabelOffsets[phys+1]
	return s.nodeLabels[lo:hi]
}

// LookupByKey resolves an external string key to a live NodeID, per
// spec.md §6's lookup_by_key / §4.1's key-index lookup algorithm.
func (s *Snapshot) LookupByKey(key string) (NodeID, bool) {
	if s.header.Flags&FlagHasKeyBuckets == 0 {
		return 0, false
	}
	return LookupKeyIndex(s.keyEntries, s.keyBuckets, key, func(id StringID) (string, bool) {
		if int(id) >= len(s.stringTable) {
			return "", false
		}
		return s.stringTable[id], true
	})
}

// LabelString, EtypeString, and PropkeyString resolve dictionary IDs back
// to their UTF-8 names through the snapshot's string table.
func (s *Snapshot) LabelString(id LabelID) string {
	if int(id) >= len(s.labelStringIDs) {
		return ""
	}
	return s.resolveString(s.labelStringIDs[id])
}

func (s *Snapshot) EtypeString(id ETypeID) string {
	if int(id) >= len(s.etypeStringIDs) {
		return ""
	}
	return s.resolveString(s.etypeStringIDs[id])
}

func (s *Snapshot) PropkeyString(id PropKeyID) string {
	if int(id) >= len(s.propkeyStringIDs) {
		return ""
	}
	return s.resolveString(s.propkeyStringIDs[id])
}

func decodeValue(raw [16]byte, resolve func(StringID) string) Value {
	tag := ValueTag(raw[0])
	payload := binary.LittleEndian.Uint64(raw[8:16])
	switch tag {
	case TagBool:
		return BoolValue(payload != 0)
	case TagInt64:
		return Int64Value(int64(payload))
	case TagFloat64:
		return Float64Value(float64FromBits(payload))
	case TagString:
		return StringValue(resolve(StringID(payload)))
	default:
		return Null
	}
}

func encodeValue(v Value, intern func(string) StringID) [16]byte {
	var raw [16]byte
	raw[0] = byte(v.Tag)
	switch v.Tag {
	case TagBool:
		if v.B {
			binary.LittleEndian.PutUint64(raw[8:16], 1)
		}
	case TagInt64:
		binary.LittleEndian.PutUint64(raw[8:16], uint64(v.I))
	case TagFloat64:
		binary.LittleEndian.PutUint64(raw[8:16], float64Bits(v.F))
	case TagString:
		binary.LittleEndian.PutUint64(raw[8:16], uint64(intern(v.S)))
	}
	return raw
}
