package storage

import (
	"sort"
)

// BuildEdge is one edge fed to the builder: either direction is derived by
// the builder itself (it builds both the out- and in-adjacency CSR sections
// from the same edge set).
type BuildEdge struct {
	Src, Dst NodeID
	EType    ETypeID
	Props    map[PropKeyID]Value
}

// BuildNode is one live node fed to the builder, in the shape the merged
// snapshot+delta read path (pkg/raydb) already produces.
type BuildNode struct {
	ID     NodeID
	Key    string
	Labels []LabelID
	Props  map[PropKeyID]Value
}

// Dictionary carries the id→name tables needed to populate the snapshot's
// dictionary sections (spec.md §4.1 "labelStringIds[], etypeStringIds[],
// propkeyStringIds[]"). Index i holds the name for ID i; dictionaries only
// grow, so callers pass the full id→name table accumulated so far.
type Dictionary struct {
	Labels   []string
	Etypes   []string
	Propkeys []string
}

// SnapshotBuilder assembles a new snapshot generation from a caller-supplied
// live node/edge set — the merge of the prior snapshot and the delta
// overlay, performed by pkg/checkpoint (spec.md §4.4 step 1-2). The builder
// itself only knows how to turn already-merged, already-reconciled graph
// state into the on-disk CSR layout; it does not resolve delta semantics.
type SnapshotBuilder struct {
	generation  uint64
	createdNs   uint64
	dict        Dictionary
	codec       Compression
	numBuckets  uint32
	withInEdges bool

	nodes []BuildNode
	edges []BuildEdge
}

// NewSnapshotBuilder creates a builder for the given generation number.
// codec selects the compression applied to sections above the size
// threshold. SetKeyBuckets sizes the key index; left at 0, Build uses
// len(nodes) buckets (1 for an empty generation).
func NewSnapshotBuilder(generation uint64, createdUnixNs uint64, dict Dictionary, codec Compression, withInEdges bool) *SnapshotBuilder {
	return &SnapshotBuilder{generation: generation, createdNs: createdUnixNs, dict: dict, codec: codec, withInEdges: withInEdges}
}

func (b *SnapshotBuilder) AddNode(n BuildNode)  { b.nodes = append(b.nodes, n) }
func (b *SnapshotBuilder) AddEdge(e BuildEdge)  { b.edges = append(b.edges, e) }
func (b *SnapshotBuilder) SetKeyBuckets(n uint32) { b.numBuckets = n }

// Build serializes the accumulated nodes/edges into a complete snapshot
// file image: header, 23-entry section table, then section payloads, each
// independently compressed per spec.md §4.1/§4.4.
func (b *SnapshotBuilder) Build() ([]byte, error) {
	sort.Slice(b.nodes, func(i, j int) bool { return b.nodes[i].ID < b.nodes[j].ID })

	physToNodeID := make([]NodeID, len(b.nodes))
	nodeIDToPhys := make(map[NodeID]uint64, len(b.nodes))
	for phys, n := range b.nodes {
		physToNodeID[phys] = n.ID
		nodeIDToPhys[n.ID] = uint64(phys)
	}

	interner := newStringInterner()
	nodeKeyString := make([]StringID, len(b.nodes))
	nodeLabelOffsets := make([]uint64, len(b.nodes)+1)
	var nodeLabels []LabelID
	var maxNodeID uint64

	for phys, n := range b.nodes {
		if n.Key != "" {
			nodeKeyString[phys] = interner.intern(n.Key)
		}
		nodeLabelOffsets[phys] = uint64(len(nodeLabels))
		nodeLabels = append(nodeLabels, n.Labels...)
		if uint64(n.ID) > maxNodeID {
			maxNodeID = uint64(n.ID)
		}
	}
	nodeLabelOffsets[len(b.nodes)] = uint64(len(nodeLabels))

	// Group edges by physical src (and, if requested, physical dst) in
	// (etype, other) order, matching the CSR contract (spec.md §4.1).
	outByPhys := make([][]BuildEdge, len(b.nodes))
	var inByPhys [][]BuildEdge
	if b.withInEdges {
		inByPhys = make([][]BuildEdge, len(b.nodes))
	}
	for _, e := range b.edges {
		if sp, ok := nodeIDToPhys[e.Src]; ok {
			outByPhys[sp] = append(outByPhys[sp], e)
		}
		if b.withInEdges {
			if dp, ok := nodeIDToPhys[e.Dst]; ok {
				inByPhys[dp] = append(inByPhys[dp], e)
			}
		}
	}
	sortEdgesByOther := func(edges []BuildEdge, other func(BuildEdge) NodeID) {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].EType != edges[j].EType {
				return edges[i].EType < edges[j].EType
			}
			return other(edges[i]) < other(edges[j])
		})
	}

	outOffsets := make([]uint64, len(b.nodes)+1)
	var outDst []NodeID
	var outEType []ETypeID
	var edgePropOffsets []uint64
	var edgePropKeys []PropKeyID
	var edgePropVals [][16]byte

	for phys, edges := range outByPhys {
		sortEdgesByOther(edges, func(e BuildEdge) NodeID { return e.Dst })
		outOffsets[phys] = uint64(len(outDst))
		for _, e := range edges {
			outDst = append(outDst, e.Dst)
			outEType = append(outEType, e.EType)
			edgePropOffsets = append(edgePropOffsets, uint64(len(edgePropKeys)))
			for _, pk := range sortedPropKeys(e.Props) {
				v := e.Props[pk]
				if v.NullValue() {
					continue
				}
				edgePropKeys = append(edgePropKeys, pk)
				edgePropVals = append(edgePropVals, encodeValue(v, interner.intern))
			}
		}
	}
	outOffsets[len(b.nodes)] = uint64(len(outDst))
	edgePropOffsets = append(edgePropOffsets, uint64(len(edgePropKeys)))

	var inOffsets []uint64
	var inDst []NodeID
	var inEType []ETypeID
	if b.withInEdges {
		inOffsets = make([]uint64, len(b.nodes)+1)
		for phys, edges := range inByPhys {
			sortEdgesByOther(edges, func(e BuildEdge) NodeID { return e.Src })
			inOffsets[phys] = uint64(len(inDst))
			for _, e := range edges {
				inDst = append(inDst, e.Src)
				inEType = append(inEType, e.EType)
			}
		}
		inOffsets[len(b.nodes)] = uint64(len(inDst))
	}

	var nodePropOffsets []uint64 = make([]uint64, len(b.nodes)+1)
	var nodePropKeys []PropKeyID
	var nodePropVals [][16]byte
	for phys, n := range b.nodes {
		nodePropOffsets[phys] = uint64(len(nodePropKeys))
		for _, pk := range sortedPropKeys(n.Props) {
			v := n.Props[pk]
			if v.NullValue() {
				continue
			}
			nodePropKeys = append(nodePropKeys, pk)
			nodePropVals = append(nodePropVals, encodeValue(v, interner.intern))
		}
	}
	nodePropOffsets[len(b.nodes)] = uint64(len(nodePropKeys))

	kib := NewKeyIndexBuilder(b.keyBucketCount())
	for phys, n := range b.nodes {
		if n.Key != "" {
			kib.Add(n.Key, nodeKeyString[phys], n.ID)
		}
	}
	keyEntries, keyBuckets := kib.Build()

	labelStringIDs := internDictionary(interner, b.dict.Labels)
	etypeStringIDs := internDictionary(interner, b.dict.Etypes)
	propkeyStringIDs := internDictionary(interner, b.dict.Propkeys)

	flags := FlagHasProperties | FlagHasKeyBuckets
	if b.withInEdges {
		flags |= FlagHasInEdges
	}

	header := SnapshotHeader{
		Version:       snapshotVersion,
		MinReader:     snapshotMinReader,
		Flags:         flags,
		Generation:    b.generation,
		CreatedUnixNs: b.createdNs,
		NumNodes:      uint64(len(b.nodes)),
		NumEdges:      uint64(len(b.edges)),
		MaxNodeID:     maxNodeID,
		NumLabels:     uint64(len(b.dict.Labels)),
		NumEtypes:     uint64(len(b.dict.Etypes)),
		NumPropkeys:   uint64(len(b.dict.Propkeys)),
		NumStrings:    uint64(len(interner.strings)),
	}

	sectionPayloads := [numSections][]byte{
		secPhysToNodeID:     encodeNodeIDSlice(physToNodeID),
		secNodeIDToPhys:     nil, // derived at load time from physToNodeID; no separate on-disk copy needed
		secOutOffsets:       encodeU64Slice(outOffsets),
		secOutDst:           encodeNodeIDSlice(outDst),
		secOutEType:         encodeETypeSlice(outEType),
		secInOffsets:        encodeU64Slice(inOffsets),
		secInDst:            encodeNodeIDSlice(inDst),
		secInEType:          encodeETypeSlice(inEType),
		secLabelStrings:     encodeStringIDSlice(labelStringIDs),
		secEtypeStrings:     encodeStringIDSlice(etypeStringIDs),
		secPropkeyStrings:   encodeStringIDSlice(propkeyStringIDs),
		secNodeKeyString:    encodeStringIDSlice(nodeKeyString),
		secKeyEntries:       encodeKeyEntries(keyEntries),
		secKeyBuckets:       encodeU64Slice(keyBuckets),
		secNodeLabelOffsets: encodeU64Slice(nodeLabelOffsets),
		secNodeLabels:       encodeLabelIDSlice(nodeLabels),
		secNodePropOffsets:  encodeU64Slice(nodePropOffsets),
		secNodePropKeys:     encodePropKeyIDSlice(nodePropKeys),
		secNodePropVals:     encodePropVals(nodePropVals),
		secEdgePropOffsets:  encodeU64Slice(edgePropOffsets),
		secEdgePropKeys:     encodePropKeyIDSlice(edgePropKeys),
		secEdgePropVals:     encodePropVals(edgePropVals),
		secStringTable:      encodeStringTable(interner.strings),
	}

	return assembleSnapshot(header, sectionPayloads, b.codec)
}

func (b *SnapshotBuilder) keyBucketCount() uint32 {
	if b.numBuckets > 0 {
		return b.numBuckets
	}
	n := uint32(len(b.nodes))
	if n == 0 {
		return 1
	}
	return n
}

func assembleSnapshot(header SnapshotHeader, payloads [numSections][]byte, codec Compression) ([]byte, error) {
	entries := make([]sectionEntry, numSections)
	compressed := make([][]byte, numSections)
	offset := uint64(snapshotHeaderSize + numSections*sectionEntrySize)

	for i, payload := range payloads {
		c, out, err := compressSection(payload, codec)
		if err != nil {
			return nil, err
		}
		compressed[i] = out
		entries[i] = sectionEntry{
			Offset:           offset,
			Length:           uint64(len(out)),
			Compression:      c,
			UncompressedSize: uint32(len(payload)),
		}
		offset += uint64(len(out))
	}

	buf := make([]byte, 0, offset)
	buf = append(buf, encodeHeader(header)...)
	for _, e := range entries {
		buf = append(buf, encodeSectionEntry(e)...)
	}
	for _, c := range compressed {
		buf = append(buf, c...)
	}
	return buf, nil
}

func sortedPropKeys(props map[PropKeyID]Value) []PropKeyID {
	keys := make([]PropKeyID, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type stringInterner struct {
	index   map[string]StringID
	strings []string
}

func newStringInterner() *stringInterner {
	// slot 0 is reserved for NoString, per spec.md §4.1.
	return &stringInterner{index: map[string]StringID{"": NoString}, strings: []string{""}}
}

func (si *stringInterner) intern(s string) StringID {
	if id, ok := si.index[s]; ok {
		return id
	}
	id := StringID(len(si.strings))
	si.strings = append(si.strings, s)
	si.index[s] = id
	return id
}

func internDictionary(si *stringInterner, names []string) []StringID {
	out := make([]StringID, len(names))
	for i, n := range names {
		out[i] = si.intern(n)
	}
	return out
}
