package legacy

import (
	"encoding/json"
	"fmt"

	"github.com/raydb/raydb/pkg/storage"
)

// wireValue is the JSON-serializable form of a storage.Value. The tagged
// union doesn't round-trip through encoding/json on its own (a zero Float64
// and an absent Float64 look the same), so the wire form carries the tag
// explicitly.
type wireValue struct {
	Tag storage.ValueTag `json:"t"`
	B   bool             `json:"b,omitempty"`
	I   int64            `json:"i,omitempty"`
	F   float64          `json:"f,omitempty"`
	S   string           `json:"s,omitempty"`
}

func toWireValue(v storage.Value) wireValue {
	return wireValue{Tag: v.Tag, B: v.B, I: v.I, F: v.F, S: v.S}
}

func fromWireValue(w wireValue) storage.Value {
	return storage.Value{Tag: w.Tag, B: w.B, I: w.I, F: w.F, S: w.S}
}

// wireNode is the JSON-serializable form of a node record.
type wireNode struct {
	ID     uint64             `json:"id"`
	Key    string             `json:"key,omitempty"`
	Labels []uint32           `json:"labels,omitempty"`
	Props  map[uint32]wireValue `json:"props,omitempty"`
}

func encodeNode(n *storage.Node) ([]byte, error) {
	w := wireNode{
		ID:    uint64(n.ID),
		Key:   n.Key,
		Props: make(map[uint32]wireValue, len(n.Props)),
	}
	for _, l := range n.Labels {
		w.Labels = append(w.Labels, uint32(l))
	}
	for k, v := range n.Props {
		w.Props[uint32(k)] = toWireValue(v)
	}
	return json.Marshal(w)
}

func decodeNode(data []byte) (*storage.Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("legacy: decode node: %w", err)
	}
	n := &storage.Node{
		ID:    storage.NodeID(w.ID),
		Key:   w.Key,
		Props: make(map[storage.PropKeyID]storage.Value, len(w.Props)),
	}
	for _, l := range w.Labels {
		n.Labels = append(n.Labels, storage.LabelID(l))
	}
	for k, v := range w.Props {
		n.Props[storage.PropKeyID(k)] = fromWireValue(v)
	}
	return n, nil
}

// wireEdge is the JSON-serializable form of an edge record. The triple
// itself lives in the key (see edgeKey); the value only carries properties.
type wireEdge struct {
	Props map[uint32]wireValue `json:"props,omitempty"`
}

func encodeEdgeProps(props map[storage.PropKeyID]storage.Value) ([]byte, error) {
	w := wireEdge{Props: make(map[uint32]wireValue, len(props))}
	for k, v := range props {
		w.Props[uint32(k)] = toWireValue(v)
	}
	return json.Marshal(w)
}

func decodeEdgeProps(data []byte) (map[storage.PropKeyID]storage.Value, error) {
	var w wireEdge
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("legacy: decode edge: %w", err)
	}
	props := make(map[storage.PropKeyID]storage.Value, len(w.Props))
	for k, v := range w.Props {
		props[storage.PropKeyID(k)] = fromWireValue(v)
	}
	return props, nil
}
