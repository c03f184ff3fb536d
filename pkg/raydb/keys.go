package raydb

import (
	"fmt"

	"github.com/raydb/raydb/pkg/mvcc"
	"github.com/raydb/raydb/pkg/storage"
)

// nodeMVCCKey and edgeMVCCKey derive the mvcc.Key an operation touches.
// MVCC is agnostic to what a Key names (pkg/mvcc's own doc comment says
// so); here a node's existence, labels, and properties all live under one
// key, and likewise for an edge's existence and properties. Two
// transactions touching different properties of the same node therefore
// still conflict with each other — a coarser granularity than per-property
// tracking, traded for a single state blob per entity that Visible() can
// return directly without the caller re-deriving anything.
func nodeMVCCKey(id storage.NodeID) mvcc.Key {
	return mvcc.Key(fmt.Sprintf("n:%d", id))
}

func edgeMVCCKey(k storage.EdgeKey) mvcc.Key {
	return mvcc.Key(fmt.Sprintf("e:%d:%d:%d", k.Src, k.EType, k.Dst))
}

// nodeState is the mvcc payload for a nodeMVCCKey: the node's full,
// post-write state as of the write that pushed this version. A deleted
// version carries deleted=true and no other field is meaningful.
type nodeState struct {
	Key    string
	Labels []storage.LabelID
	Props  map[storage.PropKeyID]storage.Value
}

// edgeState is the mvcc payload for an edgeMVCCKey.
type edgeState struct {
	Props map[storage.PropKeyID]storage.Value
}

func cloneLabels(labels []storage.LabelID) []storage.LabelID {
	return append([]storage.LabelID(nil), labels...)
}

func cloneValueMap(m map[storage.PropKeyID]storage.Value) map[storage.PropKeyID]storage.Value {
	if m == nil {
		return nil
	}
	out := make(map[storage.PropKeyID]storage.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
