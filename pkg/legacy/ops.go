package legacy

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/raydb/raydb/pkg/storage"
)

// CreateNode stores a new node, indexing it by label and by its external
// key (if any). Returns ErrExists if the node id is already present.
func (e *Engine) CreateNode(n *storage.Node) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if n == nil {
		return storage.ErrInvalidData
	}

	return e.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(n.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeNode(n)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, l := range n.Labels {
			if err := txn.Set(labelIndexKey(l, n.ID), []byte{}); err != nil {
				return err
			}
		}
		if n.Key != "" {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(n.ID))
			if err := txn.Set(keyIndexKey(n.Key), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNode retrieves a node by id.
func (e *Engine) GetNode(id storage.NodeID) (*storage.Node, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	var n *storage.Node
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			n, decodeErr = decodeNode(val)
			return decodeErr
		})
	})
	return n, err
}

// GetNodeByKey resolves an external key to a node id via the key index.
func (e *Engine) GetNodeByKey(key string) (storage.NodeID, bool, error) {
	if err := e.checkOpen(); err != nil {
		return 0, false, err
	}

	var id storage.NodeID
	found := false
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyIndexKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return ErrInvalidKey
			}
			id = storage.NodeID(binary.BigEndian.Uint64(val))
			found = true
			return nil
		})
	})
	return id, found, err
}

// SetNodeProp sets (or, with storage.Null, deletes) a single property on an
// existing node.
func (e *Engine) SetNodeProp(id storage.NodeID, k storage.PropKeyID, v storage.Value) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	return e.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var n *storage.Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			n, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}

		if v.NullValue() {
			delete(n.Props, k)
		} else {
			if n.Props == nil {
				n.Props = make(map[storage.PropKeyID]storage.Value)
			}
			n.Props[k] = v
		}

		data, err := encodeNode(n)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetNodeProp reads a single property off a node.
func (e *Engine) GetNodeProp(id storage.NodeID, k storage.PropKeyID) (storage.Value, bool, error) {
	n, err := e.GetNode(id)
	if err != nil {
		return storage.Value{}, false, err
	}
	v, ok := n.Props[k]
	return v, ok, nil
}

// DeleteNode removes a node along with its label index entries, key index
// entry, and every edge touching it (both directions).
func (e *Engine) DeleteNode(id storage.NodeID) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	return e.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var n *storage.Node
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			n, decodeErr = decodeNode(val)
			return decodeErr
		}); err != nil {
			return err
		}

		for _, l := range n.Labels {
			if err := txn.Delete(labelIndexKey(l, id)); err != nil {
				return err
			}
		}
		if n.Key != "" {
			if err := txn.Delete(keyIndexKey(n.Key)); err != nil {
				return err
			}
		}
		if err := deleteEdgesWithIndexPrefix(txn, outIndexPrefix(id), false); err != nil {
			return err
		}
		if err := deleteEdgesWithIndexPrefix(txn, inIndexPrefix(id), true); err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func deleteEdgesWithIndexPrefix(txn *badger.Txn, prefix []byte, fromDst bool) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var edges []storage.EdgeKey
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		edges = append(edges, extractEdgeFromIndexKey(it.Item().KeyCopy(nil), fromDst))
	}

	for _, ek := range edges {
		if err := deleteEdgeLocked(txn, ek); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

// AddEdge creates an edge between two existing nodes. Returns ErrExists if
// the (src, etype, dst) triple is already present.
func (e *Engine) AddEdge(k storage.EdgeKey, props map[storage.PropKeyID]storage.Value) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	return e.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(k.Src)); err == badger.ErrKeyNotFound {
			return storage.ErrInvalidEdge
		} else if err != nil {
			return err
		}
		if _, err := txn.Get(nodeKey(k.Dst)); err == badger.ErrKeyNotFound {
			return storage.ErrInvalidEdge
		} else if err != nil {
			return err
		}

		ekey := edgeKey(k)
		if _, err := txn.Get(ekey); err == nil {
			return ErrExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeEdgeProps(props)
		if err != nil {
			return err
		}
		if err := txn.Set(ekey, data); err != nil {
			return err
		}
		if err := txn.Set(outIndexKey(k), []byte{}); err != nil {
			return err
		}
		return txn.Set(inIndexKey(k), []byte{})
	})
}

// DeleteEdge removes a single edge.
func (e *Engine) DeleteEdge(k storage.EdgeKey) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return deleteEdgeLocked(txn, k)
	})
}

func deleteEdgeLocked(txn *badger.Txn, k storage.EdgeKey) error {
	ekey := edgeKey(k)
	if _, err := txn.Get(ekey); err == badger.ErrKeyNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	if err := txn.Delete(ekey); err != nil {
		return err
	}
	if err := txn.Delete(outIndexKey(k)); err != nil {
		return err
	}
	return txn.Delete(inIndexKey(k))
}

// GetNeighborsOut returns every outgoing edge from src, sorted by the index
// scan order (etype, dst).
func (e *Engine) GetNeighborsOut(src storage.NodeID) ([]storage.Neighbor, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	var out []storage.Neighbor
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := outIndexPrefix(src)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ek := extractEdgeFromIndexKey(it.Item().KeyCopy(nil), false)
			out = append(out, storage.Neighbor{EType: ek.EType, Other: ek.Dst})
		}
		return nil
	})
	return out, err
}

// GetNeighborsIn returns every incoming edge into dst.
func (e *Engine) GetNeighborsIn(dst storage.NodeID) ([]storage.Neighbor, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	var in []storage.Neighbor
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := inIndexPrefix(dst)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ek := extractEdgeFromIndexKey(it.Item().KeyCopy(nil), true)
			in = append(in, storage.Neighbor{EType: ek.EType, Other: ek.Src})
		}
		return nil
	})
	return in, err
}

// DefineLabel, DefineEtype and DefinePropkey register a dictionary name for
// an id, the same monotonic-id contract pkg/storage's Dictionary uses.
func (e *Engine) DefineLabel(id storage.LabelID, name string) error {
	return e.defineDictEntry(dictLabel, uint32(id), name)
}

func (e *Engine) DefineEtype(id storage.ETypeID, name string) error {
	return e.defineDictEntry(dictEtype, uint32(id), name)
}

func (e *Engine) DefinePropkey(id storage.PropKeyID, name string) error {
	return e.defineDictEntry(dictPropkey, uint32(id), name)
}

func (e *Engine) defineDictEntry(kind byte, id uint32, name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dictKey(kind, id), []byte(name))
	})
}

func (e *Engine) resolveDictEntry(kind byte, id uint32) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	var name string
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dictKey(kind, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			name = string(val)
			return nil
		})
	})
	return name, err
}

// LabelName, EtypeName and PropkeyName resolve a dictionary id back to its
// registered name, returning "" if it was never defined.
func (e *Engine) LabelName(id storage.LabelID) (string, error) {
	return e.resolveDictEntry(dictLabel, uint32(id))
}

func (e *Engine) EtypeName(id storage.ETypeID) (string, error) {
	return e.resolveDictEntry(dictEtype, uint32(id))
}

func (e *Engine) PropkeyName(id storage.PropKeyID) (string, error) {
	return e.resolveDictEntry(dictPropkey, uint32(id))
}

