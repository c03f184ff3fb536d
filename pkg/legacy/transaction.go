package legacy

import (
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/raydb/raydb/pkg/storage"
)

// Transaction wraps a native badger transaction, giving callers the same
// begin/commit/rollback shape the rest of RayDB's engine exposes even
// though this backend has no MVCC version chain of its own — isolation and
// conflict detection are Badger's, not pkg/mvcc's.
type Transaction struct {
	mu     sync.Mutex
	txn    *badger.Txn
	engine *Engine
	done   bool
}

// Begin starts a read-write transaction. Callers must call Commit or
// Rollback exactly once.
func (e *Engine) Begin() (*Transaction, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return &Transaction{txn: e.db.NewTransaction(true), engine: e}, nil
}

// Commit finalizes the transaction's writes.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrClosed
	}
	t.done = true
	return t.txn.Commit()
}

// Rollback discards the transaction's writes.
func (t *Transaction) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

// CreateNode stages a node creation within the transaction.
func (t *Transaction) CreateNode(n *storage.Node) error {
	key := nodeKey(n.ID)
	if _, err := t.txn.Get(key); err == nil {
		return ErrExists
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	if err := t.txn.Set(key, data); err != nil {
		return err
	}
	for _, l := range n.Labels {
		if err := t.txn.Set(labelIndexKey(l, n.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// AddEdge stages an edge creation within the transaction. Unlike Engine.AddEdge
// it does not check that either endpoint exists.
func (t *Transaction) AddEdge(k storage.EdgeKey, props map[storage.PropKeyID]storage.Value) error {
	data, err := encodeEdgeProps(props)
	if err != nil {
		return err
	}
	if err := t.txn.Set(edgeKey(k), data); err != nil {
		return err
	}
	if err := t.txn.Set(outIndexKey(k), []byte{}); err != nil {
		return err
	}
	return t.txn.Set(inIndexKey(k), []byte{})
}

// GetNode reads a node as staged so far within the transaction.
func (t *Transaction) GetNode(id storage.NodeID) (*storage.Node, error) {
	item, err := t.txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var n *storage.Node
	err = item.Value(func(val []byte) error {
		var decodeErr error
		n, decodeErr = decodeNode(val)
		return decodeErr
	})
	return n, err
}
