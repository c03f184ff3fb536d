// Package mvcc implements RayDB's MVCC core (C5): transaction identity,
// version chains, snapshot-isolated visibility, and first-committer-wins
// conflict detection, used when Options.MVCC is enabled (spec.md §4.5).
package mvcc

// Key identifies the mutable resource a version chain tracks: a node's
// existence/labels, a single property, or an edge. MVCC itself is agnostic
// to what a Key names; pkg/raydb is responsible for deriving stable Key
// values from NodeID/EdgeKey/PropKeyID.
type Key string

// nullIdx is the free-list/chain-terminator sentinel (spec.md §4.5:
// "Chain nodes are addressed by 32-bit indices; -1 is the null
// sentinel.").
const nullIdx int32 = -1

// pool is the columnar version pool: struct-of-arrays
// storage for {data, txid, commitTs, prevIdx, deleted}, exactly as
// spec.md §4.5's "Storage discipline for chains" describes, to minimize
// per-version overhead and fragmentation versus one allocation per
// version record.
type pool struct {
	txid     []uint64
	commitTs []uint64 // 0 means not yet committed
	prevIdx  []int32
	deleted  []bool
	data     []any

	free []int32
	// heads maps a key to the index of its newest version. Absent from
	// the map means the key has no version chain yet (either never
	// written under MVCC, or fully pruned by GC with no replacement —
	// callers fall back to the delta/snapshot in that case).
	heads map[Key]int32
}

func newPool() *pool {
	return &pool{heads: make(map[Key]int32)}
}

// pushVersion prepends a new version onto key's chain and returns its
// index. The chain is newest-to-oldest (spec.md §4.1 "Version record...
// chained newest-to-oldest per key").
func (p *pool) pushVersion(key Key, txid uint64, data any, deleted bool) int32 {
	prev, ok := p.heads[key]
	if !ok {
		prev = nullIdx
	}

	var idx int32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
		p.txid[idx] = txid
		p.commitTs[idx] = 0
		p.prevIdx[idx] = prev
		p.deleted[idx] = deleted
		p.data[idx] = data
	} else {
		idx = int32(len(p.txid))
		p.txid = append(p.txid, txid)
		p.commitTs = append(p.commitTs, 0)
		p.prevIdx = append(p.prevIdx, prev)
		p.deleted = append(p.deleted, deleted)
		p.data = append(p.data, data)
	}
	p.heads[key] = idx
	return idx
}

// setCommitTs marks idx as committed at ts.
func (p *pool) setCommitTs(idx int32, ts uint64) {
	p.commitTs[idx] = ts
}

// discard removes idx from its chain (used to unwind an aborted
// transaction's pending versions) and frees its slot for reuse.
func (p *pool) discard(key Key, idx int32) {
	if head, ok := p.heads[key]; ok && head == idx {
		if prev := p.prevIdx[idx]; prev == nullIdx {
			delete(p.heads, key)
		} else {
			p.heads[key] = prev
		}
	}
	p.data[idx] = nil
	p.free = append(p.free, idx)
}

// visible walks key's chain looking for the newest version visible to a
// reader with the given txid/startTs, per spec.md §4.5's visibility rule:
// a version is visible if txid_v == readerTxid OR
// (committed AND commitTs_v <= readerStartTs).
func (p *pool) visible(key Key, readerTxid, readerStartTs uint64) (data any, deleted bool, ok bool) {
	idx, present := p.heads[key]
	for present && idx != nullIdx {
		sameTx := p.txid[idx] == readerTxid
		committedBefore := p.commitTs[idx] != 0 && p.commitTs[idx] <= readerStartTs
		if sameTx || committedBefore {
			return p.data[idx], p.deleted[idx], true
		}
		idx = p.prevIdx[idx]
	}
	return nil, false, false
}

// hasChain reports whether key has a version chain at all, independent of
// whether any version in it is visible to a given reader.
func (p *pool) hasChain(key Key) bool {
	_, ok := p.heads[key]
	return ok
}

// chainDepth reports how many versions are chained under key, used by GC
// to decide when maxChainDepth truncation applies.
func (p *pool) chainDepth(key Key) int {
	idx, ok := p.heads[key]
	if !ok {
		return 0
	}
	depth := 0
	for idx != nullIdx {
		depth++
		idx = p.prevIdx[idx]
	}
	return depth
}

// truncateAfter keeps only the first keep versions of key's chain
// (newest-first) and discards the remainder, per spec.md §4.5
// maxChainDepth.
func (p *pool) truncateAfter(key Key, keep int) {
	idx, ok := p.heads[key]
	if !ok {
		return
	}
	for i := 0; i < keep && idx != nullIdx; i++ {
		idx = p.prevIdx[idx]
	}
	for idx != nullIdx {
		next := p.prevIdx[idx]
		p.data[idx] = nil
		p.free = append(p.free, idx)
		idx = next
	}
	if keep == 0 {
		delete(p.heads, key)
		return
	}
	// Re-walk to cut the tail pointer at the keep'th node.
	cur, _ := p.heads[key]
	for i := 0; i < keep-1 && cur != nullIdx; i++ {
		cur = p.prevIdx[cur]
	}
	if cur != nullIdx {
		p.prevIdx[cur] = nullIdx
	}
}

// pruneCommittedBefore drops every version of key committed strictly
// before horizon, except it always keeps the single newest committed
// version at-or-before horizon (so readers with startTs >= horizon still
// have something visible). Used by gc.go alongside retention-time and
// chain-depth policies.
func (p *pool) pruneCommittedBefore(key Key, horizon uint64) {
	idx, ok := p.heads[key]
	if !ok {
		return
	}

	var keep []int32
	passedHorizon := false
	for idx != nullIdx {
		committed := p.commitTs[idx] != 0 && p.commitTs[idx] < horizon
		if committed && passedHorizon {
			// Strictly older than the one already kept at-or-before the
			// horizon: no reader can need it (spec.md §4.5 GC retention).
			next := p.prevIdx[idx]
			p.data[idx] = nil
			p.free = append(p.free, idx)
			idx = next
			continue
		}
		keep = append(keep, idx)
		if committed {
			passedHorizon = true
		}
		idx = p.prevIdx[idx]
	}

	if len(keep) == 0 {
		delete(p.heads, key)
		return
	}
	for i, idx := range keep {
		if i == len(keep)-1 {
			p.prevIdx[idx] = nullIdx
		} else {
			p.prevIdx[idx] = keep[i+1]
		}
	}
	p.heads[key] = keep[0]
}
