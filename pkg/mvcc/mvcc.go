package mvcc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is a transaction's lifecycle state (spec.md §4.5 "Per-transaction
// state. status ∈ {active, committed, aborted}").
type Status uint8

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// Write is one pending mutation recorded by a transaction before commit:
// the new logical value for Key (nil+Deleted=true for a tombstone).
type Write struct {
	Key     Key
	Data    any
	Deleted bool
}

// Transaction is a single MVCC-tracked transaction. Reads and writes made
// through it are buffered (ReadSet/pending writes) until Commit, matching
// spec.md §4.5's per-transaction state and the engine-wide single-writer
// discipline (only one Transaction is ever mid-commit at a time).
type Transaction struct {
	TxID     uint64
	StartTs  uint64
	CommitTs uint64 // set by Manager.CommitTx; 0 until committed
	Status   Status

	mgr     *Manager
	readSet map[Key]struct{}
	writes  map[Key]Write
	order   []Key // commit order for Write application, insertion order
}

// RecordRead registers key as having been read by this transaction. Per
// §13 open-question decision 2 (spec.md §9), this is called ONLY by
// transaction-scoped reads; db-level (latest-committed) reads never call
// it and therefore never participate in conflict detection. That split is
// deliberate, not an oversight — document it loudly at every call site.
func (t *Transaction) RecordRead(key Key) {
	t.readSet[key] = struct{}{}
}

// Visible returns the version of key visible to this transaction under
// snapshot isolation: either a write this transaction already made, or
// the newest version committed at or before StartTs.
func (t *Transaction) Visible(key Key) (data any, deleted bool, ok bool) {
	if w, ok := t.writes[key]; ok {
		return w.Data, w.Deleted, true
	}
	return t.mgr.pool.visible(key, t.TxID, t.StartTs)
}

// Tracked reports whether key has ever been written under MVCC (i.e. it
// has a version chain at all), regardless of whether any version in that
// chain is visible to this transaction. Callers use this to distinguish
// "no chain exists, safe to fall back to the latest-committed view" from
// "a chain exists but every version post-dates this transaction's
// snapshot" — the latter means the entity did not exist as of StartTs and
// must not be resolved through a later, unfiltered view (spec.md §8
// property 6, scenario S6: phantom prevention).
func (t *Transaction) Tracked(key Key) bool {
	return t.mgr.pool.hasChain(key)
}

// Put buffers a write. It is not visible to any other transaction, and not
// durable, until Commit succeeds.
func (t *Transaction) Put(key Key, data any) {
	if _, exists := t.writes[key]; !exists {
		t.order = append(t.order, key)
	}
	t.writes[key] = Write{Key: key, Data: data}
}

// Delete buffers a tombstone write.
func (t *Transaction) Delete(key Key) {
	if _, exists := t.writes[key]; !exists {
		t.order = append(t.order, key)
	}
	t.writes[key] = Write{Key: key, Deleted: true}
}

// WriteSet exposes the keys this transaction has written, in first-write
// order. Nothing in this repository calls it: pkg/raydb folds pending writes
// into the delta overlay from its own buffered ops instead.
func (t *Transaction) WriteSet() []Write {
	out := make([]Write, len(t.order))
	for i, k := range t.order {
		out[i] = t.writes[k]
	}
	return out
}

// ConflictError reports a first-committer-wins conflict detected at
// commit time (spec.md §4.5, §7). It carries the offending keys so the
// caller can decide whether to retry.
type ConflictError struct {
	TxID uint64
	Keys []Key
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("mvcc: conflict on commit of txid %d: %d offending key(s)", e.TxID, len(e.Keys))
}

// Manager owns the engine-wide MVCC state: the monotonic txid/commitTs
// counters, the version pool, the set of active transactions, and the
// committed-write index used for conflict detection (spec.md §4.5).
type Manager struct {
	mu sync.Mutex

	nextTxID    uint64
	nextCommit  uint64
	pool        *pool
	active      map[uint64]*Transaction
	commitIndex map[Key]uint64 // key -> max commitTs among committed writers

	retentionMs   uint64
	maxChainDepth int
}

// Config configures a Manager, per spec.md §6's mvccRetentionMs and
// mvccMaxChainDepth options.
type Config struct {
	RetentionMs   uint64
	MaxChainDepth int
}

// NewManager creates a Manager with its counters seeded from the
// container's persisted nextTxID/lastCommitTs (spec.md §9: "Global state...
// initialized at open from the manifest/header").
func NewManager(cfg Config, nextTxID, lastCommitTs uint64) *Manager {
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = 10
	}
	if cfg.RetentionMs <= 0 {
		cfg.RetentionMs = 60000
	}
	return &Manager{
		nextTxID:      nextTxID,
		nextCommit:    lastCommitTs,
		pool:          newPool(),
		active:        make(map[uint64]*Transaction),
		commitIndex:   make(map[Key]uint64),
		retentionMs:   cfg.RetentionMs,
		maxChainDepth: cfg.MaxChainDepth,
	}
}

// BeginTx starts a new transaction, assigning it a fresh txid and a
// startTs equal to the current commitTs high-water mark (so it sees every
// transaction committed strictly before it began).
func (m *Manager) BeginTx() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	t := &Transaction{
		TxID:    m.nextTxID,
		StartTs: m.nextCommit,
		Status:  StatusActive,
		mgr:     m,
		readSet: make(map[Key]struct{}),
		writes:  make(map[Key]Write),
	}
	m.active[t.TxID] = t
	return t
}

// CommitTx validates t against first-committer-wins, and if it passes,
// assigns it a commitTs, applies its writes to the version pool, and
// records them in the commit index. On conflict, t is left active; the
// caller must call Rollback.
func (m *Manager) CommitTx(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConflicts(t); err != nil {
		return err
	}
	m.applyCommit(t)
	return nil
}

// ValidateCommit runs CommitTx's first-committer-wins conflict check
// without applying anything: no version is pushed, no commitTs assigned, t
// stays active. It lets a caller confirm a commit would succeed before
// durably writing its WAL commit record, and only then call FinalizeCommit
// (spec.md §4.3: "only then is the delta... updated in memory"; the
// version pool and delta must not change state ahead of that durability
// point).
func (m *Manager) ValidateCommit(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkConflicts(t)
}

// FinalizeCommit applies t's writes to the version pool and marks it
// committed, without re-checking conflicts. Callers must have already
// passed t through ValidateCommit (or CommitTx) with no intervening commit
// by any other transaction, true under the engine's single-writer commit
// discipline (spec.md §4.5), which is exactly what raydb.Tx.Commit relies
// on to defer this step until after its WAL append succeeds.
func (m *Manager) FinalizeCommit(t *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCommit(t)
}

func (m *Manager) checkConflicts(t *Transaction) error {
	if t.Status != StatusActive {
		return fmt.Errorf("mvcc: commit of non-active transaction %d (status %d)", t.TxID, t.Status)
	}

	var conflicts []Key
	for key := range t.readSet {
		if ts, ok := m.commitIndex[key]; ok && ts > t.StartTs {
			conflicts = append(conflicts, key)
		}
	}
	for key := range t.writes {
		if ts, ok := m.commitIndex[key]; ok && ts > t.StartTs {
			conflicts = append(conflicts, key)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{TxID: t.TxID, Keys: conflicts}
	}
	return nil
}

func (m *Manager) applyCommit(t *Transaction) {
	m.nextCommit++
	commitTs := m.nextCommit
	for _, key := range t.order {
		w := t.writes[key]
		idx := m.pool.pushVersion(key, t.TxID, w.Data, w.Deleted)
		m.pool.setCommitTs(idx, commitTs)
		m.commitIndex[key] = commitTs
	}

	t.Status = StatusCommitted
	t.CommitTs = commitTs
	delete(m.active, t.TxID)
}

// RollbackTx discards t's pending writes without assigning a commitTs
// (spec.md §5 "Cancellation": "emits no COMMIT record... correctly
// discarded by recovery").
func (m *Manager) RollbackTx(t *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Status = StatusAborted
	delete(m.active, t.TxID)
}

// ActiveCount reports the number of currently active transactions, used
// by GC to compute its horizon.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// OldestActiveStartTs returns the smallest StartTs among active
// transactions, or the current commitTs high-water mark if none are
// active. GC never prunes a version a still-active reader might need.
func (m *Manager) OldestActiveStartTs() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldest := m.nextCommit
	for _, t := range m.active {
		if t.StartTs < oldest {
			oldest = t.StartTs
		}
	}
	return oldest
}

// CommittedHighWaterMark returns the commitTs of the most recently
// committed transaction (0 if none have committed yet). Used by the
// background GC loop (pkg/raydb) to timestamp commitTs progress against
// wall-clock time for its retention-window bookkeeping.
func (m *Manager) CommittedHighWaterMark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextCommit
}

// ReadCommitted reads the last-committed value of key via the non-
// transaction-scoped, db-level path (spec.md §6 "latest-committed" reads).
// It never registers as an active transaction and never participates in
// conflict detection, per §13 decision 2 and decision 4. pkg/raydb calls it
// only from Engine.Check.
func (m *Manager) ReadCommitted(key Key) (data any, deleted bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.visible(key, 0, m.nextCommit)
}
