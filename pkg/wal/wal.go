package wal

import (
	"encoding/binary"
	"os"
	"sync"
	"time"
)

const (
	walMagic     uint32 = 0x31574447 // "GDW1" little-endian
	walVersion   uint32 = 1
	walMinReader uint32 = 1
	walHeaderSize       = 96
)

// SyncMode controls when Append's effects become durable, per spec.md §4.3.
type SyncMode uint8

const (
	// SyncFull fsyncs on every append. Default; zero data loss window.
	SyncFull SyncMode = iota
	// SyncBatch fsyncs once BatchCount appends are unsynced or BatchInterval
	// has passed since the last sync, checked on each append — a bounded
	// loss window in exchange for throughput.
	SyncBatch
	// SyncOff leaves fsync scheduling to the OS. Not durable across a
	// crash; fastest.
	SyncOff
)

// Config configures a WAL segment.
type Config struct {
	SyncMode        SyncMode
	BatchCount      int           // SyncBatch: fsync after this many appends
	BatchInterval   time.Duration // SyncBatch: fsync after this much time
	MaxSegmentBytes int64         // 0 means unbounded (multi-file rolls segments at pkg/container level)
}

func (c Config) withDefaults() Config {
	if c.BatchCount <= 0 {
		c.BatchCount = 100
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Millisecond
	}
	return c
}

// Stats mirrors the WAL segment's own internal counters. The engine-level
// stats() does not read them; it reports its own approximate walBytes.
type Stats struct {
	SegmentID    uint64
	BytesWritten int64
	RecordCount  uint64
	SyncCount    uint64
	LastSyncAt   time.Time
}

// WAL is one append-only, CRC-protected record segment. A multi-file
// container creates one WAL per `wal/wal_<segid>.gdw` file; a single-file
// container instead writes encoded records into its two in-file regions
// itself and replays them through RecoverBytes (see pkg/container).
type WAL struct {
	mu sync.Mutex

	f         *os.File
	cfg       Config
	segmentID uint64

	unsynced int
	lastSync time.Time
	stats    Stats
	closed   bool
}

// Create creates a new WAL segment file at path, writing its 96-byte
// header (spec.md §6).
func Create(path string, segmentID uint64, cfg Config, createdUnixNs uint64) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &IOError{Op: "create", Cause: err}
	}
	header := make([]byte, walHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], walMagic)
	binary.LittleEndian.PutUint32(header[4:8], walVersion)
	binary.LittleEndian.PutUint32(header[8:12], walMinReader)
	binary.LittleEndian.PutUint64(header[16:24], segmentID)
	binary.LittleEndian.PutUint64(header[24:32], createdUnixNs)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, &IOError{Op: "write header", Cause: err}
	}
	return &WAL{f: f, cfg: cfg.withDefaults(), segmentID: segmentID, stats: Stats{SegmentID: segmentID}}, nil
}

// Open reopens an existing WAL segment file for further appends (used when
// recovery determines the segment is still the active one).
func Open(path string, cfg Config) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, &IOError{Op: "open", Cause: err}
	}
	header := make([]byte, walHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, &IOError{Op: "read header", Cause: err}
	}
	if binary.LittleEndian.Uint32(header[0:4]) != walMagic {
		f.Close()
		return nil, &IntegrityError{Reason: "wal segment: bad magic"}
	}
	segID := binary.LittleEndian.Uint64(header[16:24])

	size, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "seek", Cause: err}
	}

	return &WAL{f: f, cfg: cfg.withDefaults(), segmentID: segID, stats: Stats{SegmentID: segID, BytesWritten: size - walHeaderSize}}, nil
}

// Append writes rec and, depending on SyncMode, may fsync before
// returning. The durability contract (spec.md §4.3) requires the caller
// not to mutate the delta/version chains until Append (for SyncFull) or a
// subsequent explicit Sync returns nil.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	buf := rec.Encode()
	if w.cfg.MaxSegmentBytes > 0 && w.stats.BytesWritten+int64(len(buf)) > w.cfg.MaxSegmentBytes {
		return ErrBufferFull
	}
	if _, err := w.f.Write(buf); err != nil {
		return &IOError{Op: "append", Cause: err}
	}
	w.stats.BytesWritten += int64(len(buf))
	w.stats.RecordCount++
	w.unsynced++

	switch w.cfg.SyncMode {
	case SyncFull:
		return w.syncLocked()
	case SyncBatch:
		if w.unsynced >= w.cfg.BatchCount || time.Since(w.lastSync) >= w.cfg.BatchInterval {
			return w.syncLocked()
		}
	}
	return nil
}

// Sync forces a fsync regardless of SyncMode, used by commit paths that
// need a flush boundary mid-batch (e.g. before a checkpoint begins).
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.f.Sync(); err != nil {
		return &IOError{Op: "fsync", Cause: err}
	}
	w.unsynced = 0
	w.lastSync = time.Now()
	w.stats.SyncCount++
	w.stats.LastSyncAt = w.lastSync
	return nil
}

// Close syncs and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return &IOError{Op: "fsync on close", Cause: err}
	}
	return w.f.Close()
}

// Stats returns a snapshot of the segment's counters.
func (w *WAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Truncate discards the segment after currently recovered content by
// truncating the file to exactly validLen bytes — used after recovery
// finds a corrupt tail (spec.md §7: "truncation past the last valid
// record is handled gracefully").
func (w *WAL) Truncate(validLen int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(validLen); err != nil {
		return &IOError{Op: "truncate", Cause: err}
	}
	if _, err := w.f.Seek(0, os.SEEK_END); err != nil {
		return &IOError{Op: "seek", Cause: err}
	}
	w.stats.BytesWritten = validLen - walHeaderSize
	return nil
}

// TxGroup is one transaction's records recovered from a WAL segment, in
// the order they were appended (spec.md §4.3: "materializes a map
// txid → ordered records").
type TxGroup struct {
	TxID      uint64
	Records   []Record
	Committed bool
}

// RecoveryResult is the outcome of scanning a WAL segment for replay.
type RecoveryResult struct {
	Committed   []TxGroup // in commit order
	ValidLength int64     // byte offset where the valid prefix ends (walHeaderSize + sum of valid record lengths)
	Truncated   bool      // true if a CRC failure or short read ended the scan early
}

// Recover scans path from its first record forward, stopping at the first
// CRC failure or truncated tail (spec.md §4.3: "A record whose CRC fails
// marks the end of the valid log"). Records are grouped by txid; any group
// without a trailing COMMIT record is discarded as uncommitted. BEGIN and
// operation records for a txid that never sees ROLLBACK or COMMIT are
// simply orphaned and dropped, matching the documented rollback semantics.
func Recover(path string) (RecoveryResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RecoveryResult{}, &IOError{Op: "read", Cause: err}
	}
	if len(data) < walHeaderSize || binary.LittleEndian.Uint32(data[0:4]) != walMagic {
		return RecoveryResult{}, &IntegrityError{Reason: "wal segment: bad or missing header"}
	}
	result := RecoverBytes(data[walHeaderSize:])
	result.ValidLength += walHeaderSize
	return result, nil
}

// RecoverBytes runs the same forward scan as Recover directly over a raw
// record stream with no segment header — the single-file container's WAL
// regions have no header of their own (they share the container's 4 KB
// header page instead), so they replay through this entry point rather
// than Recover.
func RecoverBytes(data []byte) RecoveryResult {
	pos := 0
	groups := make(map[uint64]*TxGroup)
	var order []uint64
	truncated := false

	for pos < len(data) {
		rec, n, err := DecodeRecord(data[pos:])
		if err != nil {
			truncated = true
			break
		}
		g, ok := groups[rec.TxID]
		if !ok {
			g = &TxGroup{TxID: rec.TxID}
			groups[rec.TxID] = g
		}
		switch rec.Type {
		case TypeCommit:
			if !g.Committed {
				order = append(order, rec.TxID)
			}
			g.Committed = true
		case TypeRollback:
			delete(groups, rec.TxID)
		}
		if _, stillPresent := groups[rec.TxID]; stillPresent {
			g.Records = append(g.Records, rec)
		}
		pos += n
	}

	result := RecoveryResult{ValidLength: int64(pos), Truncated: truncated}
	for _, txid := range order {
		g, ok := groups[txid]
		if !ok || !g.Committed {
			continue
		}
		result.Committed = append(result.Committed, *g)
	}
	return result
}
