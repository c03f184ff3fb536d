// Package container implements RayDB's pager/container layer (C6): either
// a multi-file layout (manifest + snapshots/ + wal/) or a single growable
// .raydb file with a 4 KB header page, a dual-region WAL, and a growable
// snapshot region (spec.md §4.6).
package container

import (
	"io"

	"github.com/raydb/raydb/pkg/wal"
)

// Container is the storage-engine-facing contract both layouts implement.
// pkg/raydb drives generations and WAL segments through this interface
// without caring which on-disk layout backs a given open database.
type Container interface {
	// ActiveGeneration returns the currently active snapshot generation
	// number and the bytes of its snapshot image.
	ActiveGeneration() (generation uint64, data []byte, err error)

	// WriteSnapshot durably writes a new snapshot image and, once fsynced,
	// atomically flips the active generation pointer to it (spec.md §4.4
	// steps 4-5).
	WriteSnapshot(generation uint64, data []byte) error

	// AppendWAL appends a WAL record to the currently active region/segment.
	AppendWAL(rec wal.Record) error

	// SyncWAL forces the active WAL region/segment to stable storage.
	SyncWAL() error

	// RecoverWAL replays the WAL content written since the active
	// snapshot generation, for pkg/raydb to reconstruct the delta overlay
	// and MVCC version pool on Open (spec.md §4.3 "recovery"). Only the
	// region/segment(s) still considered active after an unclean shutdown
	// are scanned: a single-file container forces this to its primary
	// region if it finds CheckpointFlag set (§13 decision 3); a multi-file
	// container scans only its current active segment, since
	// CompleteCheckpoint already removed the others.
	RecoverWAL() (wal.RecoveryResult, error)

	// BeginCheckpoint marks the start of a checkpoint: single-file
	// containers switch new WAL appends to the secondary region so the
	// primary can be read as a frozen view (spec.md §4.6 "dual-region WAL
	// rationale"); multi-file containers roll to a new segment.
	BeginCheckpoint() error

	// CompleteCheckpoint finalizes a checkpoint after WriteSnapshot has
	// succeeded: truncates/clears the now-redundant WAL region or
	// segments (spec.md §4.4 step 6).
	CompleteCheckpoint() error

	// NextTxID and NextCommitTs return and atomically advance the
	// container-persisted monotonic counters (spec.md §9 "Global state").
	NextTxID() uint64
	NextCommitTs() uint64

	io.Closer
}

// Options configures container construction, mirroring the subset of
// spec.md §6's engine-level Options that affect on-disk layout.
type Options struct {
	ReadOnly        bool
	CreateIfMissing bool
	PageSize        uint32 // single-file only; default 4096
	WALSize         uint64 // single-file only; default 64 MiB
	EncryptionKey   []byte // single-file only; optional page encryption at rest
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = 4096
	}
	if o.WALSize == 0 {
		o.WALSize = 64 << 20
	}
	return o
}
