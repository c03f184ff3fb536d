package container

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/raydb/raydb/pkg/wal"
)

// MultiFile is the directory-based container layout (spec.md §4.6):
// manifest.gdm plus a snapshots/ directory of snapshot_<gen>.gds files and
// a wal/ directory of wal_<segid>.gdw segments.
type MultiFile struct {
	mu   sync.Mutex
	dir  string
	opts Options

	manifest manifest
	active   *wal.WAL

	nextTxID   uint64
	nextCommit uint64
}

func manifestPath(dir string) string    { return filepath.Join(dir, "manifest.gdm") }
func snapshotsDir(dir string) string    { return filepath.Join(dir, "snapshots") }
func walDir(dir string) string          { return filepath.Join(dir, "wal") }
func snapshotPath(dir string, gen uint64) string {
	return filepath.Join(snapshotsDir(dir), fmt.Sprintf("snapshot_%d.gds", gen))
}
func walSegmentPath(dir string, segID uint64) string {
	return filepath.Join(walDir(dir), fmt.Sprintf("wal_%d.gdw", segID))
}

// OpenMultiFile opens (creating if requested and absent) a multi-file
// container rooted at dir.
func OpenMultiFile(dir string, opts Options) (*MultiFile, error) {
	opts = opts.withDefaults()
	mp := manifestPath(dir)

	if _, err := os.Stat(mp); os.IsNotExist(err) {
		if !opts.CreateIfMissing {
			return nil, &IOError{Op: "stat", Path: mp, Cause: err}
		}
		if err := os.MkdirAll(snapshotsDir(dir), 0o755); err != nil {
			return nil, &IOError{Op: "mkdir", Path: snapshotsDir(dir), Cause: err}
		}
		if err := os.MkdirAll(walDir(dir), 0o755); err != nil {
			return nil, &IOError{Op: "mkdir", Path: walDir(dir), Cause: err}
		}
		m := manifest{ActiveSnapGen: 0, PrevSnapGen: 0, ActiveWalSeg: 1}
		if err := writeManifestAtomic(mp, m); err != nil {
			return nil, err
		}
		genZero, err := (&fakeEmptySnapshotWriter{}).bytes()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(snapshotPath(dir, 0), genZero, 0o644); err != nil {
			return nil, &IOError{Op: "write", Path: snapshotPath(dir, 0), Cause: err}
		}
	}

	m, err := readManifest(mp)
	if err != nil {
		return nil, err
	}

	segPath := walSegmentPath(dir, m.ActiveWalSeg)
	var active *wal.WAL
	if _, err := os.Stat(segPath); os.IsNotExist(err) {
		active, err = wal.Create(segPath, m.ActiveWalSeg, wal.Config{SyncMode: wal.SyncFull}, 0)
		if err != nil {
			return nil, err
		}
	} else {
		active, err = wal.Open(segPath, wal.Config{SyncMode: wal.SyncFull})
		if err != nil {
			return nil, err
		}
	}

	return &MultiFile{dir: dir, opts: opts, manifest: m, active: active}, nil
}

func (c *MultiFile) ActiveGeneration() (uint64, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(snapshotPath(c.dir, c.manifest.ActiveSnapGen))
	if err != nil {
		return 0, nil, &IOError{Op: "read snapshot", Path: snapshotPath(c.dir, c.manifest.ActiveSnapGen), Cause: err}
	}
	return c.manifest.ActiveSnapGen, data, nil
}

// WriteSnapshot fsyncs the new snapshot file, then atomically flips the
// manifest to point at it (spec.md §4.4 steps 4-5).
func (c *MultiFile) WriteSnapshot(generation uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := snapshotPath(c.dir, generation)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &IOError{Op: "write snapshot", Path: path, Cause: err}
	}
	f, err := os.Open(path)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}

	next := manifest{
		ActiveSnapGen: generation,
		PrevSnapGen:   c.manifest.ActiveSnapGen,
		ActiveWalSeg:  c.manifest.ActiveWalSeg,
	}
	if err := writeManifestAtomic(manifestPath(c.dir), next); err != nil {
		return err
	}
	c.manifest = next
	return nil
}

func (c *MultiFile) AppendWAL(rec wal.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Append(rec)
}

func (c *MultiFile) SyncWAL() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Sync()
}

// RecoverWAL scans the active segment only: CompleteCheckpoint already
// removed every older segment, so any committed work still reachable lives
// there.
func (c *MultiFile) RecoverWAL() (wal.RecoveryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wal.Recover(walSegmentPath(c.dir, c.manifest.ActiveWalSeg))
}

// BeginCheckpoint rolls to a fresh WAL segment so the checkpoint can treat
// the prior segment(s) as a closed, frozen view while new commits append
// elsewhere (spec.md §4.4 "Concurrency during checkpoint").
func (c *MultiFile) BeginCheckpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.active.Sync(); err != nil {
		return err
	}
	nextSeg := c.manifest.ActiveWalSeg + 1
	next, err := wal.Create(walSegmentPath(c.dir, nextSeg), nextSeg, wal.Config{SyncMode: wal.SyncFull}, 0)
	if err != nil {
		return err
	}
	c.active = next
	c.manifest.ActiveWalSeg = nextSeg
	return writeManifestAtomic(manifestPath(c.dir), c.manifest)
}

// CompleteCheckpoint removes WAL segments older than the active one, per
// spec.md §4.4 step 6 ("Truncate the WAL to the first segment produced
// after checkpoint began").
func (c *MultiFile) CompleteCheckpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(walDir(c.dir))
	if err != nil {
		return &IOError{Op: "readdir", Path: walDir(c.dir), Cause: err}
	}
	active := walSegmentPath(c.dir, c.manifest.ActiveWalSeg)
	for _, e := range entries {
		p := filepath.Join(walDir(c.dir), e.Name())
		if p == active {
			continue
		}
		_ = os.Remove(p)
	}
	return nil
}

func (c *MultiFile) NextTxID() uint64     { return atomic.AddUint64(&c.nextTxID, 1) }
func (c *MultiFile) NextCommitTs() uint64 { return atomic.AddUint64(&c.nextCommit, 1) }

func (c *MultiFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Close()
}

// fakeEmptySnapshotWriter produces the bytes of an empty generation-0
// snapshot at container-creation time, before any nodes exist. It is kept
// minimal and self-contained here (rather than importing pkg/storage,
// which would create an import cycle since pkg/storage doesn't depend on
// pkg/container) by writing the same 88-byte header + 23-section-table
// layout directly.
type fakeEmptySnapshotWriter struct{}

func (fakeEmptySnapshotWriter) bytes() ([]byte, error) {
	const headerSize = 88
	const numSections = 23
	const sectionEntrySize = 24
	buf := make([]byte, headerSize+numSections*sectionEntrySize)
	// magic "GDS1"
	buf[0], buf[1], buf[2], buf[3] = 0x47, 0x44, 0x53, 0x31
	buf[4] = 1 // version
	buf[8] = 1 // minReader
	return buf, nil
}
