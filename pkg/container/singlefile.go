package container

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/raydb/raydb/pkg/checksum"
	"github.com/raydb/raydb/pkg/wal"
)

// Single-file header page layout (spec.md §4.6): a 4 KB page at offset 0
// carrying everything needed to reopen the database without any other
// file. Fields not read/written by this trimmed implementation (schema
// cookie, relocateArea bookkeeping) are reserved space, left zeroed, so
// the page size and field offsets below stay stable if they're added
// later.
const (
	singleFileMagic = "RayDB format 1\x00"
	headerPageSize  = 4096

	offMagic           = 0
	offPageSize        = 16
	offFormatVersion   = 20
	offMinReaderVer    = 24
	offFlags           = 28
	offChangeCounter   = 32
	offTotalPages      = 40
	offSnapStartPage   = 48
	offSnapPageCount   = 56
	offWalStartPage    = 64
	offWalPageCount    = 72
	offWalPrimaryHead  = 80
	offWalSecondHead   = 88
	offActiveWalRegion = 96 // byte, 0 or 1
	offCheckpointFlag  = 97 // byte, 1 while a checkpoint is mid-flight
	offActiveGen       = 104
	offPrevGen         = 112
	offMaxNodeID       = 120
	offNextTxID        = 128
	offLastCommitTs    = 136
	offSnapByteLength  = 144
	offHeaderCRC       = 152
)

// FlagReadOnly etc. could extend offFlags; none are defined yet.

type sfHeader struct {
	PageSize        uint32
	FormatVersion   uint32
	MinReaderVer    uint32
	Flags           uint32
	ChangeCounter   uint64
	TotalPages      uint64
	SnapStartPage   uint64
	SnapPageCount   uint64
	WalStartPage    uint64
	WalPageCount    uint64
	WalPrimaryHead  uint64
	WalSecondHead   uint64
	ActiveWalRegion uint8
	CheckpointFlag  uint8
	ActiveGen       uint64
	PrevGen         uint64
	MaxNodeID       uint64
	NextTxID        uint64
	LastCommitTs    uint64
	SnapByteLength  uint64 // exact content length within the page-rounded snapshot region
}

func encodeSFHeader(h sfHeader) []byte {
	buf := make([]byte, headerPageSize)
	copy(buf[offMagic:], singleFileMagic)
	binary.LittleEndian.PutUint32(buf[offPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[offFormatVersion:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[offMinReaderVer:], h.MinReaderVer)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offChangeCounter:], h.ChangeCounter)
	binary.LittleEndian.PutUint64(buf[offTotalPages:], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[offSnapStartPage:], h.SnapStartPage)
	binary.LittleEndian.PutUint64(buf[offSnapPageCount:], h.SnapPageCount)
	binary.LittleEndian.PutUint64(buf[offWalStartPage:], h.WalStartPage)
	binary.LittleEndian.PutUint64(buf[offWalPageCount:], h.WalPageCount)
	binary.LittleEndian.PutUint64(buf[offWalPrimaryHead:], h.WalPrimaryHead)
	binary.LittleEndian.PutUint64(buf[offWalSecondHead:], h.WalSecondHead)
	buf[offActiveWalRegion] = h.ActiveWalRegion
	buf[offCheckpointFlag] = h.CheckpointFlag
	binary.LittleEndian.PutUint64(buf[offActiveGen:], h.ActiveGen)
	binary.LittleEndian.PutUint64(buf[offPrevGen:], h.PrevGen)
	binary.LittleEndian.PutUint64(buf[offMaxNodeID:], h.MaxNodeID)
	binary.LittleEndian.PutUint64(buf[offNextTxID:], h.NextTxID)
	binary.LittleEndian.PutUint64(buf[offLastCommitTs:], h.LastCommitTs)
	binary.LittleEndian.PutUint64(buf[offSnapByteLength:], h.SnapByteLength)

	crc := checksum.CRC32C(buf[:offHeaderCRC])
	binary.LittleEndian.PutUint32(buf[offHeaderCRC:], crc)
	// Footer checksum over the first 4088 bytes (spec.md §4.6), covering
	// everything but its own trailing 8 bytes.
	footer := checksum.CRC32C(buf[:headerPageSize-8])
	binary.LittleEndian.PutUint32(buf[headerPageSize-4:], footer)
	return buf
}

func decodeSFHeader(buf []byte) (sfHeader, error) {
	if len(buf) < headerPageSize {
		return sfHeader{}, &FormatError{Reason: "single-file header: truncated"}
	}
	if string(buf[offMagic:offMagic+len(singleFileMagic)]) != singleFileMagic {
		return sfHeader{}, &FormatError{Reason: "single-file header: bad magic"}
	}
	crc := binary.LittleEndian.Uint32(buf[offHeaderCRC:])
	if !checksum.Verify(buf[:offHeaderCRC], crc) {
		return sfHeader{}, &IntegrityError{Reason: "single-file header: CRC mismatch"}
	}
	return sfHeader{
		PageSize:        binary.LittleEndian.Uint32(buf[offPageSize:]),
		FormatVersion:   binary.LittleEndian.Uint32(buf[offFormatVersion:]),
		MinReaderVer:    binary.LittleEndian.Uint32(buf[offMinReaderVer:]),
		Flags:           binary.LittleEndian.Uint32(buf[offFlags:]),
		ChangeCounter:   binary.LittleEndian.Uint64(buf[offChangeCounter:]),
		TotalPages:      binary.LittleEndian.Uint64(buf[offTotalPages:]),
		SnapStartPage:   binary.LittleEndian.Uint64(buf[offSnapStartPage:]),
		SnapPageCount:   binary.LittleEndian.Uint64(buf[offSnapPageCount:]),
		WalStartPage:    binary.LittleEndian.Uint64(buf[offWalStartPage:]),
		WalPageCount:    binary.LittleEndian.Uint64(buf[offWalPageCount:]),
		WalPrimaryHead:  binary.LittleEndian.Uint64(buf[offWalPrimaryHead:]),
		WalSecondHead:   binary.LittleEndian.Uint64(buf[offWalSecondHead:]),
		ActiveWalRegion: buf[offActiveWalRegion],
		CheckpointFlag:  buf[offCheckpointFlag],
		ActiveGen:       binary.LittleEndian.Uint64(buf[offActiveGen:]),
		PrevGen:         binary.LittleEndian.Uint64(buf[offPrevGen:]),
		MaxNodeID:       binary.LittleEndian.Uint64(buf[offMaxNodeID:]),
		NextTxID:        binary.LittleEndian.Uint64(buf[offNextTxID:]),
		LastCommitTs:    binary.LittleEndian.Uint64(buf[offLastCommitTs:]),
		SnapByteLength:  binary.LittleEndian.Uint64(buf[offSnapByteLength:]),
	}, nil
}

// SingleFile is the one-file container layout: header page, dual-region
// WAL, growable snapshot region (spec.md §4.6).
type SingleFile struct {
	mu   sync.Mutex
	f    *os.File
	opts Options
	hdr  sfHeader

	nextTxID   uint64
	nextCommit uint64

	encryptKey []byte // optional, for chacha20poly1305 page encryption
}

// CreateSingleFile initializes a new .raydb file at path with an empty
// generation-0 snapshot and a freshly sized WAL region (default 64 MiB,
// split 75%/25% primary/secondary per spec.md §4.6).
func CreateSingleFile(path string, opts Options) (*SingleFile, error) {
	opts = opts.withDefaults()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &IOError{Op: "create", Path: path, Cause: err}
	}

	walPages := opts.WALSize / uint64(opts.PageSize)
	walStartPage := uint64(1) // header occupies page 0
	snapStartPage := walStartPage + walPages

	h := sfHeader{
		PageSize:      opts.PageSize,
		FormatVersion: 1,
		MinReaderVer:  1,
		TotalPages:    snapStartPage,
		SnapStartPage: snapStartPage,
		SnapPageCount: 0,
		WalStartPage:  walStartPage,
		WalPageCount:  walPages,
	}

	totalSize := int64(snapStartPage) * int64(opts.PageSize)
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		return nil, &IOError{Op: "truncate", Path: path, Cause: err}
	}
	if _, err := f.WriteAt(encodeSFHeader(h), 0); err != nil {
		f.Close()
		return nil, &IOError{Op: "write header", Path: path, Cause: err}
	}

	sf := &SingleFile{f: f, opts: opts, hdr: h, encryptKey: opts.EncryptionKey}
	if err := sf.writeEmptyGeneration0(); err != nil {
		f.Close()
		return nil, err
	}
	if err := sf.f.Sync(); err != nil {
		f.Close()
		return nil, &IOError{Op: "fsync", Path: path, Cause: err}
	}
	return sf, nil
}

func (sf *SingleFile) writeEmptyGeneration0() error {
	empty, _ := (fakeEmptySnapshotWriter{}).bytes()
	return sf.writeSnapshotLocked(0, empty)
}

// OpenSingleFile reopens an existing .raydb file, honoring §13 decision 3:
// if CheckpointFlag is set, the snapshot tail written during the
// interrupted checkpoint is untrusted (SnapPageCount/ActiveGen weren't
// flipped, so it's simply never referenced) and only the primary WAL
// region is replayed; the secondary is ignored until the next checkpoint.
func OpenSingleFile(path string, opts Options) (*SingleFile, error) {
	opts = opts.withDefaults()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Cause: err}
	}
	buf := make([]byte, headerPageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, &IOError{Op: "read header", Path: path, Cause: err}
	}
	h, err := decodeSFHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	if h.CheckpointFlag != 0 {
		h.ActiveWalRegion = 0 // force replay of the primary region only
	}
	return &SingleFile{f: f, opts: opts, hdr: h, nextTxID: h.NextTxID, nextCommit: h.LastCommitTs, encryptKey: opts.EncryptionKey}, nil
}

func (sf *SingleFile) ActiveGeneration() (uint64, []byte, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.hdr.SnapPageCount == 0 {
		empty, _ := (fakeEmptySnapshotWriter{}).bytes()
		return sf.hdr.ActiveGen, empty, nil
	}
	offset := int64(sf.hdr.SnapStartPage) * int64(sf.hdr.PageSize)
	length := int64(sf.hdr.SnapPageCount) * int64(sf.hdr.PageSize)
	region, err := mmap.MapRegion(sf.f, int(length), mmap.RDONLY, 0, offset)
	if err != nil {
		return 0, nil, &IOError{Op: "mmap snapshot region", Path: sf.f.Name(), Cause: err}
	}
	defer region.Unmap()
	n := int64(sf.hdr.SnapByteLength)
	if n == 0 || n > length {
		n = length
	}
	out := make([]byte, n)
	copy(out, region[:n])
	return sf.hdr.ActiveGen, sf.maybeDecrypt(out), nil
}

// WriteSnapshot writes the new generation into free pages appended at the
// file's tail, fsyncs, then flips the header's snapshot pointer fields and
// fsyncs the header page (spec.md §4.6 "Atomic snapshot flip in
// single-file").
func (sf *SingleFile) WriteSnapshot(generation uint64, data []byte) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.writeSnapshotLocked(generation, data)
}

func (sf *SingleFile) writeSnapshotLocked(generation uint64, data []byte) error {
	data = sf.maybeEncrypt(data)
	pageSize := int64(sf.hdr.PageSize)
	pages := (int64(len(data)) + pageSize - 1) / pageSize
	startPage := sf.hdr.TotalPages

	newTotal := startPage + uint64(pages)
	if err := sf.f.Truncate(int64(newTotal) * pageSize); err != nil {
		return &IOError{Op: "truncate", Path: sf.f.Name(), Cause: err}
	}
	if _, err := sf.f.WriteAt(data, int64(startPage)*pageSize); err != nil {
		return &IOError{Op: "write snapshot", Path: sf.f.Name(), Cause: err}
	}
	if err := sf.f.Sync(); err != nil {
		return &IOError{Op: "fsync snapshot", Path: sf.f.Name(), Cause: err}
	}

	sf.hdr.PrevGen = sf.hdr.ActiveGen
	sf.hdr.ActiveGen = generation
	sf.hdr.SnapStartPage = startPage
	sf.hdr.SnapPageCount = uint64(pages)
	sf.hdr.SnapByteLength = uint64(len(data))
	sf.hdr.TotalPages = newTotal
	sf.hdr.ChangeCounter++
	return sf.flushHeaderLocked()
}

func (sf *SingleFile) flushHeaderLocked() error {
	sf.hdr.NextTxID = atomic.LoadUint64(&sf.nextTxID)
	sf.hdr.LastCommitTs = atomic.LoadUint64(&sf.nextCommit)
	if _, err := sf.f.WriteAt(encodeSFHeader(sf.hdr), 0); err != nil {
		return &IOError{Op: "write header", Path: sf.f.Name(), Cause: err}
	}
	return sf.f.Sync()
}

// AppendWAL writes rec into the currently active WAL region at its head
// offset. Returns ErrBufferFull (wal.ErrBufferFull) if the active region
// is exhausted before a checkpoint can run.
func (sf *SingleFile) AppendWAL(rec wal.Record) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	buf := rec.Encode()
	regionBytes := sf.regionSizeLocked()
	head := sf.activeHeadLocked()
	if head+uint64(len(buf)) > regionBytes {
		return wal.ErrBufferFull
	}

	base := int64(sf.hdr.WalStartPage) * int64(sf.hdr.PageSize)
	if sf.hdr.ActiveWalRegion == 1 {
		base += int64(sf.primaryRegionBytesLocked())
	}
	if _, err := sf.f.WriteAt(buf, base+int64(head)); err != nil {
		return &IOError{Op: "append wal", Path: sf.f.Name(), Cause: err}
	}
	sf.setActiveHeadLocked(head + uint64(len(buf)))
	return nil
}

func (sf *SingleFile) SyncWAL() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.f.Sync(); err != nil {
		return &IOError{Op: "fsync wal", Path: sf.f.Name(), Cause: err}
	}
	return sf.flushHeaderLocked()
}

// RecoverWAL reads only the currently active region, up to its recorded
// head — OpenSingleFile already forced ActiveWalRegion back to the primary
// if CheckpointFlag was left set by an interrupted checkpoint, so this
// always reads the region an unclean shutdown would have left trustworthy.
func (sf *SingleFile) RecoverWAL() (wal.RecoveryResult, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	base := int64(sf.hdr.WalStartPage) * int64(sf.hdr.PageSize)
	if sf.hdr.ActiveWalRegion == 1 {
		base += int64(sf.primaryRegionBytesLocked())
	}
	head := sf.activeHeadLocked()
	buf := make([]byte, head)
	if head > 0 {
		if _, err := sf.f.ReadAt(buf, base); err != nil {
			return wal.RecoveryResult{}, &IOError{Op: "read wal region", Path: sf.f.Name(), Cause: err}
		}
	}
	return wal.RecoverBytes(buf), nil
}

// primaryRegionBytesLocked splits the WAL region 75%/25% primary/secondary,
// per spec.md §4.6's default split.
func (sf *SingleFile) primaryRegionBytesLocked() uint64 {
	total := sf.hdr.WalPageCount * uint64(sf.hdr.PageSize)
	return total * 3 / 4
}

func (sf *SingleFile) regionSizeLocked() uint64 {
	total := sf.hdr.WalPageCount * uint64(sf.hdr.PageSize)
	if sf.hdr.ActiveWalRegion == 0 {
		return sf.primaryRegionBytesLocked()
	}
	return total - sf.primaryRegionBytesLocked()
}

func (sf *SingleFile) activeHeadLocked() uint64 {
	if sf.hdr.ActiveWalRegion == 0 {
		return sf.hdr.WalPrimaryHead
	}
	return sf.hdr.WalSecondHead
}

func (sf *SingleFile) setActiveHeadLocked(v uint64) {
	if sf.hdr.ActiveWalRegion == 0 {
		sf.hdr.WalPrimaryHead = v
	} else {
		sf.hdr.WalSecondHead = v
	}
}

// BeginCheckpoint switches new appends to the secondary WAL region so the
// (now frozen) primary region can be read by the checkpointer, per
// spec.md §4.6's dual-region rationale.
func (sf *SingleFile) BeginCheckpoint() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.hdr.CheckpointFlag = 1
	sf.hdr.ActiveWalRegion = 1
	sf.hdr.WalSecondHead = 0
	return sf.flushHeaderLocked()
}

// CompleteCheckpoint clears the now-redundant primary region and swaps
// roles back, ready for the next checkpoint cycle.
func (sf *SingleFile) CompleteCheckpoint() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.hdr.CheckpointFlag = 0
	sf.hdr.WalPrimaryHead = 0
	sf.hdr.ActiveWalRegion = 0
	return sf.flushHeaderLocked()
}

func (sf *SingleFile) NextTxID() uint64     { return atomic.AddUint64(&sf.nextTxID, 1) }
func (sf *SingleFile) NextCommitTs() uint64 { return atomic.AddUint64(&sf.nextCommit, 1) }

func (sf *SingleFile) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.flushHeaderLocked(); err != nil {
		sf.f.Close()
		return err
	}
	return sf.f.Close()
}
