package container

import (
	"encoding/binary"
	"os"

	"github.com/raydb/raydb/pkg/checksum"
)

const (
	manifestMagic     uint32 = 0x4D424447 // "GDBM" little-endian
	manifestVersion   uint32 = 1
	manifestMinReader uint32 = 1
	manifestSize             = 76
)

// manifest is the multi-file layout's 76-byte atomically-updated pointer
// record (spec.md §6): magic, version, minReader, reserved, then the
// active/previous snapshot generation, the active WAL segment ID, four
// reserved u64 slots, and a trailing CRC32C.
type manifest struct {
	ActiveSnapGen uint64
	PrevSnapGen   uint64
	ActiveWalSeg  uint64
}

func encodeManifest(m manifest) []byte {
	buf := make([]byte, manifestSize)
	binary.LittleEndian.PutUint32(buf[0:4], manifestMagic)
	binary.LittleEndian.PutUint32(buf[4:8], manifestVersion)
	binary.LittleEndian.PutUint32(buf[8:12], manifestMinReader)
	// buf[12:16] reserved
	binary.LittleEndian.PutUint64(buf[16:24], m.ActiveSnapGen)
	binary.LittleEndian.PutUint64(buf[24:32], m.PrevSnapGen)
	binary.LittleEndian.PutUint64(buf[32:40], m.ActiveWalSeg)
	// buf[40:72] reserved2[4]u64
	crc := checksum.CRC32C(buf[:72])
	binary.LittleEndian.PutUint32(buf[72:76], crc)
	return buf
}

func decodeManifest(buf []byte) (manifest, error) {
	if len(buf) < manifestSize {
		return manifest{}, &FormatError{Reason: "manifest: truncated"}
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != manifestMagic {
		return manifest{}, &FormatError{Reason: "manifest: bad magic"}
	}
	if minReader := binary.LittleEndian.Uint32(buf[8:12]); minReader > manifestVersion {
		return manifest{}, &FormatError{Reason: "manifest: requires a newer reader"}
	}
	crc := binary.LittleEndian.Uint32(buf[72:76])
	if !checksum.Verify(buf[:72], crc) {
		return manifest{}, &IntegrityError{Reason: "manifest: CRC mismatch"}
	}
	return manifest{
		ActiveSnapGen: binary.LittleEndian.Uint64(buf[16:24]),
		PrevSnapGen:   binary.LittleEndian.Uint64(buf[24:32]),
		ActiveWalSeg:  binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}

// writeManifestAtomic writes m to path via write-temp-then-rename, per
// spec.md §4.6 "Manifest updates are atomic via write-temp-then-rename."
func writeManifestAtomic(path string, m manifest) error {
	tmp := path + ".tmp"
	buf := encodeManifest(m)
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return &IOError{Op: "write manifest temp", Path: tmp, Cause: err}
	}
	f, err := os.Open(tmp)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		return &IOError{Op: "rename manifest", Path: path, Cause: err}
	}
	return nil
}

func readManifest(path string) (manifest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return manifest{}, &IOError{Op: "read manifest", Path: path, Cause: err}
	}
	return decodeManifest(buf)
}
