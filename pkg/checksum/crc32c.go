// Package checksum provides the CRC32C (Castagnoli) checksum used across
// RayDB's on-disk formats: WAL records, the manifest, snapshot headers, and
// single-file container pages all checksum with this table.
//
// A single shared table keeps every on-disk format bit-compatible with the
// same polynomial without each package rolling its own crc32.Table.
package checksum

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli CRC32 checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// CRC32CParts checksums header and payload as if they were concatenated,
// without requiring the caller to allocate a combined buffer.
func CRC32CParts(header, payload []byte) uint32 {
	h := crc32.New(castagnoliTable)
	h.Write(header)
	h.Write(payload)
	return h.Sum32()
}

// Verify reports whether data's trailing checksum matches its own contents.
// It is a convenience for the common "compute over a buffer, compare against
// a stored value" pattern used by record and page validation.
func Verify(data []byte, want uint32) bool {
	return CRC32C(data) == want
}
