package storage

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// KeyIndexEntrySize is the on-disk size of one key-index entry, per
// spec.md §6: {hash64:u64, stringId:u32, reserved:u32, nodeId:u64}.
const KeyIndexEntrySize = 24

// KeyIndexEntry is one slot of the snapshot's hash-bucketed key index
// (spec.md §4.1). Entries within a bucket are sorted by Hash64 so that a
// lookup narrows to a candidate run via binary search before falling back
// to a string-equality check against the string table.
type KeyIndexEntry struct {
	Hash64   uint64
	StringID StringID
	NodeID   NodeID
}

// KeyHash computes the key-index hash of a string key: xxHash64, per
// spec.md §6 ("xxHash64 for keys with implementation-defined but
// deterministic seed"). RayDB uses xxhash's default (zero) seed — any
// fixed seed satisfies "deterministic"; using the library default keeps
// the dependency's own defaults authoritative rather than inventing one.
func KeyHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// KeyBucket returns the bucket index for hash within a table of numBuckets
// buckets: bucket = hash mod numBuckets (spec.md §6).
func KeyBucket(hash uint64, numBuckets uint32) uint32 {
	if numBuckets == 0 {
		return 0
	}
	return uint32(hash % uint64(numBuckets))
}

// EncodeKeyIndexEntry writes a KeyIndexEntry in its 24-byte wire form.
func EncodeKeyIndexEntry(e KeyIndexEntry) [KeyIndexEntrySize]byte {
	var buf [KeyIndexEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.Hash64)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.StringID))
	// buf[12:16] reserved, left zero.
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.NodeID))
	return buf
}

// DecodeKeyIndexEntry reverses EncodeKeyIndexEntry.
func DecodeKeyIndexEntry(buf []byte) KeyIndexEntry {
	return KeyIndexEntry{
		Hash64:   binary.LittleEndian.Uint64(buf[0:8]),
		StringID: StringID(binary.LittleEndian.Uint32(buf[8:12])),
		NodeID:   NodeID(binary.LittleEndian.Uint64(buf[16:24])),
	}
}

// KeyIndexBuilder accumulates (key, NodeID) pairs during checkpoint and
// produces the sorted bucketed layout the snapshot format requires
// (spec.md §4.4 step 2: "construct key-index buckets/entries").
type KeyIndexBuilder struct {
	numBuckets uint32
	entries    []keyIndexBuildEntry
}

type keyIndexBuildEntry struct {
	bucket uint32
	entry  KeyIndexEntry
}

// NewKeyIndexBuilder creates a builder targeting numBuckets buckets.
// SnapshotBuilder.Build passes the count set by SetKeyBuckets, or the live
// node count when none was set; it is fixed for the generation.
func NewKeyIndexBuilder(numBuckets uint32) *KeyIndexBuilder {
	if numBuckets == 0 {
		numBuckets = 1
	}
	return &KeyIndexBuilder{numBuckets: numBuckets}
}

// Add registers one live (key, StringID, NodeID) triple.
func (b *KeyIndexBuilder) Add(key string, sid StringID, id NodeID) {
	h := KeyHash(key)
	b.entries = append(b.entries, keyIndexBuildEntry{
		bucket: KeyBucket(h, b.numBuckets),
		entry:  KeyIndexEntry{Hash64: h, StringID: sid, NodeID: id},
	})
}

// Build sorts entries by (bucket, hash64) and returns the flat entry array
// plus the numBuckets+1 bucket-offset table (spec.md §4.1:
// "keyBuckets[numBuckets+1] gives bucket slice offsets").
func (b *KeyIndexBuilder) Build() (entries []KeyIndexEntry, buckets []uint64) {
	sort.Slice(b.entries, func(i, j int) bool {
		if b.entries[i].bucket != b.entries[j].bucket {
			return b.entries[i].bucket < b.entries[j].bucket
		}
		return b.entries[i].entry.Hash64 < b.entries[j].entry.Hash64
	})

	entries = make([]KeyIndexEntry, len(b.entries))
	buckets = make([]uint64, b.numBuckets+1)
	for i, be := range b.entries {
		entries[i] = be.entry
		buckets[be.bucket+1]++
	}
	for i := 1; i < len(buckets); i++ {
		buckets[i] += buckets[i-1]
	}
	return entries, buckets
}

// LookupKeyIndex performs the binary-search-then-verify lookup spec.md §6
// describes, given the flat sorted entries, the bucket-offset table, the
// target key, and a resolver from StringID back to the original string
// (used to break hash collisions by exact comparison).
func LookupKeyIndex(entries []KeyIndexEntry, buckets []uint64, key string, resolve func(StringID) (string, bool)) (NodeID, bool) {
	if len(buckets) < 2 {
		return 0, false
	}
	numBuckets := uint32(len(buckets) - 1)
	h := KeyHash(key)
	bucket := KeyBucket(h, numBuckets)
	lo, hi := buckets[bucket], buckets[bucket+1]
	run := entries[lo:hi]

	i := sort.Search(len(run), func(i int) bool { return run[i].Hash64 >= h })
	for i < len(run) && run[i].Hash64 == h {
		if s, ok := resolve(run[i].StringID); ok && s == key {
			return run[i].NodeID, true
		}
		i++
	}
	return 0, false
}
