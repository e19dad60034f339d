// Package record defines the logical write unit shared by the memtable,
// WAL, and SSTable layers: an opaque key/value pair tagged with an
// operation and a sequence number.
package record

import (
	"bytes"

	"github.com/ChinmayNoob/lsmkv/errs"
)

// Op distinguishes a value-bearing write from a tombstone.
type Op uint8

const (
	// OpSet stores a value for a key.
	OpSet Op = 1
	// OpDelete writes a tombstone: the record exists, carries a seq, but
	// masks older versions of the same key until compacted away.
	OpDelete Op = 2
)

func (op Op) String() string {
	switch op {
	case OpSet:
		return "SET"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

const (
	// MaxKeyLen is the largest key the engine accepts.
	MaxKeyLen = 64 * 1024
	// MaxValueLen is the largest value the engine accepts.
	MaxValueLen = 64 * 1024 * 1024
	// perRecordOverhead approximates bookkeeping overhead (op byte, seq,
	// length prefixes) for memtable size accounting.
	perRecordOverhead = 1 + 8 + 4 + 4
)

// Record is one logical write: a key, an operation, the value (empty for
// deletes), and the sequence number that orders it against every other
// record for the same key across every source in the engine.
type Record struct {
	Key   []byte
	Value []byte
	Seq   uint64
	Op    Op
}

// Tombstone reports whether r is a delete marker.
func (r Record) Tombstone() bool { return r.Op == OpDelete }

// Clone returns a copy of r whose Key/Value slices do not alias the
// caller's backing arrays.
func (r Record) Clone() Record {
	return Record{
		Key:   cloneBytes(r.Key),
		Value: cloneBytes(r.Value),
		Seq:   r.Seq,
		Op:    r.Op,
	}
}

// EncodedSize approximates the on-disk/in-memory footprint of r, used by
// the memtable and SSTable writer to decide when to roll over.
func (r Record) EncodedSize() int {
	return len(r.Key) + len(r.Value) + perRecordOverhead
}

// ValidateKey enforces the empty-key and max-key-length rules from the
// data model: an empty key is reserved and disallowed, and keys above
// MaxKeyLen are rejected.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return errs.ErrInvalidArgument
	}
	if len(key) > MaxKeyLen {
		return errs.ErrInvalidArgument
	}
	return nil
}

// ValidateValue enforces the max-value-length rule; an empty value is
// always permitted (deletes and legitimate empty-value sets both need it).
func ValidateValue(value []byte) error {
	if len(value) > MaxValueLen {
		return errs.ErrInvalidArgument
	}
	return nil
}

// CompareKey orders keys by unsigned lexicographic byte order.
func CompareKey(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Less orders two records by (user_key asc, seq desc): for equal keys the
// newer (larger seq) record sorts first, so a forward scan yields the
// newest version of each key before any older version.
func Less(a, b Record) bool {
	if c := CompareKey(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.Seq > b.Seq
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
