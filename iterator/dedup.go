package iterator

import "github.com/ChinmayNoob/lsmkv/record"

// Dedup wraps a Source — typically a MergingIterator — and collapses
// consecutive records sharing a user key down to the first one seen
// (the newest, since the wrapped source orders seq descending within a
// key). With dropTombstones set it additionally suppresses delete
// markers, which is correct only when the wrapped merge covers every
// level that could hold an older version of that key — the "oldest
// level containing the key" condition compaction checks before
// requesting it.
type Dedup struct {
	src            Source
	dropTombstones bool
	cur            record.Record
	lastKey        []byte
	haveLast       bool
	err            error
}

// NewDedup wraps src.
func NewDedup(src Source, dropTombstones bool) *Dedup {
	return &Dedup{src: src, dropTombstones: dropTombstones}
}

// Next advances to the next distinct user key.
func (d *Dedup) Next() bool {
	for d.src.Next() {
		rec := d.src.Record()
		if d.haveLast && record.CompareKey(rec.Key, d.lastKey) == 0 {
			continue
		}
		d.lastKey = append(d.lastKey[:0], rec.Key...)
		d.haveLast = true
		if d.dropTombstones && rec.Tombstone() {
			continue
		}
		d.cur = rec
		return true
	}
	d.err = d.src.Err()
	return false
}

// Record returns the record most recently yielded by Next.
func (d *Dedup) Record() record.Record { return d.cur }

// Err returns the first error encountered.
func (d *Dedup) Err() error { return d.err }

// Close closes the wrapped source.
func (d *Dedup) Close() error { return d.src.Close() }
