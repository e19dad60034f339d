// Package memtable implements the in-memory ordered map of recent writes,
// backed by a skip list keyed by (user_key asc, seq desc).
package memtable

import (
	"sync"

	"github.com/ChinmayNoob/lsmkv/record"
)

// Memtable is the mutable, in-memory staging area for recent writes. It is
// safe for concurrent readers; the DB facade's writer mutex serializes
// Apply calls, so the skip list itself only needs to protect reads racing
// a single writer.
type Memtable struct {
	mu   sync.RWMutex
	sl   *skiplist
	size int64 // cumulative EncodedSize of every inserted record
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{sl: newSkiplist()}
}

// Apply inserts rec. Older and newer versions of the same user key may
// coexist in the memtable until the memtable is flushed; only Get and
// Iterator resolve to a single version.
func (m *Memtable) Apply(rec record.Record) {
	rec = rec.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sl.insert(rec)
	m.size += int64(rec.EncodedSize())
}

// Get returns the record with the largest seq <= snapshotSeq for key, or
// false if no such record exists in this memtable.
func (m *Memtable) Get(key []byte, snapshotSeq uint64) (record.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.sl.seekKey(key)
	for n != nil && record.CompareKey(n.rec.Key, key) == 0 {
		if n.rec.Seq <= snapshotSeq {
			return n.rec.Clone(), true
		}
		n = n.next[0]
	}
	return record.Record{}, false
}

// Size returns the cumulative encoded size of every record ever applied,
// used to decide when the memtable should be sealed.
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Count returns the number of records ever applied, including superseded
// versions of the same key.
func (m *Memtable) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sl.count
}

// Iterator returns a forward iterator over [lower, upper) in ascending
// (user_key, seq desc) order. A nil lower means unbounded below; a nil
// upper means unbounded above. The iterator pins no locks after creation —
// it walks a structure that the DB facade never mutates in place again
// once a memtable is sealed, and for the active memtable inserts only ever
// append nodes, never remove them, so a pre-existing iterator is safe to
// keep walking.
func (m *Memtable) Iterator(lower, upper []byte) *Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var start *node
	if len(lower) == 0 {
		start = m.sl.head.next[0]
	} else {
		start = m.sl.seekGE(lower)
	}
	return &Iterator{cur: start, upper: upper}
}

// Iterator walks a memtable snapshot in ascending (user_key, seq desc)
// order.
type Iterator struct {
	cur   *node
	upper []byte
	rec   record.Record
	done  bool
}

// Next advances the iterator and reports whether a record is available.
func (it *Iterator) Next() bool {
	if it.done || it.cur == nil {
		it.done = true
		return false
	}
	if len(it.upper) > 0 && record.CompareKey(it.cur.rec.Key, it.upper) >= 0 {
		it.done = true
		return false
	}
	it.rec = it.cur.rec
	it.cur = it.cur.next[0]
	return true
}

// Record returns the record most recently yielded by Next.
func (it *Iterator) Record() record.Record { return it.rec }

// Err always returns nil; a memtable walk cannot fail.
func (it *Iterator) Err() error { return nil }

// Close is a no-op; memtable iterators hold no external resources.
func (it *Iterator) Close() error { return nil }
