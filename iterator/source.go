// Package iterator implements the k-way merge over heterogeneous
// ordered sources — memtables and per-level SSTable iterators — that
// the read path and compaction both build on.
package iterator

import "github.com/ChinmayNoob/lsmkv/record"

// Source is anything that yields records in ascending (user_key, seq
// desc) order: a memtable.Iterator, an sstable.Iterator, or another
// MergingIterator.
type Source interface {
	Next() bool
	Record() record.Record
	Err() error
	Close() error
}
