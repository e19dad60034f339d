package sstable

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"

	"github.com/ChinmayNoob/lsmkv/bloom"
	"github.com/ChinmayNoob/lsmkv/errs"
	"github.com/ChinmayNoob/lsmkv/record"
)

// Reader provides point and range access to one immutable SSTable file.
// It memory-maps the backing file via golang.org/x/exp/mmap so block reads
// are page-cache hits rather than per-block pread syscalls.
type Reader struct {
	path  string
	ra    *mmap.ReaderAt
	Meta  Meta
	index []indexEntry
	bf    *bloom.Filter
	size  int64
	stats *Stats
}

// Open memory-maps the SSTable at path and parses its footer, index, and
// bloom filter. stats may be nil; when set, point lookups record bloom
// effectiveness counters into it.
func Open(path string, meta Meta, stats *Stats) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: mmap open")
	}
	size := int64(ra.Len())
	if size < footerLen {
		_ = ra.Close()
		return nil, errs.ErrCorruption
	}

	footerBuf := make([]byte, footerLen)
	if _, err := ra.ReadAt(footerBuf, size-footerLen); err != nil {
		_ = ra.Close()
		return nil, errors.Wrap(err, "sstable: read footer")
	}
	ft, ok := decodeFooter(footerBuf)
	if !ok {
		_ = ra.Close()
		return nil, errs.ErrCorruption
	}

	idxBuf := make([]byte, ft.indexLen)
	if ft.indexLen > 0 {
		if _, err := ra.ReadAt(idxBuf, int64(ft.indexOffset)); err != nil {
			_ = ra.Close()
			return nil, errors.Wrap(err, "sstable: read index block")
		}
	}
	index, err := parseIndex(idxBuf)
	if err != nil {
		_ = ra.Close()
		return nil, err
	}

	var bf *bloom.Filter
	if ft.filterLen > 0 {
		fBuf := make([]byte, ft.filterLen)
		if _, err := ra.ReadAt(fBuf, int64(ft.filterOffset)); err != nil {
			_ = ra.Close()
			return nil, errors.Wrap(err, "sstable: read filter block")
		}
		bf, _ = bloom.Decode(fBuf)
	}

	return &Reader{path: path, ra: ra, Meta: meta, index: index, bf: bf, size: size, stats: stats}, nil
}

// Close releases the memory mapping.
func (r *Reader) Close() error {
	return errors.Wrap(r.ra.Close(), "sstable: close")
}

// MaybeContains consults the bloom filter. A table with no filter (should
// not happen in this implementation, but kept for forward compatibility)
// always reports true.
func (r *Reader) MaybeContains(key []byte) bool {
	if r.bf == nil {
		return true
	}
	return r.bf.MaybeContains(key)
}

// Get returns the record with the largest seq <= snapshotSeq for key.
func (r *Reader) Get(key []byte, snapshotSeq uint64) (record.Record, bool, error) {
	r.stats.recordCheck()
	if !r.MaybeContains(key) {
		r.stats.recordNegative()
		return record.Record{}, false, nil
	}
	idx := r.seekBlockIndex(key)
	if idx < 0 {
		r.stats.recordFalsePositive()
		return record.Record{}, false, nil
	}
	for idx < len(r.index) {
		block, err := r.readBlock(idx)
		if err != nil {
			return record.Record{}, false, err
		}
		it, err := newBlockIter(block)
		if err != nil {
			return record.Record{}, false, err
		}
		for it.next() {
			cmp := record.CompareKey(it.cur.Key, key)
			if cmp == 0 {
				if it.cur.Seq <= snapshotSeq {
					return it.cur.Clone(), true, nil
				}
				continue
			}
			if cmp > 0 {
				r.stats.recordFalsePositive()
				return record.Record{}, false, nil
			}
		}
		if it.err != nil {
			return record.Record{}, false, it.err
		}
		idx++
	}
	r.stats.recordFalsePositive()
	return record.Record{}, false, nil
}

// seekBlockIndex returns the index of the last block whose first key is
// <= key (i.e. the block that would contain key if present), or 0 if key
// sorts before the table's first key, or -1 if the table is empty.
func (r *Reader) seekBlockIndex(key []byte) int {
	if len(r.index) == 0 {
		return -1
	}
	lo, hi := 0, len(r.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if record.CompareKey(r.index[mid].key, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

func (r *Reader) readBlock(idx int) ([]byte, error) {
	e := r.index[idx]
	buf := make([]byte, e.length)
	if _, err := r.ra.ReadAt(buf, int64(e.offset)); err != nil {
		return nil, errors.Wrap(err, "sstable: read data block")
	}
	return buf, nil
}

// Iterator produces forward iteration over [lower, upper).
func (r *Reader) Iterator(lower, upper []byte) (*Iterator, error) {
	startIdx := 0
	if len(lower) > 0 {
		if i := r.seekBlockIndex(lower); i >= 0 {
			startIdx = i
		}
	}
	return &Iterator{r: r, blockIdx: startIdx, lower: lower, upper: upper}, nil
}

// Iterator walks an SSTable's records in ascending (user_key, seq desc)
// order across block boundaries.
type Iterator struct {
	r        *Reader
	blockIdx int
	bi       *blockIter
	lower    []byte
	upper    []byte
	started  bool
	rec      record.Record
	err      error
}

// Next advances the iterator. It returns false at end-of-table, past
// upper, or on error (check Err).
func (it *Iterator) Next() bool {
	for {
		if it.bi == nil {
			if it.blockIdx >= len(it.r.index) {
				return false
			}
			block, err := it.r.readBlock(it.blockIdx)
			if err != nil {
				it.err = err
				return false
			}
			bi, err := newBlockIter(block)
			if err != nil {
				it.err = err
				return false
			}
			it.bi = bi
			it.blockIdx++
		}
		if !it.bi.next() {
			if it.bi.err != nil {
				it.err = it.bi.err
				return false
			}
			it.bi = nil
			continue
		}
		if len(it.lower) > 0 && record.CompareKey(it.bi.cur.Key, it.lower) < 0 {
			continue
		}
		if len(it.upper) > 0 && record.CompareKey(it.bi.cur.Key, it.upper) >= 0 {
			return false
		}
		it.rec = it.bi.cur
		return true
	}
}

// Record returns the record most recently yielded by Next.
func (it *Iterator) Record() record.Record { return it.rec }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close is a no-op; the Reader owns the underlying mmap.
func (it *Iterator) Close() error { return nil }

func parseIndex(buf []byte) ([]indexEntry, error) {
	var entries []indexEntry
	off := 0
	for off < len(buf) {
		klen, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return nil, errs.ErrCorruption
		}
		off += n
		if off+int(klen)+12 > len(buf) {
			return nil, errs.ErrCorruption
		}
		key := make([]byte, klen)
		copy(key, buf[off:off+int(klen)])
		off += int(klen)
		offset := binary.LittleEndian.Uint64(buf[off : off+8])
		length := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		off += 12
		entries = append(entries, indexEntry{key: key, offset: offset, length: length})
	}
	return entries, nil
}
