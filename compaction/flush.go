package compaction

import (
	"github.com/ChinmayNoob/lsmkv/iterator"
	"github.com/ChinmayNoob/lsmkv/memtable"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

// Flush writes an immutable memtable's records, newest-version-per-key,
// into a new level-0 SSTable at fileNumber. It never drops tombstones —
// an older version of a deleted key may still live in a lower level,
// and only leveled compaction knows whether that's the case.
func Flush(dir string, fileNumber uint64, imm *memtable.Memtable, blockSize int, bloomBitsPerKey uint32) (sstable.Meta, error) {
	src := imm.Iterator(nil, nil)
	dd := iterator.NewDedup(src, false)
	defer dd.Close()

	w, err := sstable.NewWriter(sstable.Path(dir, fileNumber), sstable.WriterOptions{
		BlockSize:       blockSize,
		BloomBitsPerKey: bloomBitsPerKey,
		EstimatedKeys:   imm.Count(),
	})
	if err != nil {
		return sstable.Meta{}, err
	}

	for dd.Next() {
		if err := w.Add(dd.Record()); err != nil {
			_ = w.Abandon()
			return sstable.Meta{}, err
		}
	}
	if err := dd.Err(); err != nil {
		_ = w.Abandon()
		return sstable.Meta{}, err
	}
	return w.Finish(fileNumber, 0)
}
