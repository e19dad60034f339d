package compaction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChinmayNoob/lsmkv/manifest"
	"github.com/ChinmayNoob/lsmkv/memtable"
	"github.com/ChinmayNoob/lsmkv/record"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

func TestFlushProducesSortedDedupedTable(t *testing.T) {
	dir := t.TempDir()
	m := memtable.New()
	m.Apply(record.Record{Key: []byte("b"), Value: []byte("1"), Seq: 1, Op: record.OpSet})
	m.Apply(record.Record{Key: []byte("a"), Value: []byte("1"), Seq: 2, Op: record.OpSet})
	m.Apply(record.Record{Key: []byte("a"), Value: []byte("2"), Seq: 3, Op: record.OpSet})

	meta, err := Flush(dir, 1, m, 4096, 10)
	require.NoError(t, err)
	require.EqualValues(t, 0, meta.Level)

	r, err := sstable.Open(sstable.Path(dir, 1), meta, nil)
	require.NoError(t, err)
	defer r.Close()

	rec, ok, err := r.Get([]byte("a"), ^uint64(0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), rec.Value)
}

func buildSST(t *testing.T, dir string, fn uint64, level int, recs []record.Record) sstable.Meta {
	t.Helper()
	w, err := sstable.NewWriter(sstable.Path(dir, fn), sstable.WriterOptions{BlockSize: 256, BloomBitsPerKey: 10})
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Add(r))
	}
	meta, err := w.Finish(fn, level)
	require.NoError(t, err)
	return meta
}

func TestCompactorMergesLevels(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	var recs []record.Record
	for i := 0; i < 20; i++ {
		recs = append(recs, record.Record{Key: []byte(fmt.Sprintf("k%02d", i)), Value: []byte("l0"), Seq: uint64(100 + i), Op: record.OpSet})
	}
	l0Meta := buildSST(t, dir, m.NextFileNumber(), 0, recs)

	var l1recs []record.Record
	for i := 0; i < 20; i++ {
		l1recs = append(l1recs, record.Record{Key: []byte(fmt.Sprintf("k%02d", i)), Value: []byte("l1-old"), Seq: uint64(i), Op: record.OpSet})
	}
	l1Meta := buildSST(t, dir, m.NextFileNumber(), 1, l1recs)

	_, err = m.LogAndApply(manifest.Edit{AddedFiles: []sstable.Meta{l0Meta, l1Meta}})
	require.NoError(t, err)

	cache, err := sstable.NewCache(dir, 10)
	require.NoError(t, err)
	defer cache.Close()

	c := New(Config{
		Dir:             dir,
		BlockSize:       256,
		BloomBitsPerKey: 10,
		Picker:          PickerOptions{L0CompactionTrigger: 1, Level0Size: 4 << 20, SizeRatio: 10, MaxLevel: 7},
	}, m, cache, nil)

	did, err := c.RunOnce()
	require.NoError(t, err)
	require.True(t, did)

	v := m.Current()
	defer v.Unref()
	require.Empty(t, v.Files(0))
	require.NotEmpty(t, v.Files(1))

	var total int
	for _, f := range v.Files(1) {
		reader, release, err := cache.Get(f)
		require.NoError(t, err)
		rec, ok, err := reader.Get([]byte("k05"), ^uint64(0))
		release()
		require.NoError(t, err)
		if ok {
			require.Equal(t, []byte("l0"), rec.Value)
			total++
		}
	}
	require.Equal(t, 1, total)
}

func TestTargetBytesGrowsWithSizeRatio(t *testing.T) {
	opts := PickerOptions{Level0Size: 4 << 20, SizeRatio: 10}
	require.EqualValues(t, 4<<20, targetBytes(opts, 1))
	require.EqualValues(t, 40<<20, targetBytes(opts, 2))
}

func TestRoundRobinCyclesThroughFiles(t *testing.T) {
	rr := newRoundRobin()
	require.Equal(t, 0, rr.pick(1, 3))
	require.Equal(t, 1, rr.pick(1, 3))
	require.Equal(t, 2, rr.pick(1, 3))
	require.Equal(t, 0, rr.pick(1, 3))
}
