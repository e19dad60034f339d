package sstable

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChinmayNoob/lsmkv/record"
)

func buildTable(t *testing.T, dir string, fileNumber uint64, recs []record.Record) Meta {
	t.Helper()
	w, err := NewWriter(Path(dir, fileNumber), WriterOptions{BlockSize: 256, BloomBitsPerKey: 10})
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Add(r))
	}
	meta, err := w.Finish(fileNumber, 0)
	require.NoError(t, err)
	return meta
}

func TestWriteReadGet(t *testing.T) {
	dir := t.TempDir()
	var recs []record.Record
	for i := 0; i < 200; i++ {
		k := []byte(fmt.Sprintf("key%04d", i))
		recs = append(recs, record.Record{Key: k, Value: []byte(fmt.Sprintf("val%04d", i)), Seq: uint64(i + 1), Op: record.OpSet})
	}
	meta := buildTable(t, dir, 1, recs)

	r, err := Open(Path(dir, 1), meta, nil)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 200; i++ {
		k := []byte(fmt.Sprintf("key%04d", i))
		rec, ok, err := r.Get(k, ^uint64(0))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte(fmt.Sprintf("val%04d", i)), rec.Value)
	}

	_, ok, err := r.Get([]byte("missing-key"), ^uint64(0))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMultipleVersionsSnapshot(t *testing.T) {
	dir := t.TempDir()
	recs := []record.Record{
		{Key: []byte("k1"), Value: []byte("v2"), Seq: 2, Op: record.OpSet},
		{Key: []byte("k1"), Value: []byte("v1"), Seq: 1, Op: record.OpSet},
	}
	meta := buildTable(t, dir, 1, recs)
	r, err := Open(Path(dir, 1), meta, nil)
	require.NoError(t, err)
	defer r.Close()

	rec, ok, err := r.Get([]byte("k1"), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), rec.Value)

	rec, ok, err = r.Get([]byte("k1"), 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), rec.Value)
}

func TestIteratorRange(t *testing.T) {
	dir := t.TempDir()
	var recs []record.Record
	for i := 0; i < 100; i++ {
		k := []byte(fmt.Sprintf("key%02d", i))
		recs = append(recs, record.Record{Key: k, Value: k, Seq: uint64(i + 1), Op: record.OpSet})
	}
	meta := buildTable(t, dir, 1, recs)
	r, err := Open(Path(dir, 1), meta, nil)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Iterator([]byte("key20"), []byte("key25"))
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, string(it.Record().Key))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"key20", "key21", "key22", "key23", "key24"}, got)
}

func TestMetaBounds(t *testing.T) {
	dir := t.TempDir()
	recs := []record.Record{
		{Key: []byte("a"), Value: []byte("1"), Seq: 5, Op: record.OpSet},
		{Key: []byte("m"), Value: []byte("2"), Seq: 3, Op: record.OpSet},
		{Key: []byte("z"), Value: []byte("3"), Seq: 9, Op: record.OpSet},
	}
	meta := buildTable(t, dir, 1, recs)
	require.Equal(t, []byte("a"), meta.SmallestKey)
	require.Equal(t, []byte("z"), meta.LargestKey)
	require.EqualValues(t, 3, meta.SmallestSeq)
	require.EqualValues(t, 9, meta.LargestSeq)
}

func TestFilenames(t *testing.T) {
	name := filepath.Base(Path("/tmp", 42))
	n, ok := ParseFileNumber(name)
	require.True(t, ok)
	require.EqualValues(t, 42, n)
}
