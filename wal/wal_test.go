package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChinmayNoob/lsmkv/record"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FormatFilename(1))

	w, err := Open(path, SyncMode{Kind: SyncAlways})
	require.NoError(t, err)

	recs := []record.Record{
		{Key: []byte("k1"), Value: []byte("v1"), Seq: 1, Op: record.OpSet},
		{Key: []byte("k2"), Value: []byte("v2"), Seq: 2, Op: record.OpSet},
		{Key: []byte("k1"), Seq: 3, Op: record.OpDelete},
	}
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())

	var got []record.Record
	maxSeq, err := Replay(path, func(r record.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, maxSeq)
	require.Len(t, got, 3)
	require.Equal(t, recs[2].Op, got[2].Op)
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	maxSeq, err := Replay(filepath.Join(t.TempDir(), "999.wal"), func(record.Record) error {
		t.Fatal("should not be called")
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, maxSeq)
}

func TestReplayTruncatesAtBadCRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FormatFilename(1))

	w, err := Open(path, SyncMode{Kind: SyncAlways})
	require.NoError(t, err)
	require.NoError(t, w.Append(record.Record{Key: []byte("k1"), Value: []byte("v1"), Seq: 1, Op: record.OpSet}))
	require.NoError(t, w.Close())

	// Corrupt the last byte of the file (part of the value payload),
	// which should fail the CRC check for that frame.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, info.Size()-1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []record.Record
	maxSeq, err := Replay(path, func(r record.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, maxSeq)
	require.Empty(t, got)
}

func TestReplayKeepsFramesBeforeTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FormatFilename(1))

	w, err := Open(path, SyncMode{Kind: SyncAlways})
	require.NoError(t, err)
	require.NoError(t, w.Append(record.Record{Key: []byte("k1"), Value: []byte("v1"), Seq: 1, Op: record.OpSet}))
	require.NoError(t, w.Append(record.Record{Key: []byte("k2"), Value: []byte("v2"), Seq: 2, Op: record.OpSet}))
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	var got []record.Record
	maxSeq, err := Replay(path, func(r record.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, maxSeq)
	require.Len(t, got, 1)
}

func TestListSegmentsAscending(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []uint64{3, 1, 2} {
		f, err := os.Create(SegmentPath(dir, n))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	got, err := ListSegments(dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, got)
}
