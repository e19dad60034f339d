package db

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChinmayNoob/lsmkv/errs"
	"github.com/ChinmayNoob/lsmkv/record"
)

func kv(key, value string) record.Record {
	return record.Record{Key: []byte(key), Value: []byte(value), Op: record.OpSet}
}

func batchOf(recs ...record.Record) []record.Record { return recs }

func openTestDB(t *testing.T, mutate func(*Options)) *DB {
	t.Helper()
	opts := DefaultOptions(t.TempDir())
	if mutate != nil {
		mutate(&opts)
	}
	d, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestBasicPutGetDelete(t *testing.T) {
	d := openTestDB(t, nil)

	require.NoError(t, d.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, d.Put([]byte("k2"), []byte("v2")))

	v, ok, err := d.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	_, ok, err = d.Get([]byte("k3"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.Delete([]byte("k1")))
	_, ok, err = d.Get([]byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOverwriteThenRead(t *testing.T) {
	d := openTestDB(t, nil)
	require.NoError(t, d.Put([]byte("k"), []byte("v1")))
	require.NoError(t, d.Put([]byte("k"), []byte("v2")))
	v, ok, err := d.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestRangeScan(t *testing.T) {
	d := openTestDB(t, nil)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%02d", i)
		val := fmt.Sprintf("val%02d", i)
		require.NoError(t, d.Put([]byte(key), []byte(val)))
	}

	it, err := d.Range([]byte("key20"), []byte("key25"), ^uint64(0))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, fmt.Sprintf("%s=%s", it.Key(), it.Value()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{
		"key20=val20", "key21=val21", "key22=val22", "key23=val23", "key24=val24",
	}, got)
}

func TestRangeSameBoundIsEmpty(t *testing.T) {
	d := openTestDB(t, nil)
	require.NoError(t, d.Put([]byte("a"), []byte("1")))

	it, err := d.Range([]byte("a"), []byte("a"), ^uint64(0))
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.Next())
}

func TestEmptyKeyRejected(t *testing.T) {
	d := openTestDB(t, nil)
	err := d.Put([]byte(""), []byte("v"))
	require.Error(t, err)
	require.Equal(t, errs.KindInvalidArgument, errs.Kind(err))
}

func TestFlushTriggersL0(t *testing.T) {
	d := openTestDB(t, func(o *Options) { o.MemtableSize = 4096 })

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("%08d", i)
		require.NoError(t, d.Put([]byte(key), []byte(key)))
	}

	require.Eventually(t, func() bool {
		return len(d.Stats().Levels) > 0 && d.Stats().Levels[0].NumFiles >= 1
	}, 5*time.Second, 20*time.Millisecond)

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("%08d", i)
		v, ok, err := d.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, key, string(v))
	}
}

func TestCompactionReducesLiveBytes(t *testing.T) {
	d := openTestDB(t, func(o *Options) {
		o.MemtableSize = 8 << 10
		o.L0CompactionTrigger = 2
	})

	const nKeys = 200
	const nRounds = 5
	var rawBytes int
	for round := 0; round < nRounds; round++ {
		for i := 0; i < nKeys; i++ {
			key := fmt.Sprintf("key-%04d", i)
			val := fmt.Sprintf("round-%d-value-%04d", round, i)
			require.NoError(t, d.Put([]byte(key), []byte(val)))
			rawBytes += len(key) + len(val)
		}
	}

	require.Eventually(t, func() bool {
		return d.Stats().ImmutableMemtableBytes == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, d.CompactRange(nil, nil))

	st := d.Stats()
	var totalBytes int64
	for _, lvl := range st.Levels {
		totalBytes += lvl.TotalSize
	}
	// Every key was overwritten nRounds times; a full compaction should
	// collapse each key down to its newest version, leaving well under
	// the raw bytes written across every round.
	require.Less(t, totalBytes, int64(rawBytes))

	for i := 0; i < nKeys; i++ {
		key := fmt.Sprintf("key-%04d", i)
		v, ok, err := d.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("round-4-value-%04d", i), string(v))
	}
}

func TestReopenPreservesMapping(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)

	d1, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, d1.Put([]byte("a"), []byte("1")))
	require.NoError(t, d1.Put([]byte("b"), []byte("2")))
	require.NoError(t, d1.Delete([]byte("a")))
	require.NoError(t, d1.Close())

	d2, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = d2.Close() }()

	_, ok, err := d2.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := d2.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)

	d1, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	_, err = Open(opts)
	require.Error(t, err)
	require.Equal(t, errs.KindAlreadyOpen, errs.Kind(err))
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)
	d1, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, d1.Put([]byte("a"), []byte("1")))
	require.NoError(t, d1.Close())

	roOpts := opts
	roOpts.ReadOnly = true
	d2, err := Open(roOpts)
	require.NoError(t, err)
	defer func() { _ = d2.Close() }()

	err = d2.Put([]byte("b"), []byte("2"))
	require.Error(t, err)
	require.Equal(t, errs.KindReadOnly, errs.Kind(err))

	v, ok, err := d2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestSnapshotIsolatedFromLaterWrites(t *testing.T) {
	d := openTestDB(t, nil)
	require.NoError(t, d.Put([]byte("a"), []byte("1")))

	snap, err := d.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	require.NoError(t, d.Put([]byte("a"), []byte("2")))

	v, ok, err := d.GetAt([]byte("a"), snap.Seq())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	v, ok, err = d.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestBatchWriteIsAtomicAndContiguous(t *testing.T) {
	d := openTestDB(t, nil)
	require.NoError(t, d.BatchWrite(batchOf(
		kv("x", "1"),
		kv("y", "2"),
		kv("z", "3"),
	)))

	for k, want := range map[string]string{"x": "1", "y": "2", "z": "3"} {
		v, ok, err := d.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, string(v))
	}
}
