package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChinmayNoob/lsmkv/sstable"
)

func TestBootstrapEmpty(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	v := m.Current()
	defer v.Unref()
	require.Equal(t, 7, v.NumLevels())
	require.Empty(t, v.Files(0))
}

func TestLogAndApplyAddsFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	meta := sstable.Meta{FileNumber: m.NextFileNumber(), Level: 0, SmallestKey: []byte("a"), LargestKey: []byte("z"), Size: 100}
	v, err := m.LogAndApply(Edit{AddedFiles: []sstable.Meta{meta}, LastSeq: 5})
	require.NoError(t, err)
	defer v.Unref()

	require.Len(t, v.Files(0), 1)
	require.EqualValues(t, 5, m.LastSeq())
}

func TestReopenRecoversFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 7, nil)
	require.NoError(t, err)

	fn := m.NextFileNumber()
	meta := sstable.Meta{FileNumber: fn, Level: 1, SmallestKey: []byte("b"), LargestKey: []byte("y"), Size: 42}
	_, err = m.LogAndApply(Edit{AddedFiles: []sstable.Meta{meta}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Open(dir, 7, nil)
	require.NoError(t, err)
	defer m2.Close()
	v := m2.Current()
	defer v.Unref()
	require.Len(t, v.Files(1), 1)
	require.Equal(t, fn, v.Files(1)[0].FileNumber)
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	fn := m.NextFileNumber()
	meta := sstable.Meta{FileNumber: fn, Level: 0, SmallestKey: []byte("a"), LargestKey: []byte("b")}
	v1, err := m.LogAndApply(Edit{AddedFiles: []sstable.Meta{meta}})
	require.NoError(t, err)
	v1.Unref()

	v2, err := m.LogAndApply(Edit{DeletedFiles: []FileKey{{Level: 0, FileNumber: fn}}})
	require.NoError(t, err)
	defer v2.Unref()
	require.Empty(t, v2.Files(0))
}

func TestSnapshotRotatesManifestFile(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < snapshotEditThreshold+5; i++ {
		fn := m.NextFileNumber()
		meta := sstable.Meta{FileNumber: fn, Level: 0, SmallestKey: []byte("a"), LargestKey: []byte("b")}
		v, err := m.LogAndApply(Edit{AddedFiles: []sstable.Meta{meta}})
		require.NoError(t, err)
		v.Unref()
	}
	require.Less(t, m.editsSinceSnapshot, snapshotEditThreshold)
}

func TestOverlapping(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	v, err := m.LogAndApply(Edit{AddedFiles: []sstable.Meta{
		{FileNumber: m.NextFileNumber(), Level: 1, SmallestKey: []byte("a"), LargestKey: []byte("c")},
		{FileNumber: m.NextFileNumber(), Level: 1, SmallestKey: []byte("m"), LargestKey: []byte("p")},
		{FileNumber: m.NextFileNumber(), Level: 1, SmallestKey: []byte("x"), LargestKey: []byte("z")},
	}})
	require.NoError(t, err)
	defer v.Unref()

	got := v.Overlapping(1, []byte("b"), []byte("n"))
	require.Len(t, got, 2)
}
