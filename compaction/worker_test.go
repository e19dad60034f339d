package compaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChinmayNoob/lsmkv/manifest"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

func TestWorkerFlushAndLevelSemaphoresAreIndependent(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	cache, err := sstable.NewCache(dir, 10)
	require.NoError(t, err)
	defer cache.Close()

	c := New(Config{Dir: dir, BlockSize: 4096, BloomBitsPerKey: 10, Picker: PickerOptions{L0CompactionTrigger: 4, Level0Size: 4 << 20, SizeRatio: 10, MaxLevel: 7}}, m, cache, nil)
	w := NewWorker(c, nil)

	w.AcquireFlush()
	require.True(t, w.levelSem.TryAcquire(1), "level slot should stay free while the flush slot is held")
	w.levelSem.Release(1)
	acquired := make(chan struct{})
	go func() {
		w.AcquireFlush()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second AcquireFlush should block while the first is held")
	case <-time.After(50 * time.Millisecond):
	}
	w.ReleaseFlush()
	<-acquired
	w.ReleaseFlush()
}

func TestWorkerStartStop(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Open(dir, 7, nil)
	require.NoError(t, err)
	defer m.Close()

	cache, err := sstable.NewCache(dir, 10)
	require.NoError(t, err)
	defer cache.Close()

	c := New(Config{Dir: dir, BlockSize: 4096, BloomBitsPerKey: 10, Picker: PickerOptions{L0CompactionTrigger: 4, Level0Size: 4 << 20, SizeRatio: 10, MaxLevel: 7}}, m, cache, nil)
	w := NewWorker(c, nil)
	w.Start()
	w.Trigger()
	w.Stop()
}
