package db

import "github.com/ChinmayNoob/lsmkv/sstable"

// LevelStats summarizes one level's live file set.
type LevelStats struct {
	Level     int
	NumFiles  int
	TotalSize int64
}

// Stats is a point-in-time snapshot of the engine's exposed counters. The
// engine only ever exposes raw counters; formatting or export to a metrics
// backend is left to the caller.
type Stats struct {
	Levels []LevelStats

	ActiveMemtableBytes    int64
	ImmutableMemtableBytes int64

	BytesWritten uint64
	BytesRead    uint64

	FlushCount      uint64
	CompactionCount uint64
	WALSyncCount    uint64

	BloomChecks         uint64
	BloomNegatives      uint64
	BloomFalsePositives uint64
}

func (d *DB) statsSnapshot() Stats {
	v := d.manifest.Current()
	defer v.Unref()

	st := Stats{}
	for lvl := 0; lvl < v.NumLevels(); lvl++ {
		files := v.Files(lvl)
		st.Levels = append(st.Levels, LevelStats{
			Level:     lvl,
			NumFiles:  len(files),
			TotalSize: v.TotalBytes(lvl),
		})
	}

	d.memMu.Lock()
	st.ActiveMemtableBytes = d.active.Size()
	if d.imm != nil {
		st.ImmutableMemtableBytes = d.imm.Size()
	}
	d.memMu.Unlock()

	st.BytesWritten = d.bytesWritten.Load()
	st.BytesRead = d.bytesRead.Load()
	st.FlushCount = d.flushCount.Load()
	st.CompactionCount = d.compactionCount.Load()
	st.WALSyncCount = d.walSyncCount.Load()

	var cacheStats sstable.Stats
	if d.cache != nil {
		cacheStats = d.cache.Stats()
	}
	st.BloomChecks = cacheStats.BloomChecks
	st.BloomNegatives = cacheStats.BloomNegatives
	st.BloomFalsePositives = cacheStats.BloomFalsePositives
	return st
}
