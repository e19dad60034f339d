package compaction

import (
	"sync"

	"github.com/ChinmayNoob/lsmkv/manifest"
	"github.com/ChinmayNoob/lsmkv/record"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

// PickerOptions are the level-sizing tunables from the selection policy.
type PickerOptions struct {
	L0CompactionTrigger int
	Level0Size          int64
	SizeRatio           int
	MaxLevel            int
}

// Task describes one compaction job: merge Inputs (from Level) with
// Inputs2 (the overlapping files one level down) into Level+1.
type Task struct {
	Level   int
	Inputs  []sstable.Meta
	Inputs2 []sstable.Meta
}

// targetBytes computes target_bytes(L) = level0_size * size_ratio^(L-1)
// for L >= 1; L0 has no byte target, it is triggered by file count.
func targetBytes(opts PickerOptions, level int) int64 {
	t := opts.Level0Size
	for i := 1; i < level; i++ {
		t *= int64(opts.SizeRatio)
	}
	return t
}

// roundRobin remembers, per source level, the index of the next file to
// pick for compaction so repeated invocations cycle through a level's
// files instead of always picking the same one.
type roundRobin struct {
	mu   sync.Mutex
	next map[int]int
}

func newRoundRobin() *roundRobin {
	return &roundRobin{next: make(map[int]int)}
}

func (r *roundRobin) pick(level, n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.next[level] % n
	r.next[level] = idx + 1
	return idx
}

// Pick selects the next compaction task from v, or reports false if no
// level currently needs compaction.
func Pick(v *manifest.Version, opts PickerOptions, rr *roundRobin) (*Task, bool) {
	l0 := v.Files(0)
	if len(l0) >= opts.L0CompactionTrigger {
		lower, upper := bounds(l0)
		l1 := v.Overlapping(1, lower, upper)
		return &Task{Level: 0, Inputs: l0, Inputs2: l1}, true
	}

	bestLevel := -1
	bestScore := 1.0
	for lvl := 1; lvl < opts.MaxLevel; lvl++ {
		target := targetBytes(opts, lvl)
		if target <= 0 {
			continue
		}
		score := float64(v.TotalBytes(lvl)) / float64(target)
		if score >= bestScore {
			bestScore = score
			bestLevel = lvl
		}
	}
	if bestLevel < 0 {
		return nil, false
	}
	files := v.Files(bestLevel)
	if len(files) == 0 {
		return nil, false
	}
	idx := rr.pick(bestLevel, len(files))
	picked := files[idx]
	next := v.Overlapping(bestLevel+1, picked.SmallestKey, picked.LargestKey)
	return &Task{Level: bestLevel, Inputs: []sstable.Meta{picked}, Inputs2: next}, true
}

func bounds(files []sstable.Meta) (lower, upper []byte) {
	for _, m := range files {
		if lower == nil || record.CompareKey(m.SmallestKey, lower) < 0 {
			lower = m.SmallestKey
		}
		if upper == nil || record.CompareKey(m.LargestKey, upper) > 0 {
			upper = m.LargestKey
		}
	}
	return lower, upper
}

// existsBelow reports whether any file at a level >= fromLevel overlaps
// [lower, upper], used to decide whether tombstones are safe to drop.
func existsBelow(v *manifest.Version, fromLevel int, lower, upper []byte) bool {
	for lvl := fromLevel; lvl < v.NumLevels(); lvl++ {
		if len(v.Overlapping(lvl, lower, upper)) > 0 {
			return true
		}
	}
	return false
}
