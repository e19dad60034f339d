package manifest

import (
	"sort"
	"sync"

	"github.com/ChinmayNoob/lsmkv/record"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

// Version is an immutable snapshot of the set of live SSTable files
// across all levels. Reads hold a ref on the Version they started with
// so a concurrent compaction installing a new Version can't pull files
// out from under an in-flight Get or range scan; the Version itself is
// only destroyed (its files handed to the cache for eviction) once its
// refcount drops to zero and it is no longer the current Version.
type Version struct {
	mu     sync.Mutex
	refs   int
	levels [][]sstable.Meta // levels[0] is L0: overlapping, newest-last
}

func newVersion(numLevels int) *Version {
	return &Version{levels: make([][]sstable.Meta, numLevels)}
}

func (v *Version) clone() *Version {
	nv := newVersion(len(v.levels))
	for i, fs := range v.levels {
		nv.levels[i] = append([]sstable.Meta(nil), fs...)
	}
	return nv
}

// Ref increments the reference count.
func (v *Version) Ref() {
	v.mu.Lock()
	v.refs++
	v.mu.Unlock()
}

// Unref decrements the reference count and returns the count that
// remains. It only manages the count; nothing happens to the Version's
// files when it reaches zero.
func (v *Version) Unref() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refs--
	return v.refs
}

// NumLevels returns the number of levels this Version tracks.
func (v *Version) NumLevels() int { return len(v.levels) }

// Files returns the live files at level, ascending by smallest key for
// level >= 1; L0 keeps insertion (oldest-first) order since its ranges
// overlap.
func (v *Version) Files(level int) []sstable.Meta {
	if level < 0 || level >= len(v.levels) {
		return nil
	}
	return v.levels[level]
}

// TotalBytes sums the on-disk size of every file at level.
func (v *Version) TotalBytes(level int) int64 {
	var total int64
	for _, m := range v.Files(level) {
		total += m.Size
	}
	return total
}

// Overlapping returns the files at level whose [smallest,largest] key
// range intersects [lower, upper]. An empty lower/upper bound on either
// side means unbounded in that direction.
func (v *Version) Overlapping(level int, lower, upper []byte) []sstable.Meta {
	var out []sstable.Meta
	for _, m := range v.Files(level) {
		if len(upper) > 0 && record.CompareKey(m.SmallestKey, upper) > 0 {
			continue
		}
		if len(lower) > 0 && record.CompareKey(m.LargestKey, lower) < 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (v *Version) apply(e Edit) *Version {
	nv := v.clone()
	if len(e.DeletedFiles) > 0 {
		del := make(map[FileKey]bool, len(e.DeletedFiles))
		for _, d := range e.DeletedFiles {
			del[d] = true
		}
		for lvl := range nv.levels {
			kept := nv.levels[lvl][:0]
			for _, m := range nv.levels[lvl] {
				if !del[FileKey{Level: lvl, FileNumber: m.FileNumber}] {
					kept = append(kept, m)
				}
			}
			nv.levels[lvl] = kept
		}
	}
	for _, m := range e.AddedFiles {
		nv.levels[m.Level] = append(nv.levels[m.Level], m)
	}
	for lvl := 1; lvl < len(nv.levels); lvl++ {
		sortByKey(nv.levels[lvl])
	}
	return nv
}

func sortByKey(fs []sstable.Meta) {
	sort.Slice(fs, func(i, j int) bool {
		return record.CompareKey(fs[i].SmallestKey, fs[j].SmallestKey) < 0
	})
}
