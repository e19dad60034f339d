package compaction

import (
	"go.uber.org/zap"

	"github.com/ChinmayNoob/lsmkv/iterator"
	"github.com/ChinmayNoob/lsmkv/manifest"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

// Config bundles the on-disk and sizing settings a Compactor needs.
type Config struct {
	Dir               string
	BlockSize         int
	BloomBitsPerKey   uint32
	MaxOutputFileSize int64
	Picker            PickerOptions
}

// Compactor executes the leveled compaction job: pick a task, merge its
// inputs via a MergingIterator, write capped-size outputs one level
// down, and install the result as a single version edit.
type Compactor struct {
	cfg      Config
	manifest *manifest.Manifest
	cache    *sstable.Cache
	log      *zap.Logger
	rr       *roundRobin
}

// New returns a Compactor.
func New(cfg Config, m *manifest.Manifest, cache *sstable.Cache, logger *zap.Logger) *Compactor {
	if cfg.MaxOutputFileSize <= 0 {
		cfg.MaxOutputFileSize = 2 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{cfg: cfg, manifest: m, cache: cache, log: logger, rr: newRoundRobin()}
}

// RunOnce picks at most one compaction task and executes it, reporting
// whether any work was found.
func (c *Compactor) RunOnce() (bool, error) {
	v := c.manifest.Current()
	defer v.Unref()

	task, ok := Pick(v, c.cfg.Picker, c.rr)
	if !ok {
		return false, nil
	}
	if err := c.run(v, task); err != nil {
		return true, err
	}
	return true, nil
}

// CompactRange forces every level that overlaps [start, end) to merge into
// the next one down, one level at a time, regardless of the score-based
// trigger. It is the synchronous counterpart to the background worker's
// score-driven RunOnce.
func (c *Compactor) CompactRange(start, end []byte) error {
	for level := 0; level < c.cfg.Picker.MaxLevel; level++ {
		if err := c.compactRangeAtLevel(level, start, end); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compactor) compactRangeAtLevel(level int, start, end []byte) error {
	v := c.manifest.Current()
	defer v.Unref()

	inputs := v.Overlapping(level, start, end)
	if len(inputs) == 0 {
		return nil
	}
	lower, upper := bounds(inputs)
	inputs2 := v.Overlapping(level+1, lower, upper)
	task := &Task{Level: level, Inputs: inputs, Inputs2: inputs2}
	return c.run(v, task)
}

func (c *Compactor) run(v *manifest.Version, task *Task) error {
	sources := make([]iterator.Source, 0, len(task.Inputs)+len(task.Inputs2))
	var releases []func()
	defer func() {
		for _, r := range releases {
			r()
		}
	}()

	addSource := func(m sstable.Meta) error {
		r, release, err := c.cache.Get(m)
		if err != nil {
			return err
		}
		releases = append(releases, release)
		it, err := r.Iterator(nil, nil)
		if err != nil {
			return err
		}
		sources = append(sources, it)
		return nil
	}
	for _, m := range task.Inputs {
		if err := addSource(m); err != nil {
			return err
		}
	}
	for _, m := range task.Inputs2 {
		if err := addSource(m); err != nil {
			return err
		}
	}

	lower, upper := bounds(append(append([]sstable.Meta{}, task.Inputs...), task.Inputs2...))
	dropTombstones := !existsBelow(v, task.Level+2, lower, upper)

	mi := iterator.New(sources)
	dd := iterator.NewDedup(mi, dropTombstones)
	defer dd.Close()

	outputLevel := task.Level + 1
	var (
		w             *sstable.Writer
		curFileNumber uint64
		outputs       []sstable.Meta
	)
	closeCurrent := func() error {
		if w == nil {
			return nil
		}
		meta, err := w.Finish(curFileNumber, outputLevel)
		if err != nil {
			return err
		}
		outputs = append(outputs, meta)
		w = nil
		return nil
	}

	for dd.Next() {
		if w == nil {
			curFileNumber = c.manifest.NextFileNumber()
			var err error
			w, err = sstable.NewWriter(sstable.Path(c.cfg.Dir, curFileNumber), sstable.WriterOptions{
				BlockSize:       c.cfg.BlockSize,
				BloomBitsPerKey: c.cfg.BloomBitsPerKey,
			})
			if err != nil {
				return err
			}
		}
		if err := w.Add(dd.Record()); err != nil {
			return err
		}
		if w.ApproxSize() >= c.cfg.MaxOutputFileSize {
			if err := closeCurrent(); err != nil {
				return err
			}
		}
	}
	if err := dd.Err(); err != nil {
		return err
	}
	if err := closeCurrent(); err != nil {
		return err
	}

	var deleted []manifest.FileKey
	for _, m := range task.Inputs {
		deleted = append(deleted, manifest.FileKey{Level: task.Level, FileNumber: m.FileNumber})
	}
	for _, m := range task.Inputs2 {
		deleted = append(deleted, manifest.FileKey{Level: outputLevel, FileNumber: m.FileNumber})
	}

	newV, err := c.manifest.LogAndApply(manifest.Edit{AddedFiles: outputs, DeletedFiles: deleted})
	if err != nil {
		return err
	}
	newV.Unref()

	for _, m := range task.Inputs {
		c.cache.Evict(m.FileNumber)
	}
	for _, m := range task.Inputs2 {
		c.cache.Evict(m.FileNumber)
	}

	c.log.Info("compaction complete",
		zap.Int("source_level", task.Level),
		zap.Int("inputs", len(task.Inputs)+len(task.Inputs2)),
		zap.Int("outputs", len(outputs)),
		zap.Bool("dropped_tombstones", dropTombstones),
	)
	return nil
}
