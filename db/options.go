package db

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ChinmayNoob/lsmkv/errs"
	"github.com/ChinmayNoob/lsmkv/wal"
)

// Options carries every tunable named in the configurable-options list,
// with the documented defaults filled in by DefaultOptions and enforced
// by validate.
type Options struct {
	Dir             string
	CreateIfMissing bool
	ErrorIfExists   bool
	ReadOnly        bool

	MemtableSize    int64
	BloomFilterBits uint32

	MaxLevel  int
	Level0Size int64
	SizeRatio int

	L0CompactionTrigger int
	L0Slowdown          int
	L0Stop              int

	BlockSize     int
	TargetSSTSize int64

	WALSyncMode       wal.SyncKind
	WALSyncIntervalMS int

	// FileCacheSize bounds the LRU of open SSTable readers.
	FileCacheSize int
	// CompactionConcurrency is validated and defaulted to 2 but not
	// consulted: the background worker always allows exactly one flush
	// plus one leveled compaction, whatever this field holds.
	CompactionConcurrency int

	// Logger is the ambient structured-logging sink; nil defaults to a
	// no-op logger.
	Logger *zap.Logger

	// Comparator is reserved for a future pluggable key ordering; the
	// core always compares keys as unsigned lexicographic bytes.
	Comparator any
}

// DefaultOptions returns the documented defaults with Dir set to dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:             dir,
		CreateIfMissing: true,
		ErrorIfExists:   false,
		ReadOnly:        false,

		MemtableSize:    4 << 20,
		BloomFilterBits: 10,

		MaxLevel:   7,
		Level0Size: 4 << 20,
		SizeRatio:  10,

		L0CompactionTrigger: 4,
		L0Slowdown:          8,
		L0Stop:              12,

		BlockSize:     4 << 10,
		TargetSSTSize: 2 << 20,

		WALSyncMode:       wal.SyncBatch,
		WALSyncIntervalMS: 100,

		FileCacheSize:         500,
		CompactionConcurrency: 2,

		Logger: zap.NewNop(),
	}
}

// validate fills zero-value (and, for sizes and counts, negative) fields
// with defaults and rejects impossible tunables. It also raises
// L0Slowdown to twice L0CompactionTrigger when it is below the trigger,
// and L0Stop to L0Slowdown+4 when it is below the slowdown, so a
// caller-supplied non-zero value can be overridden for those two.
func (o *Options) validate() error {
	if o.Dir == "" {
		return errors.Wrap(errs.ErrInvalidArgument, "options: dir is required")
	}
	if o.MemtableSize <= 0 {
		o.MemtableSize = 4 << 20
	}
	if o.BloomFilterBits == 0 {
		o.BloomFilterBits = 10
	}
	if o.MaxLevel < 1 {
		return errors.Wrap(errs.ErrInvalidArgument, "options: max_level must be >= 1")
	}
	if o.Level0Size <= 0 {
		o.Level0Size = 4 << 20
	}
	if o.SizeRatio < 1 {
		o.SizeRatio = 10
	}
	if o.L0CompactionTrigger < 1 {
		o.L0CompactionTrigger = 4
	}
	if o.L0Slowdown < o.L0CompactionTrigger {
		o.L0Slowdown = o.L0CompactionTrigger * 2
	}
	if o.L0Stop < o.L0Slowdown {
		o.L0Stop = o.L0Slowdown + 4
	}
	if o.BlockSize <= 0 {
		return errors.Wrap(errs.ErrInvalidArgument, "options: block_size must be > 0")
	}
	if o.TargetSSTSize <= 0 {
		o.TargetSSTSize = 2 << 20
	}
	if o.FileCacheSize <= 0 {
		o.FileCacheSize = 500
	}
	if o.CompactionConcurrency <= 0 {
		o.CompactionConcurrency = 2
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}
