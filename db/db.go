// Package db wires the memtable, WAL, SSTable, manifest, and compaction
// layers into the single embedded key-value store a caller opens.
package db

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ChinmayNoob/lsmkv/compaction"
	"github.com/ChinmayNoob/lsmkv/errs"
	"github.com/ChinmayNoob/lsmkv/manifest"
	"github.com/ChinmayNoob/lsmkv/memtable"
	"github.com/ChinmayNoob/lsmkv/record"
	"github.com/ChinmayNoob/lsmkv/sstable"
	"github.com/ChinmayNoob/lsmkv/wal"
)

type dbState int32

const (
	stateClosed dbState = iota
	stateOpening
	stateOpen
	stateClosing
)

const lockFilename = "LOCK"

// DB is the embedded, single-process, ordered key-value store. All
// exported methods are safe for concurrent use.
type DB struct {
	opts Options
	log  *zap.Logger

	state atomic.Int32

	lockFile *os.File

	// writerMu serializes every mutation: Put, Delete, BatchWrite, and
	// the memtable rotation they may trigger.
	writerMu sync.Mutex
	seq      atomic.Uint64

	// memMu protects the (active, immutable) pointer pair, per the
	// memtable switch mutex in the concurrency model.
	memMu        sync.Mutex
	active       *memtable.Memtable
	imm          *memtable.Memtable
	activeLogNum uint64
	immLogNum    uint64

	w *wal.WAL

	manifest *manifest.Manifest
	cache    *sstable.Cache

	compactor *compaction.Compactor
	worker    *compaction.Worker

	flushMu sync.Mutex // serializes background flush attempts

	rangeMu     sync.Mutex // serializes CompactRange, with subset coalescing
	activeRange *keyRange

	bytesWritten    atomic.Uint64
	bytesRead       atomic.Uint64
	flushCount      atomic.Uint64
	compactionCount atomic.Uint64
	walSyncCount    atomic.Uint64
}

type keyRange struct {
	start, end []byte
}

func (r *keyRange) contains(start, end []byte) bool {
	if len(r.start) > 0 && (len(start) == 0 || record.CompareKey(start, r.start) < 0) {
		return false
	}
	if len(r.end) > 0 && (len(end) == 0 || record.CompareKey(end, r.end) > 0) {
		return false
	}
	return true
}

// Open opens (and creates, if CreateIfMissing) the store rooted at
// opts.Dir. On a fresh directory it bootstraps an empty manifest; on an
// existing one it reconstructs the current version, replays any WAL
// segments newer than the last flush into a fresh memtable, and resumes
// background compaction.
func Open(opts Options) (*DB, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	exists := dirHasData(opts.Dir)
	if exists && opts.ErrorIfExists {
		return nil, errors.Wrap(errs.ErrAlreadyOpen, "db: error_if_exists set and store already exists")
	}
	if !exists && !opts.CreateIfMissing {
		return nil, errors.Wrap(errs.ErrNotFound, "db: create_if_missing is false and store does not exist")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "db: create dir")
	}

	d := &DB{opts: opts, log: opts.Logger}
	d.state.Store(int32(stateOpening))

	lf, err := acquireLock(opts.Dir)
	if err != nil {
		return nil, err
	}
	d.lockFile = lf

	m, err := manifest.Open(opts.Dir, opts.MaxLevel+1, opts.Logger)
	if err != nil {
		_ = releaseLock(d.lockFile)
		return nil, err
	}
	d.manifest = m
	d.seq.Store(m.LastSeq())

	cache, err := sstable.NewCache(opts.Dir, opts.FileCacheSize)
	if err != nil {
		_ = m.Close()
		_ = releaseLock(d.lockFile)
		return nil, err
	}
	d.cache = cache

	if err := d.recoverWAL(); err != nil {
		_ = cache.Close()
		_ = m.Close()
		_ = releaseLock(d.lockFile)
		return nil, err
	}

	d.compactor = compaction.New(compaction.Config{
		Dir:               opts.Dir,
		BlockSize:         opts.BlockSize,
		BloomBitsPerKey:   opts.BloomFilterBits,
		MaxOutputFileSize: opts.TargetSSTSize,
		Picker: compaction.PickerOptions{
			L0CompactionTrigger: opts.L0CompactionTrigger,
			Level0Size:          opts.Level0Size,
			SizeRatio:           opts.SizeRatio,
			MaxLevel:            opts.MaxLevel,
		},
	}, m, cache, opts.Logger)
	d.worker = compaction.NewWorker(d.compactor, opts.Logger)
	if !opts.ReadOnly {
		d.worker.Start()
	}

	d.state.Store(int32(stateOpen))
	d.log.Info("db opened", zap.String("dir", opts.Dir), zap.Bool("read_only", opts.ReadOnly))
	return d, nil
}

func dirHasData(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "CURRENT"))
	return err == nil
}

// recoverWAL replays every WAL segment at or above the manifest's log
// number into a fresh active memtable in ascending log-number order,
// deletes the older (already flushed) segments, then opens a new segment
// for continued writes.
func (d *DB) recoverWAL() error {
	segments, err := wal.ListSegments(d.opts.Dir)
	if err != nil {
		return err
	}
	watermark := d.manifest.LogNumber()

	mem := memtable.New()
	for _, logNum := range segments {
		if logNum < watermark {
			_ = os.Remove(wal.SegmentPath(d.opts.Dir, logNum))
			continue
		}
		_, err := wal.Replay(wal.SegmentPath(d.opts.Dir, logNum), func(rec record.Record) error {
			mem.Apply(rec)
			if rec.Seq > d.seq.Load() {
				d.seq.Store(rec.Seq)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	newLogNum := d.manifest.NextFileNumber()
	w, err := wal.Open(wal.SegmentPath(d.opts.Dir, newLogNum), d.walSyncMode())
	if err != nil {
		return err
	}
	d.w = w
	d.active = mem
	d.activeLogNum = newLogNum
	return nil
}

func (d *DB) walSyncMode() wal.SyncMode {
	return wal.SyncMode{Kind: d.opts.WALSyncMode, IntervalMS: d.opts.WALSyncIntervalMS}
}

// Close waits for in-flight writes to finish, stops the background
// compactor at its next file boundary, fsyncs the active WAL, and
// releases the directory lock.
func (d *DB) Close() error {
	if !d.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) {
		return nil
	}
	d.writerMu.Lock()
	defer d.writerMu.Unlock()

	if !d.opts.ReadOnly {
		d.worker.Stop()
	}
	// Wait out any flush goroutine still in flight so it doesn't touch
	// the WAL/cache/manifest after we start closing them below.
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	var firstErr error
	if d.w != nil {
		if err := d.w.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := d.w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := releaseLock(d.lockFile); err != nil && firstErr == nil {
		firstErr = err
	}
	d.state.Store(int32(stateClosed))
	d.log.Info("db closed")
	return firstErr
}

// Put stores value under key, assigning it the next sequence number.
func (d *DB) Put(key, value []byte) error {
	return d.applyOne(record.Record{Key: key, Value: value, Op: record.OpSet})
}

// Delete writes a tombstone for key.
func (d *DB) Delete(key []byte) error {
	return d.applyOne(record.Record{Key: key, Op: record.OpDelete})
}

func (d *DB) applyOne(rec record.Record) error {
	return d.BatchWrite([]record.Record{rec})
}

// BatchWrite applies every record in batch atomically: either all become
// visible or none do. The batch consumes |batch| consecutive sequence
// numbers.
func (d *DB) BatchWrite(batch []record.Record) error {
	if d.state.Load() != int32(stateOpen) {
		return errNotOpen()
	}
	if d.opts.ReadOnly {
		return errors.Wrap(errs.ErrReadOnly, "db: write on read-only store")
	}
	if len(batch) == 0 {
		return nil
	}
	for i := range batch {
		if err := record.ValidateKey(batch[i].Key); err != nil {
			return err
		}
		if err := record.ValidateValue(batch[i].Value); err != nil {
			return err
		}
	}

	d.writerMu.Lock()
	defer d.writerMu.Unlock()

	if err := d.backpressureLocked(); err != nil {
		return err
	}

	seq := d.seq.Load()
	for i := range batch {
		seq++
		batch[i].Seq = seq
		if err := d.w.Append(batch[i]); err != nil {
			return err
		}
	}
	if d.opts.WALSyncMode == wal.SyncBatch {
		if err := d.w.Sync(); err != nil {
			return err
		}
		d.walSyncCount.Add(1)
	}
	d.seq.Store(seq)

	var written uint64
	for i := range batch {
		d.active.Apply(batch[i])
		written += uint64(batch[i].EncodedSize())
	}
	d.bytesWritten.Add(written)

	if d.active.Size() >= d.opts.MemtableSize {
		if err := d.maybeRotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// backpressureLocked implements the l0_slowdown/l0_stop curve: once L0
// crosses l0_slowdown, writes are delayed proportionally to how far over
// the threshold L0 is; at l0_stop they are rejected outright with
// ErrBusy. writerMu must be held.
func (d *DB) backpressureLocked() error {
	v := d.manifest.Current()
	n := len(v.Files(0))
	v.Unref()

	if n >= d.opts.L0Stop {
		return errors.Wrap(errs.ErrBusy, "db: too many level-0 files")
	}
	if n > d.opts.L0Slowdown {
		delay := time.Duration(n-d.opts.L0Slowdown) * time.Millisecond
		time.Sleep(delay)
	}
	return nil
}

// maybeRotateLocked seals the active memtable and opens a fresh one and
// WAL segment, then triggers an asynchronous flush. writerMu must be
// held; it returns immediately if a flush is already in progress for a
// previous immutable memtable.
func (d *DB) maybeRotateLocked() error {
	d.memMu.Lock()
	if d.imm != nil {
		d.memMu.Unlock()
		return nil // previous immutable hasn't flushed yet; keep writing to active
	}
	sealed := d.active
	sealedLogNum := d.activeLogNum
	d.imm = sealed
	d.immLogNum = sealedLogNum
	d.memMu.Unlock()

	if err := d.w.Close(); err != nil {
		return err
	}
	newLogNum := d.manifest.NextFileNumber()
	w, err := wal.Open(wal.SegmentPath(d.opts.Dir, newLogNum), d.walSyncMode())
	if err != nil {
		return err
	}
	d.w = w
	d.activeLogNum = newLogNum
	d.memMu.Lock()
	d.active = memtable.New()
	d.memMu.Unlock()

	go d.flushImmutable()
	return nil
}

// flushImmutable writes the sealed immutable memtable to a new L0
// SSTable, installs it via a manifest edit that also records the table's
// largest sequence number and the new log number as the durability
// watermark, then drops the now-redundant
// WAL segment. It runs on the flush semaphore slot so it can proceed
// concurrently with at most one level->level compaction.
func (d *DB) flushImmutable() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.worker.AcquireFlush()
	defer d.worker.ReleaseFlush()

	d.memMu.Lock()
	imm := d.imm
	immLogNum := d.immLogNum
	d.memMu.Unlock()
	if imm == nil {
		return
	}

	fileNumber := d.manifest.NextFileNumber()
	meta, err := compaction.Flush(d.opts.Dir, fileNumber, imm, d.opts.BlockSize, d.opts.BloomFilterBits)
	if err != nil {
		d.log.Error("memtable flush failed", zap.Error(err))
		return
	}

	_, err = d.manifest.LogAndApply(manifest.Edit{
		AddedFiles: []sstable.Meta{meta},
		LastSeq:    meta.LargestSeq,
		LogNumber:  d.activeLogNum,
	})
	if err != nil {
		d.log.Error("manifest update after flush failed", zap.Error(err))
		return
	}

	d.memMu.Lock()
	d.imm = nil
	d.immLogNum = 0
	d.memMu.Unlock()

	_ = os.Remove(wal.SegmentPath(d.opts.Dir, immLogNum))
	d.flushCount.Add(1)
	d.log.Info("memtable flushed", zap.Uint64("file_number", fileNumber), zap.Int64("size", meta.Size))
	d.worker.Trigger()
}

// Get returns the newest value for key with seq <= ∞ (the current
// value), reporting ok=false for a miss or a tombstone.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	return d.GetAt(key, ^uint64(0))
}

// GetAt returns the newest value for key with seq <= snapshotSeq.
func (d *DB) GetAt(key []byte, snapshotSeq uint64) ([]byte, bool, error) {
	if d.state.Load() != int32(stateOpen) {
		return nil, false, errNotOpen()
	}
	if err := record.ValidateKey(key); err != nil {
		return nil, false, err
	}

	d.memMu.Lock()
	active, imm := d.active, d.imm
	d.memMu.Unlock()

	if rec, ok := active.Get(key, snapshotSeq); ok {
		return d.resolve(rec)
	}
	if imm != nil {
		if rec, ok := imm.Get(key, snapshotSeq); ok {
			return d.resolve(rec)
		}
	}

	v := d.manifest.Current()
	defer v.Unref()

	l0 := v.Files(0)
	for i := len(l0) - 1; i >= 0; i-- {
		rec, ok, err := d.getFromFile(l0[i], key, snapshotSeq)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return d.resolve(rec)
		}
	}
	for lvl := 1; lvl < v.NumLevels(); lvl++ {
		files := v.Files(lvl)
		idx := sortedFind(files, key)
		if idx < 0 {
			continue
		}
		rec, ok, err := d.getFromFile(files[idx], key, snapshotSeq)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return d.resolve(rec)
		}
	}
	return nil, false, nil
}

func (d *DB) resolve(rec record.Record) ([]byte, bool, error) {
	d.bytesRead.Add(uint64(rec.EncodedSize()))
	if rec.Tombstone() {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (d *DB) getFromFile(m sstable.Meta, key []byte, snapshotSeq uint64) (record.Record, bool, error) {
	r, release, err := d.cache.Get(m)
	if err != nil {
		return record.Record{}, false, err
	}
	defer release()
	return r.Get(key, snapshotSeq)
}

// sortedFind returns the index of the file in files (sorted, disjoint by
// smallest_key) whose range could contain key, or -1.
func sortedFind(files []sstable.Meta, key []byte) int {
	lo, hi := 0, len(files)
	for lo < hi {
		mid := (lo + hi) / 2
		if record.CompareKey(files[mid].SmallestKey, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return -1
	}
	idx := lo - 1
	if record.CompareKey(key, files[idx].LargestKey) <= 0 {
		return idx
	}
	return -1
}

// Snapshot pins the current sequence number and the current version.
func (d *DB) Snapshot() (*Snapshot, error) {
	if d.state.Load() != int32(stateOpen) {
		return nil, errNotOpen()
	}
	v := d.manifest.Current()
	return &Snapshot{seq: d.seq.Load(), version: v}, nil
}

// CompactRange forces a leveled compaction of every level intersecting
// [start, end). Concurrent calls are serialized; a call whose range is
// already covered by one in flight returns immediately without doing
// redundant work.
func (d *DB) CompactRange(start, end []byte) error {
	if d.state.Load() != int32(stateOpen) {
		return errNotOpen()
	}
	if d.opts.ReadOnly {
		return errors.Wrap(errs.ErrReadOnly, "db: compact_range on read-only store")
	}

	d.rangeMu.Lock()
	for d.activeRange != nil {
		if d.activeRange.contains(start, end) {
			d.rangeMu.Unlock()
			return nil
		}
		d.rangeMu.Unlock()
		time.Sleep(time.Millisecond)
		d.rangeMu.Lock()
	}
	d.activeRange = &keyRange{start: start, end: end}
	d.rangeMu.Unlock()

	err := d.compactor.CompactRange(start, end)

	d.rangeMu.Lock()
	d.activeRange = nil
	d.rangeMu.Unlock()

	if err == nil {
		d.compactionCount.Add(1)
	}
	return err
}

// Stats returns a point-in-time snapshot of the engine's exposed counters.
func (d *DB) Stats() Stats {
	return d.statsSnapshot()
}

func errNotOpen() error {
	return errors.Wrap(errs.ErrNotOpen, "db: not open")
}

func acquireLock(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFilename), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrap(errs.ErrAlreadyOpen, "db: LOCK file held")
		}
		return nil, errors.Wrap(err, "db: acquire lock")
	}
	return f, nil
}

func releaseLock(f *os.File) error {
	if f == nil {
		return nil
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "db: close lock")
	}
	return errors.Wrap(os.Remove(path), "db: remove lock")
}
