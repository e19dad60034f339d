package db

import (
	"github.com/ChinmayNoob/lsmkv/iterator"
	"github.com/ChinmayNoob/lsmkv/manifest"
	"github.com/ChinmayNoob/lsmkv/record"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

// RangeIterator walks [start, end) in ascending key order over a pinned
// snapshot, yielding the newest non-tombstone version of each key. It
// holds a reference on the version it was built from until Close.
type RangeIterator struct {
	dd       *iterator.Dedup
	version  *manifest.Version
	releases []func()
}

// Next advances the iterator.
func (it *RangeIterator) Next() bool { return it.dd.Next() }

// Key returns the current record's key.
func (it *RangeIterator) Key() []byte { return it.dd.Record().Key }

// Value returns the current record's value.
func (it *RangeIterator) Value() []byte { return it.dd.Record().Value }

// Err returns the first error encountered, if any.
func (it *RangeIterator) Err() error { return it.dd.Err() }

// Close releases every SSTable reader reference and the pinned version.
func (it *RangeIterator) Close() error {
	err := it.dd.Close()
	for _, r := range it.releases {
		r()
	}
	it.version.Unref()
	return err
}

// Range returns an iterator over [start, end) as of snapshotSeq, capped
// at the sequence number current when Range is called, so writes made
// after it returns are not visible. A nil start/end is unbounded on that
// side. The returned iterator must be closed.
func (d *DB) Range(start, end []byte, snapshotSeq uint64) (*RangeIterator, error) {
	if d.state.Load() != int32(stateOpen) {
		return nil, errNotOpen()
	}
	if cur := d.seq.Load(); snapshotSeq > cur {
		snapshotSeq = cur
	}

	d.memMu.Lock()
	active := d.active
	imm := d.imm
	d.memMu.Unlock()
	v := d.manifest.Current()

	sources := make([]iterator.Source, 0, 4)
	sources = append(sources, active.Iterator(start, end))
	if imm != nil {
		sources = append(sources, imm.Iterator(start, end))
	}

	var releases []func()
	addLevel := func(files []sstable.Meta) error {
		for i := len(files) - 1; i >= 0; i-- {
			m := files[i]
			r, release, err := d.cache.Get(m)
			if err != nil {
				return err
			}
			releases = append(releases, release)
			it, err := r.Iterator(start, end)
			if err != nil {
				return err
			}
			sources = append(sources, it)
		}
		return nil
	}
	if err := addLevel(v.Overlapping(0, start, end)); err != nil {
		releaseAll(releases)
		v.Unref()
		return nil, err
	}
	for lvl := 1; lvl < v.NumLevels(); lvl++ {
		if err := addLevel(v.Overlapping(lvl, start, end)); err != nil {
			releaseAll(releases)
			v.Unref()
			return nil, err
		}
	}

	mi := iterator.New(sources)
	bounded := newSeqFilter(mi, snapshotSeq)
	dd := iterator.NewDedup(bounded, true)
	return &RangeIterator{dd: dd, version: v, releases: releases}, nil
}

func releaseAll(releases []func()) {
	for _, r := range releases {
		r()
	}
}

// seqFilter wraps a Source and skips every record whose seq exceeds a
// snapshot bound, so a range scan taken against an older snapshot never
// observes writes made after it.
type seqFilter struct {
	src iterator.Source
	max uint64
	cur record.Record
}

func newSeqFilter(src iterator.Source, max uint64) *seqFilter {
	return &seqFilter{src: src, max: max}
}

func (f *seqFilter) Next() bool {
	for f.src.Next() {
		rec := f.src.Record()
		if rec.Seq > f.max {
			continue
		}
		f.cur = rec
		return true
	}
	return false
}

func (f *seqFilter) Record() record.Record { return f.cur }
func (f *seqFilter) Err() error            { return f.src.Err() }
func (f *seqFilter) Close() error          { return f.src.Close() }
