package sstable

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/ChinmayNoob/lsmkv/bloom"
	"github.com/ChinmayNoob/lsmkv/record"
)

// Meta describes one immutable SSTable file, as tracked by the manifest.
type Meta struct {
	FileNumber  uint64
	Level       int
	SmallestKey []byte
	LargestKey  []byte
	SmallestSeq uint64
	LargestSeq  uint64
	Size        int64
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	BlockSize       int
	BloomBitsPerKey uint32
	// EstimatedKeys sizes the bloom filter; 0 lets the writer count as it
	// goes and size the filter from the final key count.
	EstimatedKeys int
}

type indexEntry struct {
	key    []byte
	offset uint64
	length uint32
}

// Writer builds one SSTable file. Records must be Add'd in ascending
// (user_key, seq desc) order. The file is written to a ".tmp" path and
// renamed into place atomically on Finish.
type Writer struct {
	finalPath string
	tmpPath   string
	f         *os.File
	bw        *bufio.Writer
	offset    int64

	opts WriterOptions

	curBlock        *blockBuilder
	pendingBlockKey []byte
	index           []indexEntry
	keys            [][]byte // distinct user keys seen, for the bloom filter

	smallestKey []byte
	largestKey  []byte
	smallestSeq uint64
	largestSeq  uint64
	haveSeq     bool
	nRecords    int
}

// NewWriter creates a new SSTable writer targeting path.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BloomBitsPerKey == 0 {
		opts.BloomBitsPerKey = 10
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: create tmp file")
	}
	return &Writer{
		finalPath: path,
		tmpPath:   tmpPath,
		f:         f,
		bw:        bufio.NewWriterSize(f, 64*1024),
		opts:      opts,
		curBlock:  newBlockBuilder(),
	}, nil
}

// ApproxSize returns the approximate number of bytes written so far,
// including the still-buffered current block. Compaction uses this to
// decide when to roll to a new output file.
func (w *Writer) ApproxSize() int64 {
	return w.offset + int64(w.curBlock.size())
}

// Add appends rec to the table.
func (w *Writer) Add(rec record.Record) error {
	if w.smallestKey == nil {
		w.smallestKey = append([]byte(nil), rec.Key...)
	}
	w.largestKey = append(w.largestKey[:0], rec.Key...)
	if !w.haveSeq || rec.Seq < w.smallestSeq {
		w.smallestSeq = rec.Seq
	}
	if rec.Seq > w.largestSeq {
		w.largestSeq = rec.Seq
	}
	w.haveSeq = true
	w.nRecords++

	if len(w.keys) == 0 || !keyEqual(w.keys[len(w.keys)-1], rec.Key) {
		w.keys = append(w.keys, append([]byte(nil), rec.Key...))
	}

	if w.curBlock.empty() {
		w.pendingBlockKey = append([]byte(nil), rec.Key...)
	}
	w.curBlock.add(rec)

	if w.curBlock.size() >= w.opts.BlockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	return nil
}

func keyEqual(a, b []byte) bool {
	return record.CompareKey(a, b) == 0
}

func (w *Writer) flushBlock() error {
	if w.curBlock.empty() {
		return nil
	}
	data := w.curBlock.finish()
	if _, err := w.bw.Write(data); err != nil {
		return errors.Wrap(err, "sstable: write data block")
	}
	w.index = append(w.index, indexEntry{
		key:    w.pendingBlockKey,
		offset: uint64(w.offset),
		length: uint32(len(data)),
	})
	w.offset += int64(len(data))
	w.curBlock = newBlockBuilder()
	w.pendingBlockKey = nil
	return nil
}

// Finish flushes any pending block, writes the bloom filter, index, and
// footer, fsyncs, and renames the file into place. It returns the table's
// metadata.
func (w *Writer) Finish(fileNumber uint64, level int) (Meta, error) {
	if err := w.flushBlock(); err != nil {
		return Meta{}, err
	}

	nKeys := w.opts.EstimatedKeys
	if nKeys == 0 {
		nKeys = len(w.keys)
	}
	bf := bloom.NewForKeys(nKeys, w.opts.BloomBitsPerKey)
	for _, k := range w.keys {
		bf.Add(k)
	}
	filterBytes := bf.Encode()
	filterOffset := w.offset
	if _, err := w.bw.Write(filterBytes); err != nil {
		return Meta{}, errors.Wrap(err, "sstable: write filter block")
	}
	w.offset += int64(len(filterBytes))

	indexOffset := w.offset
	for _, e := range w.index {
		if err := writeIndexEntry(w.bw, e); err != nil {
			return Meta{}, err
		}
		w.offset += int64(indexEntrySize(e))
	}
	indexLen := w.offset - indexOffset

	ft := footer{
		indexOffset:  uint64(indexOffset),
		indexLen:     uint32(indexLen),
		filterOffset: uint64(filterOffset),
		filterLen:    uint32(len(filterBytes)),
	}
	if _, err := w.bw.Write(ft.encode()); err != nil {
		return Meta{}, errors.Wrap(err, "sstable: write footer")
	}
	w.offset += footerLen

	if err := w.bw.Flush(); err != nil {
		return Meta{}, errors.Wrap(err, "sstable: flush")
	}
	if err := w.f.Sync(); err != nil {
		return Meta{}, errors.Wrap(err, "sstable: fsync")
	}
	if err := w.f.Close(); err != nil {
		return Meta{}, errors.Wrap(err, "sstable: close tmp file")
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return Meta{}, errors.Wrap(err, "sstable: rename into place")
	}

	return Meta{
		FileNumber:  fileNumber,
		Level:       level,
		SmallestKey: w.smallestKey,
		LargestKey:  w.largestKey,
		SmallestSeq: w.smallestSeq,
		LargestSeq:  w.largestSeq,
		Size:        w.offset,
	}, nil
}

// Abandon closes and removes the in-progress tmp file without producing a
// table; used when a writer is discarded mid-build (e.g. when a flush
// fails).
func (w *Writer) Abandon() error {
	_ = w.f.Close()
	return os.Remove(w.tmpPath)
}

func indexEntrySize(e indexEntry) int {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(e.key)))
	return n + len(e.key) + 8 + 4
}

func writeIndexEntry(w *bufio.Writer, e indexEntry) error {
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(e.key)))
	if _, err := w.Write(lb[:n]); err != nil {
		return err
	}
	if _, err := w.Write(e.key); err != nil {
		return err
	}
	var rest [12]byte
	binary.LittleEndian.PutUint64(rest[0:8], e.offset)
	binary.LittleEndian.PutUint32(rest[8:12], e.length)
	if _, err := w.Write(rest[:]); err != nil {
		return err
	}
	return nil
}

// FormatFilename returns the canonical "<n>.sst" file name for fileNumber.
func FormatFilename(fileNumber uint64) string {
	return formatSST(fileNumber)
}
