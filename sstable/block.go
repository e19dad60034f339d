package sstable

import (
	"bytes"
	"encoding/binary"

	"github.com/ChinmayNoob/lsmkv/errs"
	"github.com/ChinmayNoob/lsmkv/record"
)

// restartInterval is how many records separate two restart points (full
// keys) inside a data block; between restarts, keys are delta-encoded
// against the previous key.
const restartInterval = 16

// blockBuilder accumulates records into one data block: a sequence of
// prefix-compressed entries, followed by a restart-point offset table and
// its count.
type blockBuilder struct {
	buf         bytes.Buffer
	restarts    []uint32
	lastKey     []byte
	sinceRstart int
}

func newBlockBuilder() *blockBuilder {
	return &blockBuilder{restarts: []uint32{0}}
}

// add appends rec, which must be the next record in ascending
// (user_key, seq desc) order for this block.
func (b *blockBuilder) add(rec record.Record) {
	var sharedLen int
	if b.sinceRstart < restartInterval && b.lastKey != nil {
		sharedLen = commonPrefixLen(b.lastKey, rec.Key)
	} else {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
		b.sinceRstart = 0
	}
	delta := rec.Key[sharedLen:]

	var hdr [binary.MaxVarintLen64 * 3]byte
	n := binary.PutUvarint(hdr[0:], uint64(sharedLen))
	n += binary.PutUvarint(hdr[n:], uint64(len(delta)))
	n += binary.PutUvarint(hdr[n:], uint64(len(rec.Value)))
	b.buf.Write(hdr[:n])

	var fixed [9]byte
	binary.LittleEndian.PutUint64(fixed[0:8], rec.Seq)
	fixed[8] = byte(rec.Op)
	b.buf.Write(fixed[:])

	b.buf.Write(delta)
	b.buf.Write(rec.Value)

	b.lastKey = append(b.lastKey[:0], rec.Key...)
	b.sinceRstart++
}

func (b *blockBuilder) empty() bool { return b.buf.Len() == 0 }

func (b *blockBuilder) size() int { return b.buf.Len() }

// finish appends the restart-offset table and its count, returning the
// complete block bytes. The builder must not be reused afterward.
func (b *blockBuilder) finish() []byte {
	for _, r := range b.restarts {
		var rb [4]byte
		binary.LittleEndian.PutUint32(rb[:], r)
		b.buf.Write(rb[:])
	}
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(b.restarts)))
	b.buf.Write(cnt[:])
	return b.buf.Bytes()
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// blockEntry is one decoded record plus its reconstructed full key.
type blockEntry struct {
	rec record.Record
}

// restartOffsets decodes a block's restart table and returns the offsets of
// every restart point (record data starts at offset 0 of the block).
func restartOffsets(block []byte) ([]uint32, error) {
	if len(block) < 4 {
		return nil, errs.ErrCorruption
	}
	nRestarts := binary.LittleEndian.Uint32(block[len(block)-4:])
	tableStart := len(block) - 4 - int(nRestarts)*4
	if tableStart < 0 {
		return nil, errs.ErrCorruption
	}
	offs := make([]uint32, nRestarts)
	for i := range offs {
		offs[i] = binary.LittleEndian.Uint32(block[tableStart+i*4 : tableStart+i*4+4])
	}
	return offs, nil
}

// dataEnd returns the offset at which record data ends (where the restart
// table begins).
func dataEnd(block []byte, restarts []uint32) int {
	return len(block) - 4 - len(restarts)*4
}

// blockIter walks the records of one data block in order, reconstructing
// full keys from shared-prefix deltas.
type blockIter struct {
	block    []byte
	restarts []uint32
	end      int
	off      int
	curKey   []byte
	cur      record.Record
	err      error
}

func newBlockIter(block []byte) (*blockIter, error) {
	restarts, err := restartOffsets(block)
	if err != nil {
		return nil, err
	}
	return &blockIter{block: block, restarts: restarts, end: dataEnd(block, restarts)}, nil
}

// seekToRestart positions the iterator to start decoding from the given
// restart index (0-based); a subsequent call to next() yields that
// restart's record.
func (it *blockIter) seekToRestart(idx int) {
	it.off = int(it.restarts[idx])
	it.curKey = nil
}

func (it *blockIter) next() bool {
	if it.err != nil || it.off >= it.end {
		return false
	}
	shared, n1 := binary.Uvarint(it.block[it.off:])
	if n1 <= 0 {
		it.err = errs.ErrCorruption
		return false
	}
	deltaLen, n2 := binary.Uvarint(it.block[it.off+n1:])
	if n2 <= 0 {
		it.err = errs.ErrCorruption
		return false
	}
	valLen, n3 := binary.Uvarint(it.block[it.off+n1+n2:])
	if n3 <= 0 {
		it.err = errs.ErrCorruption
		return false
	}
	pos := it.off + n1 + n2 + n3
	if pos+9 > len(it.block) {
		it.err = errs.ErrCorruption
		return false
	}
	seq := binary.LittleEndian.Uint64(it.block[pos : pos+8])
	op := record.Op(it.block[pos+8])
	pos += 9

	deltaEnd := pos + int(deltaLen)
	valEnd := deltaEnd + int(valLen)
	if valEnd > len(it.block) {
		it.err = errs.ErrCorruption
		return false
	}
	newKey := make([]byte, int(shared)+int(deltaLen))
	copy(newKey, it.curKey[:shared])
	copy(newKey[shared:], it.block[pos:deltaEnd])
	it.curKey = newKey

	value := it.block[deltaEnd:valEnd]
	it.cur = record.Record{Key: newKey, Value: value, Seq: seq, Op: op}
	it.off = valEnd
	return true
}
