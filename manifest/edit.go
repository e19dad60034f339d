// Package manifest tracks the set of live SSTable files across levels as
// a sequence of versions, persisted as a log of edits the way the write
// path persists records: length-prefixed, CRC32-checked frames.
package manifest

import (
	"encoding/binary"

	"github.com/ChinmayNoob/lsmkv/errs"
	"github.com/ChinmayNoob/lsmkv/sstable"
)

// FileKey identifies one file within a level for deletion purposes.
type FileKey struct {
	Level      int
	FileNumber uint64
}

// Edit describes a transition from one Version to the next: files added
// at specific levels, files removed, and any updated counters. A zero
// counter field means "unchanged" — counters only move forward.
type Edit struct {
	AddedFiles     []sstable.Meta
	DeletedFiles   []FileKey
	NextFileNumber uint64
	LastSeq        uint64
	LogNumber      uint64
}

// encode serializes e into a self-contained payload (no outer framing;
// the manifest log adds the length+CRC frame).
func (e *Edit) encode() []byte {
	var buf []byte
	buf = appendUvarint(buf, e.NextFileNumber)
	buf = appendUvarint(buf, e.LastSeq)
	buf = appendUvarint(buf, e.LogNumber)

	buf = appendUvarint(buf, uint64(len(e.DeletedFiles)))
	for _, d := range e.DeletedFiles {
		buf = appendUvarint(buf, uint64(d.Level))
		buf = appendUvarint(buf, d.FileNumber)
	}

	buf = appendUvarint(buf, uint64(len(e.AddedFiles)))
	for _, m := range e.AddedFiles {
		buf = appendUvarint(buf, uint64(m.Level))
		buf = appendUvarint(buf, m.FileNumber)
		buf = appendUvarint(buf, uint64(m.SmallestSeq))
		buf = appendUvarint(buf, uint64(m.LargestSeq))
		buf = appendUvarint(buf, uint64(m.Size))
		buf = appendUvarint(buf, uint64(len(m.SmallestKey)))
		buf = append(buf, m.SmallestKey...)
		buf = appendUvarint(buf, uint64(len(m.LargestKey)))
		buf = append(buf, m.LargestKey...)
	}
	return buf
}

func decodeEdit(b []byte) (Edit, error) {
	var e Edit
	var ok bool

	e.NextFileNumber, b, ok = readUvarint(b)
	if !ok {
		return Edit{}, errs.ErrCorruption
	}
	e.LastSeq, b, ok = readUvarint(b)
	if !ok {
		return Edit{}, errs.ErrCorruption
	}
	e.LogNumber, b, ok = readUvarint(b)
	if !ok {
		return Edit{}, errs.ErrCorruption
	}

	var nDeleted uint64
	nDeleted, b, ok = readUvarint(b)
	if !ok {
		return Edit{}, errs.ErrCorruption
	}
	for i := uint64(0); i < nDeleted; i++ {
		var level, fileNum uint64
		level, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		fileNum, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		e.DeletedFiles = append(e.DeletedFiles, FileKey{Level: int(level), FileNumber: fileNum})
	}

	var nAdded uint64
	nAdded, b, ok = readUvarint(b)
	if !ok {
		return Edit{}, errs.ErrCorruption
	}
	for i := uint64(0); i < nAdded; i++ {
		var m sstable.Meta
		var level, smallestSeq, largestSeq, size, klen uint64
		level, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		m.Level = int(level)
		m.FileNumber, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		smallestSeq, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		m.SmallestSeq = smallestSeq
		largestSeq, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		m.LargestSeq = largestSeq
		size, b, ok = readUvarint(b)
		if !ok {
			return Edit{}, errs.ErrCorruption
		}
		m.Size = int64(size)

		klen, b, ok = readUvarint(b)
		if !ok || uint64(len(b)) < klen {
			return Edit{}, errs.ErrCorruption
		}
		m.SmallestKey = append([]byte(nil), b[:klen]...)
		b = b[klen:]

		klen, b, ok = readUvarint(b)
		if !ok || uint64(len(b)) < klen {
			return Edit{}, errs.ErrCorruption
		}
		m.LargestKey = append([]byte(nil), b[:klen]...)
		b = b[klen:]

		e.AddedFiles = append(e.AddedFiles, m)
	}
	return e, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(b []byte) (uint64, []byte, bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, b, false
	}
	return v, b[n:], true
}
