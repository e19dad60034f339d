package manifest

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

// editLogWriter appends length-prefixed, CRC32-checked edit frames to a
// manifest file, the same wire shape the write-ahead log uses for
// record frames.
type editLogWriter struct {
	f *os.File
	w *bufio.Writer
}

func createEditLog(path string) (*editLogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: create log")
	}
	return &editLogWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func openEditLogForAppend(path string) (*editLogWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: open log for append")
	}
	return &editLogWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *editLogWriter) append(payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	crc := crc32.ChecksumIEEE(payload)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)

	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "manifest: write length")
	}
	if _, err := w.w.Write(crcBuf[:]); err != nil {
		return errors.Wrap(err, "manifest: write crc")
	}
	if _, err := w.w.Write(payload); err != nil {
		return errors.Wrap(err, "manifest: write payload")
	}
	if err := w.w.Flush(); err != nil {
		return errors.Wrap(err, "manifest: flush")
	}
	return w.f.Sync()
}

func (w *editLogWriter) close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return errors.Wrap(err, "manifest: flush on close")
	}
	return errors.Wrap(w.f.Close(), "manifest: close log")
}

// readEditLog reads every well-formed edit frame from path in order. A
// truncated or CRC-bad trailing frame stops replay silently, matching
// the write-ahead log's recovery policy: edits delivered before the bad
// frame are kept.
func readEditLog(path string) ([]Edit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: open log")
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	var edits []Edit
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return edits, nil
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
		if payloadLen == 0 || payloadLen > 256*1024*1024 {
			return edits, nil
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return edits, nil
		}
		wantCRC := binary.LittleEndian.Uint32(crcBuf[:])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return edits, nil
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return edits, nil
		}
		e, err := decodeEdit(payload)
		if err != nil {
			return edits, nil
		}
		edits = append(edits, e)
	}
}
