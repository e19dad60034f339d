package manifest

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ChinmayNoob/lsmkv/errs"
)

// snapshotEditThreshold is how many edits accumulate in the active
// manifest log before LogAndApply calls snapshotLocked to rewrite it into a single
// consolidated edit, bounding replay time on the next open.
const snapshotEditThreshold = 50

// Manifest owns the durable record of which SSTable files are live at
// which level, and hands out Version snapshots for readers to pin.
type Manifest struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger

	numLevels int
	current   *Version

	nextFileNumber uint64
	lastSeq        uint64
	logNumber      uint64

	manifestFileNumber uint64
	w                  *editLogWriter
	editsSinceSnapshot int
}

// Open loads an existing manifest from dir, or bootstraps a fresh one
// if dir has no CURRENT file yet.
func Open(dir string, numLevels int, logger *zap.Logger) (*Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manifest{dir: dir, log: logger, numLevels: numLevels, nextFileNumber: 1}

	curBytes, err := os.ReadFile(currentPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return m.bootstrap()
		}
		return nil, errors.Wrap(err, "manifest: read CURRENT")
	}
	name := string(curBytes)
	fileNum, ok := parseManifestNumber(trimNewline(name))
	if !ok {
		return nil, errs.ErrCorruption
	}

	edits, err := readEditLog(manifestPath(dir, fileNum))
	if err != nil {
		return nil, err
	}
	v := newVersion(numLevels)
	for _, e := range edits {
		v = v.apply(e)
		if e.NextFileNumber > m.nextFileNumber {
			m.nextFileNumber = e.NextFileNumber
		}
		if e.LastSeq > m.lastSeq {
			m.lastSeq = e.LastSeq
		}
		if e.LogNumber > m.logNumber {
			m.logNumber = e.LogNumber
		}
	}
	v.Ref()
	m.current = v
	m.manifestFileNumber = fileNum

	w, err := openEditLogForAppend(manifestPath(dir, fileNum))
	if err != nil {
		return nil, err
	}
	m.w = w
	m.editsSinceSnapshot = len(edits)
	m.log.Info("manifest opened", zap.String("dir", dir), zap.Uint64("manifest_file", fileNum),
		zap.Uint64("next_file_number", m.nextFileNumber), zap.Uint64("last_seq", m.lastSeq))
	return m, nil
}

func (m *Manifest) bootstrap() (*Manifest, error) {
	v := newVersion(m.numLevels)
	v.Ref()
	m.current = v
	m.manifestFileNumber = 1
	m.nextFileNumber = 2

	w, err := createEditLog(manifestPath(m.dir, m.manifestFileNumber))
	if err != nil {
		return nil, err
	}
	m.w = w
	if err := w.append((&Edit{NextFileNumber: m.nextFileNumber}).encode()); err != nil {
		return nil, err
	}
	if err := setCurrent(m.dir, m.manifestFileNumber); err != nil {
		return nil, err
	}
	m.editsSinceSnapshot = 1
	m.log.Info("manifest bootstrapped", zap.String("dir", m.dir))
	return m, nil
}

// Current returns the live Version with an added reference; the caller
// must call Unref when done (typically deferred for the life of a read
// or iterator).
func (m *Manifest) Current() *Version {
	m.mu.Lock()
	v := m.current
	v.Ref()
	m.mu.Unlock()
	return v
}

// NextFileNumber allocates and returns the next file number.
func (m *Manifest) NextFileNumber() uint64 {
	m.mu.Lock()
	n := m.nextFileNumber
	m.nextFileNumber++
	m.mu.Unlock()
	return n
}

// LastSeq returns the highest sequence number durably recorded.
func (m *Manifest) LastSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

// LogNumber returns the log number of the active WAL segment as of the
// last applied edit.
func (m *Manifest) LogNumber() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logNumber
}

// LogAndApply durably appends e to the manifest log, then installs the
// Version it produces as current. The superseded Version is unref'd;
// its files are only actually removed from disk once every reader
// holding it has released its reference (handled by the caller via the
// sstable cache).
func (m *Manifest) LogAndApply(e Edit) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.NextFileNumber == 0 {
		e.NextFileNumber = m.nextFileNumber
	} else if e.NextFileNumber > m.nextFileNumber {
		m.nextFileNumber = e.NextFileNumber
	}
	if e.LastSeq == 0 {
		e.LastSeq = m.lastSeq
	} else if e.LastSeq > m.lastSeq {
		m.lastSeq = e.LastSeq
	}
	if e.LogNumber == 0 {
		e.LogNumber = m.logNumber
	} else if e.LogNumber > m.logNumber {
		m.logNumber = e.LogNumber
	}

	if err := m.w.append(e.encode()); err != nil {
		return nil, err
	}
	m.editsSinceSnapshot++

	prev := m.current
	next := prev.apply(e)
	next.Ref()
	m.current = next
	prev.Unref()

	if m.editsSinceSnapshot >= snapshotEditThreshold {
		if err := m.snapshotLocked(); err != nil {
			m.log.Warn("manifest snapshot failed", zap.Error(err))
		}
	}
	return next, nil
}

// snapshotLocked rewrites the manifest into a single edit describing
// the current Version in full, starts a fresh log file for it, and
// atomically repoints CURRENT. m.mu must be held.
func (m *Manifest) snapshotLocked() error {
	newFileNumber := m.nextFileNumber
	m.nextFileNumber++

	w, err := createEditLog(manifestPath(m.dir, newFileNumber))
	if err != nil {
		return err
	}
	snapshot := Edit{NextFileNumber: m.nextFileNumber, LastSeq: m.lastSeq, LogNumber: m.logNumber}
	for lvl := 0; lvl < m.current.NumLevels(); lvl++ {
		for _, f := range m.current.Files(lvl) {
			f.Level = lvl
			snapshot.AddedFiles = append(snapshot.AddedFiles, f)
		}
	}
	if err := w.append(snapshot.encode()); err != nil {
		_ = w.close()
		return err
	}

	oldNumber := m.manifestFileNumber
	if err := m.w.close(); err != nil {
		m.log.Warn("manifest: close old log", zap.Error(err))
	}
	if err := setCurrent(m.dir, newFileNumber); err != nil {
		return err
	}

	m.w = w
	m.manifestFileNumber = newFileNumber
	m.editsSinceSnapshot = 0
	_ = os.Remove(manifestPath(m.dir, oldNumber))
	m.log.Info("manifest snapshot written", zap.Uint64("manifest_file", newFileNumber))
	return nil
}

// Close closes the active manifest log.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.close()
}

// setCurrent atomically repoints CURRENT at manifestFilename(fileNumber)
// by writing to a temp file and renaming over it.
func setCurrent(dir string, fileNumber uint64) error {
	tmp := currentPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, []byte(manifestFilename(fileNumber)+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "manifest: write CURRENT tmp")
	}
	if err := os.Rename(tmp, currentPath(dir)); err != nil {
		return errors.Wrap(err, "manifest: rename CURRENT")
	}
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
