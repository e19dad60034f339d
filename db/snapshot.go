package db

import "github.com/ChinmayNoob/lsmkv/manifest"

// Snapshot pins a sequence number plus the version live at the moment it
// was taken, so reads against it stay consistent even as the
// foreground writer keeps mutating the active memtable and the background
// compactor installs new versions. It does not survive Close/reopen.
type Snapshot struct {
	seq     uint64
	version *manifest.Version
}

// Seq returns the pinned sequence number; reads against this snapshot
// resolve to the newest record with seq <= Seq().
func (s *Snapshot) Seq() uint64 { return s.seq }

// Release drops the snapshot's reference on the pinned version. A
// snapshot that is never released leaks nothing fatal — its version just
// stays alive, holding its files on disk, until the process exits — but
// every long-lived snapshot should be released once it is no longer
// needed.
func (s *Snapshot) Release() {
	if s.version != nil {
		s.version.Unref()
		s.version = nil
	}
}
