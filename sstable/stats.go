package sstable

import "sync/atomic"

// Stats accumulates bloom-filter effectiveness counters across every
// Reader opened through one Cache, the raw material for the engine's
// exposed "bloom filter true/false-positive counters" stat.
type Stats struct {
	BloomChecks         uint64
	BloomNegatives      uint64 // filter said "definitely absent"
	BloomFalsePositives uint64 // filter said "maybe present" but the key was absent
}

func (s *Stats) recordCheck() {
	if s != nil {
		atomic.AddUint64(&s.BloomChecks, 1)
	}
}

func (s *Stats) recordNegative() {
	if s != nil {
		atomic.AddUint64(&s.BloomNegatives, 1)
	}
}

func (s *Stats) recordFalsePositive() {
	if s != nil {
		atomic.AddUint64(&s.BloomFalsePositives, 1)
	}
}

// Snapshot returns a point-in-time copy safe to read without racing
// concurrent updates.
func (s *Stats) Snapshot() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		BloomChecks:         atomic.LoadUint64(&s.BloomChecks),
		BloomNegatives:      atomic.LoadUint64(&s.BloomNegatives),
		BloomFalsePositives: atomic.LoadUint64(&s.BloomFalsePositives),
	}
}
