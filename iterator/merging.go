package iterator

import (
	"container/heap"

	"github.com/ChinmayNoob/lsmkv/record"
)

type mergeItem struct {
	src      Source
	priority int // lower wins ties on equal (key, seq): earlier sources are newer
	cur      record.Record
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].cur, h[j].cur
	if c := record.CompareKey(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return h[i].priority < h[j].priority
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MergingIterator performs a k-way merge over N ordered sources,
// yielding every version of every key in ascending (user_key, seq
// desc) order: for each user key its newest version comes first.
// Sources are given in priority order (memtable before L0 before
// deeper levels) so ties on an identical (key, seq) pair — which only
// happens when the same source list is queried twice — resolve
// deterministically. Iteration is stable against concurrent
// flush/compaction because the caller builds the source list from a
// single pinned Version plus the memtables live at iterator creation.
type MergingIterator struct {
	h   mergeHeap
	all []Source
	cur record.Record
	err error
}

// New builds a MergingIterator over sources.
func New(sources []Source) *MergingIterator {
	m := &MergingIterator{all: sources}
	for i, s := range sources {
		if s.Next() {
			heap.Push(&m.h, &mergeItem{src: s, priority: i, cur: s.Record()})
		} else if err := s.Err(); err != nil {
			m.err = err
		}
	}
	return m
}

// Next advances to the next (key, seq) pair.
func (m *MergingIterator) Next() bool {
	if m.err != nil || m.h.Len() == 0 {
		return false
	}
	top := m.h[0]
	m.cur = top.cur
	if top.src.Next() {
		top.cur = top.src.Record()
		heap.Fix(&m.h, 0)
	} else {
		if err := top.src.Err(); err != nil {
			m.err = err
			return false
		}
		heap.Pop(&m.h)
	}
	return true
}

// Record returns the record most recently yielded by Next.
func (m *MergingIterator) Record() record.Record { return m.cur }

// Err returns the first error encountered across any source.
func (m *MergingIterator) Err() error { return m.err }

// Close closes every underlying source, regardless of whether it was
// already exhausted.
func (m *MergingIterator) Close() error {
	var first error
	for _, s := range m.all {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
