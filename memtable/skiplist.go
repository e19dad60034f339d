package memtable

import (
	"math/rand"

	"github.com/ChinmayNoob/lsmkv/record"
)

const (
	maxHeight   = 16
	branching   = 4 // p = 1/branching at each level
)

type node struct {
	rec  record.Record
	next []*node
}

// skiplist is an ordered structure keyed by (user_key asc, seq desc), so a
// forward scan yields, for each user key, its newest record first. It is
// safe for one writer concurrent with many readers; callers serialize
// writers themselves (the DB facade's writer mutex does this).
type skiplist struct {
	head   *node
	height int
	rnd    *rand.Rand
	count  int
}

func newSkiplist() *skiplist {
	return &skiplist{
		head:   &node{next: make([]*node, maxHeight)},
		height: 1,
		rnd:    rand.New(rand.NewSource(0xC0FFEE)),
	}
}

func (s *skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// findPredecessors returns, for each level, the rightmost node whose
// record sorts strictly before rec (per record.Less), i.e. the node
// after which rec would be spliced in. prev[level] may be s.head.
func (s *skiplist) findPredecessors(rec record.Record) [maxHeight]*node {
	var prev [maxHeight]*node
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.next[level] != nil && record.Less(x.next[level].rec, rec) {
			x = x.next[level]
		}
		prev[level] = x
	}
	return prev
}

// insert splices rec into the list. Records with equal (key, seq) are not
// deduplicated: the caller (memtable.Apply) decides whether that can occur.
func (s *skiplist) insert(rec record.Record) {
	prev := s.findPredecessors(rec)
	height := s.randomHeight()
	if height > s.height {
		for level := s.height; level < height; level++ {
			prev[level] = s.head
		}
		s.height = height
	}
	n := &node{rec: rec, next: make([]*node, height)}
	for level := 0; level < height; level++ {
		n.next[level] = prev[level].next[level]
		prev[level].next[level] = n
	}
	s.count++
}

// seekKey returns the first node whose key equals key, scanning in
// (key asc, seq desc) order, so it lands on the newest version first.
func (s *skiplist) seekKey(key []byte) *node {
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.next[level] != nil && record.CompareKey(x.next[level].rec.Key, key) < 0 {
			x = x.next[level]
		}
	}
	n := x.next[0]
	if n != nil && record.CompareKey(n.rec.Key, key) == 0 {
		return n
	}
	return nil
}

// seekGE returns the first node whose key is >= key (nil if none).
func (s *skiplist) seekGE(key []byte) *node {
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.next[level] != nil && record.CompareKey(x.next[level].rec.Key, key) < 0 {
			x = x.next[level]
		}
	}
	return x.next[0]
}
