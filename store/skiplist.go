package store

import (
	"bytes"
	"math/rand"
)

const (
	skipMaxLevel = 16
	skipBranch   = 4
)

type skipNode struct {
	key   []byte
	value []byte
	next  []*skipNode
}

// skipList is an ordered in-memory key-value buffer. It is not safe for
// concurrent use; MemoryStore guards it with the store-wide lock.
type skipList struct {
	head  *skipNode
	level int
	size  int
	rnd   *rand.Rand
}

func newSkipList(seed int64) *skipList {
	return &skipList{
		head:  &skipNode{next: make([]*skipNode, skipMaxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

func (s *skipList) randomLevel() int {
	level := 1
	for level < skipMaxLevel && s.rnd.Intn(skipBranch) == 0 {
		level++
	}
	return level
}

// findPredecessors fills prev with the rightmost node before key per level.
func (s *skipList) findPredecessors(key []byte, prev []*skipNode) *skipNode {
	n := s.head
	for i := s.level - 1; i >= 0; i-- {
		for n.next[i] != nil && bytes.Compare(n.next[i].key, key) < 0 {
			n = n.next[i]
		}
		prev[i] = n
	}
	return n.next[0]
}

func (s *skipList) get(key []byte) ([]byte, bool) {
	n := s.head
	for i := s.level - 1; i >= 0; i-- {
		for n.next[i] != nil && bytes.Compare(n.next[i].key, key) < 0 {
			n = n.next[i]
		}
	}
	n = n.next[0]
	if n != nil && bytes.Equal(n.key, key) {
		return n.value, true
	}
	return nil, false
}

func (s *skipList) put(key, value []byte) {
	prev := make([]*skipNode, skipMaxLevel)
	cand := s.findPredecessors(key, prev)
	if cand != nil && bytes.Equal(cand.key, key) {
		cand.value = value
		return
	}

	level := s.randomLevel()
	if level > s.level {
		for i := s.level; i < level; i++ {
			prev[i] = s.head
		}
		s.level = level
	}
	n := &skipNode{
		key:   append([]byte(nil), key...),
		value: value,
		next:  make([]*skipNode, level),
	}
	for i := 0; i < level; i++ {
		n.next[i] = prev[i].next[i]
		prev[i].next[i] = n
	}
	s.size++
}

func (s *skipList) delete(key []byte) bool {
	prev := make([]*skipNode, skipMaxLevel)
	cand := s.findPredecessors(key, prev)
	if cand == nil || !bytes.Equal(cand.key, key) {
		return false
	}
	for i := 0; i < s.level; i++ {
		if prev[i].next[i] == cand {
			prev[i].next[i] = cand.next[i]
		}
	}
	for s.level > 1 && s.head.next[s.level-1] == nil {
		s.level--
	}
	s.size--
	return true
}

// scan collects entries with lower <= key < upper in ascending order. Nil
// bounds are unbounded.
func (s *skipList) scan(lower, upper []byte) []Entry {
	n := s.head
	if lower != nil {
		for i := s.level - 1; i >= 0; i-- {
			for n.next[i] != nil && bytes.Compare(n.next[i].key, lower) < 0 {
				n = n.next[i]
			}
		}
	}
	var out []Entry
	for n = n.next[0]; n != nil; n = n.next[0] {
		if upper != nil && bytes.Compare(n.key, upper) >= 0 {
			break
		}
		out = append(out, Entry{Key: n.key, Value: n.value})
	}
	return out
}
