package rowstore

import (
	"iter"
	"math/rand"
)

const maxSkipListLevel = 32

// memtableRecord is one in-memory key/value pair.
type memtableRecord struct {
	key   uint64
	value []byte
}

type memtableNode struct {
	record  memtableRecord
	forward []*memtableNode
}

func newMemtableNode(key uint64, value []byte, levels int) *memtableNode {
	return &memtableNode{
		record:  memtableRecord{key: key, value: value},
		forward: make([]*memtableNode, levels+1),
	}
}

// memtable is the in-memory ordered store backing a rowstore segment: a
// skip list keyed by uint64 with []byte values. There is no Delete; rows
// are only ever overwritten, never removed.
type memtable struct {
	head      *memtableNode
	levels    int
	size      int
	sizeBytes int
}

func newMemtable() *memtable {
	return &memtable{
		head:   newMemtableNode(0, nil, 0),
		levels: -1,
	}
}

func (m *memtable) Get(key uint64) ([]byte, bool) {
	curr := m.head

	for level := m.levels; level >= 0; level-- {
		for {
			next := curr.forward[level]
			if next == nil || next.record.key > key {
				break
			}
			if next.record.key == key {
				return next.record.value, true
			}
			curr = next
		}
	}

	return nil, false
}

func randomLevel() int {
	level := 0
	for rand.Int31()&1 == 0 && level < maxSkipListLevel {
		level++
	}
	return level
}

func (m *memtable) adjustLevels(level int) {
	prev := m.head.forward
	m.head = newMemtableNode(0, nil, level)
	m.levels = level
	copy(m.head.forward, prev)
}

func (m *memtable) Put(key uint64, value []byte) {
	newLevel := randomLevel()
	if newLevel > m.levels {
		m.adjustLevels(newLevel)
	}

	node := newMemtableNode(key, value, newLevel)
	updates := make([]*memtableNode, m.levels+1)

	x := m.head
	for level := m.levels; level >= 0; level-- {
		for x.forward[level] != nil && x.forward[level].record.key < key {
			x = x.forward[level]
		}
		updates[level] = x
	}

	if x.forward[0] != nil && x.forward[0].record.key == key {
		m.sizeBytes += len(value) - len(x.forward[0].record.value)
		x.forward[0].record.value = value
		return
	}

	for level := 0; level <= newLevel; level++ {
		node.forward[level] = updates[level].forward[level]
		updates[level].forward[level] = node
	}

	m.size++
	m.sizeBytes += 8 + len(value)
}

// Iterator yields every record in ascending key order.
func (m *memtable) Iterator() iter.Seq[memtableRecord] {
	return func(yield func(memtableRecord) bool) {
		curr := m.head.forward[0]
		for curr != nil {
			if !yield(curr.record) {
				return
			}
			curr = curr.forward[0]
		}
	}
}

// Range yields every record with key in [lo, hi) in ascending order.
func (m *memtable) Range(lo, hi uint64) iter.Seq[memtableRecord] {
	return func(yield func(memtableRecord) bool) {
		for rec := range m.Iterator() {
			if rec.key < lo {
				continue
			}
			if rec.key >= hi {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}
