package store

import (
	"math/rand"
)

const (
	maxLevel    = 16
	probability = 0.5
)

type skipListNode struct {
	key     string
	value   []byte
	forward []*skipListNode
}

// skipList is an ordered string map with floor/ceiling lookups. It is not
// safe for concurrent use; MemoryStore guards it.
type skipList struct {
	head  *skipListNode
	level int
	size  int
	rng   *rand.Rand
}

func newSkipList() *skipList {
	return &skipList{
		head: &skipListNode{forward: make([]*skipListNode, maxLevel)},
		rng:  rand.New(rand.NewSource(1)),
	}
}

func (sl *skipList) randomLevel() int {
	level := 0
	for sl.rng.Float64() < probability && level < maxLevel-1 {
		level++
	}
	return level
}

// predecessors fills update with the rightmost node below key on each level
func (sl *skipList) predecessors(key string, update []*skipListNode) *skipListNode {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current
}

// put adds or replaces key
func (sl *skipList) put(key string, value []byte) {
	update := make([]*skipListNode, maxLevel)
	prev := sl.predecessors(key, update)

	if next := prev.forward[0]; next != nil && next.key == key {
		next.value = value
		return
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.level {
		for i := sl.level + 1; i <= newLevel; i++ {
			update[i] = sl.head
		}
		sl.level = newLevel
	}

	node := &skipListNode{key: key, value: value, forward: make([]*skipListNode, newLevel+1)}
	for i := 0; i <= newLevel; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	sl.size++
}

func (sl *skipList) get(key string) ([]byte, bool) {
	next := sl.predecessors(key, nil).forward[0]
	if next != nil && next.key == key {
		return next.value, true
	}
	return nil, false
}

func (sl *skipList) delete(key string) bool {
	update := make([]*skipListNode, maxLevel)
	node := sl.predecessors(key, update).forward[0]
	if node == nil || node.key != key {
		return false
	}

	for i := 0; i <= sl.level; i++ {
		if update[i].forward[i] != node {
			break
		}
		update[i].forward[i] = node.forward[i]
	}
	for sl.level > 0 && sl.head.forward[sl.level] == nil {
		sl.level--
	}
	sl.size--
	return true
}

// floor returns the largest key <= key, or the largest key < key when
// exclusive
func (sl *skipList) floor(key string, exclusive bool) (string, bool) {
	prev := sl.predecessors(key, nil)
	if next := prev.forward[0]; !exclusive && next != nil && next.key == key {
		return next.key, true
	}
	if prev == sl.head {
		return "", false
	}
	return prev.key, true
}

// ceiling returns the smallest key >= key, or the smallest key > key when
// exclusive
func (sl *skipList) ceiling(key string, exclusive bool) (string, bool) {
	next := sl.predecessors(key, nil).forward[0]
	if next != nil && exclusive && next.key == key {
		next = next.forward[0]
	}
	if next == nil {
		return "", false
	}
	return next.key, true
}

// ascend visits keys >= from in order until fn returns false
func (sl *skipList) ascend(from string, fn func(key string, value []byte) bool) {
	for node := sl.predecessors(from, nil).forward[0]; node != nil; node = node.forward[0] {
		if !fn(node.key, node.value) {
			return
		}
	}
}
