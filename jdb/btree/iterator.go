package btree

import (
	rbt "github.com/emirpasic/gods/trees/redblacktree"
)

// Iterator is an independent range scan over a tree. It does not disturb
// the tree's cursor. The tree must not be mutated while iterating.
type Iterator struct {
	tree    *rbt.Tree
	node    *rbt.Node
	started bool
	reverse bool

	start, limit []byte
}

// NewIterator scans the half-open range [start, limit) in key order, or in
// reverse key order. Nil bounds mean unbounded.
func (t *Tree) NewIterator(start, limit []byte, reverse bool) *Iterator {
	return &Iterator{
		tree:    t.tree,
		reverse: reverse,
		start:   start,
		limit:   limit,
	}
}

func (it *Iterator) first() (*rbt.Node, bool) {
	if !it.reverse {
		if it.start == nil {
			node := it.tree.Left()
			return node, node != nil
		}
		return it.tree.Ceiling(string(it.start))
	}
	if it.limit == nil {
		node := it.tree.Right()
		return node, node != nil
	}
	// limit is exclusive, so reverse iteration starts strictly below it
	node, _ := it.tree.Floor(string(it.limit))
	if node != nil && node.Key.(string) == string(it.limit) {
		node, _ = prevNode(it.tree, node)
	}
	return node, node != nil
}

func (it *Iterator) inRange(key string) bool {
	if it.start != nil && key < string(it.start) {
		return false
	}
	if it.limit != nil && key >= string(it.limit) {
		return false
	}
	return true
}

// Next moves the iterator to the next pair in its direction.
func (it *Iterator) Next() bool {
	var ok bool
	if !it.started {
		it.started = true
		it.node, ok = it.first()
	} else if it.node != nil {
		if it.reverse {
			it.node, ok = prevNode(it.tree, it.node)
		} else {
			it.node, ok = nextNode(it.tree, it.node)
		}
	}
	if !ok || it.node == nil {
		it.node = nil
		return false
	}
	if !it.inRange(it.node.Key.(string)) {
		it.node = nil
		return false
	}
	return true
}

// Key returns the key of the current pair, or nil if done.
func (it *Iterator) Key() []byte {
	if it.node == nil {
		return nil
	}
	return []byte(it.node.Key.(string))
}

// Record returns the record of the current pair, or nil if done.
func (it *Iterator) Record() interface{} {
	if it.node == nil {
		return nil
	}
	return it.node.Value
}

// Error exists for interface symmetry; a memory iterator cannot fail.
func (it *Iterator) Error() error { return nil }

// Release detaches the iterator from the tree.
func (it *Iterator) Release() {
	it.node = nil
	it.tree = nil
}
