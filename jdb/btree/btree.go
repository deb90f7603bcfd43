// Package btree provides the in-memory sorted map with cursor semantics
// backing the volatile store, the transaction buffers and the in-memory
// indices. Keys are byte strings under lexicographic order.
package btree

import (
	rbt "github.com/emirpasic/gods/trees/redblacktree"

	"github.com/nimiq-network/jungle-db/jdb/ikey"
)

// Near selects the seek behavior when the exact key is absent.
type Near int

const (
	// NearNone requires an exact match.
	NearNone Near = iota
	// NearLE positions at the greatest key <= the sought key.
	NearLE
	// NearGE positions at the smallest key >= the sought key.
	NearGE
)

// Tree is a sorted map with a single built-in cursor. Independent scans use
// NewIterator instead of the cursor.
type Tree struct {
	tree *rbt.Tree
	cur  *rbt.Node
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{tree: rbt.NewWithStringComparator()}
}

// Len returns the number of keys.
func (t *Tree) Len() int {
	return t.tree.Size()
}

// Get returns the record stored under key.
func (t *Tree) Get(key []byte) (interface{}, bool) {
	return t.tree.Get(string(key))
}

// Insert adds a record under key. It returns false and leaves the tree
// unchanged if the key is already present.
func (t *Tree) Insert(key []byte, rec interface{}) bool {
	if _, ok := t.tree.Get(string(key)); ok {
		return false
	}
	t.tree.Put(string(key), rec)
	return true
}

// Put adds or overwrites the record under key.
func (t *Tree) Put(key []byte, rec interface{}) {
	t.tree.Put(string(key), rec)
}

// Remove deletes key. On success the cursor advances to the smallest
// remaining key >= the removed one.
func (t *Tree) Remove(key []byte) bool {
	k := string(key)
	if _, ok := t.tree.Get(k); !ok {
		return false
	}
	t.tree.Remove(k)
	// Removal may relocate node contents, so the cursor is re-resolved by key.
	t.cur, _ = t.tree.Ceiling(k)
	return true
}

// Clear drops all keys and invalidates the cursor.
func (t *Tree) Clear() {
	t.tree.Clear()
	t.cur = nil
}

// Seek positions the cursor at key, or near it as selected by near.
func (t *Tree) Seek(key []byte, near Near) bool {
	k := string(key)
	switch near {
	case NearLE:
		t.cur, _ = t.tree.Floor(k)
	case NearGE:
		t.cur, _ = t.tree.Ceiling(k)
	default:
		node, found := t.tree.Ceiling(k)
		if !found || node.Key.(string) != k {
			t.cur = nil
			return false
		}
		t.cur = node
	}
	return t.cur != nil
}

// Skip moves the cursor n keys forward, or backward for negative n.
func (t *Tree) Skip(n int) bool {
	for n > 0 && t.cur != nil {
		t.cur, _ = nextNode(t.tree, t.cur)
		n--
	}
	for n < 0 && t.cur != nil {
		t.cur, _ = prevNode(t.tree, t.cur)
		n++
	}
	return t.cur != nil
}

// GoTop positions the cursor at the smallest key.
func (t *Tree) GoTop() bool {
	t.cur = t.tree.Left()
	return t.cur != nil
}

// GoBottom positions the cursor at the greatest key.
func (t *Tree) GoBottom() bool {
	t.cur = t.tree.Right()
	return t.cur != nil
}

// Goto positions the cursor at the n-th key from the top, counting from 0.
func (t *Tree) Goto(n int) bool {
	if !t.GoTop() {
		return false
	}
	return t.Skip(n)
}

// Keynum returns the position of the cursor's key counting from the top,
// or -1 without a cursor.
func (t *Tree) Keynum() int {
	if t.cur == nil {
		return -1
	}
	n := 0
	for node := t.tree.Left(); node != nil; node, _ = nextNode(t.tree, node) {
		if node == t.cur {
			return n
		}
		n++
	}
	return -1
}

// GoToLowerBound positions the cursor at the smallest key >= v, or > v if
// open.
func (t *Tree) GoToLowerBound(v []byte, open bool) bool {
	if open {
		v = ikey.Successor(v)
	}
	t.cur, _ = t.tree.Ceiling(string(v))
	return t.cur != nil
}

// GoToUpperBound positions the cursor at the greatest key <= v, or < v if
// open.
func (t *Tree) GoToUpperBound(v []byte, open bool) bool {
	node, _ := t.tree.Floor(string(v))
	if open && node != nil && node.Key.(string) == string(v) {
		node, _ = prevNode(t.tree, node)
	}
	t.cur = node
	return t.cur != nil
}

// CurrentKey returns the cursor's key, or nil without a cursor.
func (t *Tree) CurrentKey() []byte {
	if t.cur == nil {
		return nil
	}
	return []byte(t.cur.Key.(string))
}

// CurrentRecord returns the cursor's record, or nil without a cursor.
func (t *Tree) CurrentRecord() interface{} {
	if t.cur == nil {
		return nil
	}
	return t.cur.Value
}

// Pack rebuilds the tree from its sorted contents. All keys are preserved;
// the cursor is invalidated.
func (t *Tree) Pack() {
	packed := rbt.NewWithStringComparator()
	for node := t.tree.Left(); node != nil; node, _ = nextNode(t.tree, node) {
		packed.Put(node.Key, node.Value)
	}
	t.tree = packed
	t.cur = nil
}

// nextNode returns the smallest node which is > than the specified node.
func nextNode(tree *rbt.Tree, node *rbt.Node) (next *rbt.Node, ok bool) {
	origin := node
	if node.Right != nil {
		node = node.Right
		for node.Left != nil {
			node = node.Left
		}
		return node, node != nil
	}
	if node.Parent != nil {
		for node.Parent != nil {
			node = node.Parent
			if tree.Comparator(origin.Key, node.Key) <= 0 {
				return node, node != nil
			}
		}
	}

	return nil, false
}

// prevNode returns the greatest node which is < than the specified node.
func prevNode(tree *rbt.Tree, node *rbt.Node) (prev *rbt.Node, ok bool) {
	origin := node
	if node.Left != nil {
		node = node.Left
		for node.Right != nil {
			node = node.Right
		}
		return node, node != nil
	}
	if node.Parent != nil {
		for node.Parent != nil {
			node = node.Parent
			if tree.Comparator(origin.Key, node.Key) >= 0 {
				return node, node != nil
			}
		}
	}

	return nil, false
}
