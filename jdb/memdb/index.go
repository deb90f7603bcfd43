package memdb

import (
	"github.com/emirpasic/gods/sets/treeset"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/btree"
	"github.com/nimiq-network/jungle-db/jdb/ikey"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// Index is an in-memory secondary index: a sorted map from encoded
// secondary key to the ordered set of primary keys holding it.
type Index struct {
	jdb.IndexOps

	def  jdb.IndexDef
	tree *btree.Tree // encoded secondary key -> *treeset.Set of primary keys
}

// NewIndex creates an empty index resolving records through lookup.
func NewIndex(def jdb.IndexDef, lookup jdb.ValueLookup) *Index {
	ix := &Index{
		def:  def,
		tree: btree.New(),
	}
	ix.IndexOps = jdb.IndexOps{Source: ix, Lookup: lookup}
	return ix
}

func (ix *Index) Definition() jdb.IndexDef { return ix.def }

// secondaryKeys extracts the encoded secondary keys a record contributes.
func (ix *Index) secondaryKeys(value interface{}) [][]byte {
	return jdb.SecondaryKeys(ix.def, value)
}

// Put reindexes primary after its record changed from oldValue to value.
func (ix *Index) Put(primary string, value, oldValue interface{}) error {
	ix.removeEntries(primary, oldValue)
	return ix.addEntries(primary, value)
}

// Remove drops all entries primary contributed with oldValue.
func (ix *Index) Remove(primary string, oldValue interface{}) {
	ix.removeEntries(primary, oldValue)
}

// Truncate drops every entry.
func (ix *Index) Truncate() {
	ix.tree.Clear()
}

func (ix *Index) addEntries(primary string, value interface{}) error {
	for _, sec := range ix.secondaryKeys(value) {
		rec, ok := ix.tree.Get(sec)
		if !ok {
			set := treeset.NewWithStringComparator()
			set.Add(primary)
			ix.tree.Put(sec, set)
			continue
		}
		set := rec.(*treeset.Set)
		if ix.def.Unique && !set.Empty() && !set.Contains(primary) {
			decoded, _ := ikey.Decode(sec)
			return &jdb.UniquenessViolationError{
				Index:     ix.def.Name,
				Secondary: decoded,
				Primary:   primary,
				Existing:  set.Values()[0].(string),
			}
		}
		set.Add(primary)
	}
	return nil
}

func (ix *Index) removeEntries(primary string, value interface{}) {
	if value == nil {
		return
	}
	for _, sec := range ix.secondaryKeys(value) {
		rec, ok := ix.tree.Get(sec)
		if !ok {
			continue
		}
		set := rec.(*treeset.Set)
		set.Remove(primary)
		if set.Empty() {
			ix.tree.Remove(sec)
		}
	}
}

/*
 * Iterator
 */

type indexIterator struct {
	inner     *btree.Iterator
	reverse   bool
	secondary []byte
	primaries []string
	pos       int
}

// NewIterator iterates the (secondary, primary) entries inside r.
func (ix *Index) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.IndexIterator {
	start, limit, err := jdb.SecondaryBounds(r)
	if err != nil {
		return jdb.NewErrIndexIterator(err)
	}
	return &indexIterator{
		inner:   ix.tree.NewIterator(start, limit, !ascending),
		reverse: !ascending,
		pos:     -1,
	}
}

func (it *indexIterator) Next() bool {
	for {
		if it.pos >= 0 {
			if it.reverse {
				it.pos--
			} else {
				it.pos++
			}
			if it.pos >= 0 && it.pos < len(it.primaries) {
				return true
			}
			it.pos = -1
		}
		if it.inner == nil || !it.inner.Next() {
			it.inner = nil
			return false
		}
		set := it.inner.Record().(*treeset.Set)
		it.secondary = it.inner.Key()
		it.primaries = it.primaries[:0]
		for _, v := range set.Values() {
			it.primaries = append(it.primaries, v.(string))
		}
		if len(it.primaries) == 0 {
			continue
		}
		if it.reverse {
			it.pos = len(it.primaries) - 1
		} else {
			it.pos = 0
		}
		return true
	}
}

func (it *indexIterator) SecondaryKey() []byte {
	if it.pos < 0 {
		return nil
	}
	return it.secondary
}

func (it *indexIterator) PrimaryKey() string {
	if it.pos < 0 || it.pos >= len(it.primaries) {
		return ""
	}
	return it.primaries[it.pos]
}

func (it *indexIterator) Error() error { return nil }

func (it *indexIterator) Release() {
	it.inner = nil
	it.primaries = nil
	it.pos = -1
}
