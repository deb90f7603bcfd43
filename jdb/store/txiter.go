package store

import (
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/ikey"
)

// mergedEntryIterator merges a transaction's buffer scan with its parent's
// scan. Buffer entries take priority; parent entries whose key the
// transaction hides (removed or rewritten) are skipped. Both inputs run in
// the same direction and the merge preserves it.
type mergedEntryIterator struct {
	own, parent jdb.EntryIterator
	hides       func(key string) bool
	ascending   bool

	ownOk, parentOk bool
	started         bool

	current jdb.EntryIterator
}

func newMergedEntryIterator(own, parent jdb.EntryIterator, hides func(key string) bool, ascending bool) *mergedEntryIterator {
	return &mergedEntryIterator{
		own:       own,
		parent:    parent,
		hides:     hides,
		ascending: ascending,
	}
}

// before reports whether key a comes before key b in iteration direction.
func (it *mergedEntryIterator) before(a, b string) bool {
	if it.ascending {
		return a < b
	}
	return a > b
}

func (it *mergedEntryIterator) Next() bool {
	if !it.started {
		it.started = true
		it.ownOk = it.own.Next()
		it.parentOk = it.advanceParent()
	} else {
		switch it.current {
		case it.own:
			it.ownOk = it.own.Next()
		case it.parent:
			it.parentOk = it.advanceParent()
		}
	}
	it.current = nil

	if it.ownOk && (!it.parentOk || !it.before(it.parent.Key(), it.own.Key())) {
		it.current = it.own
		return true
	}
	if it.parentOk {
		it.current = it.parent
		return true
	}
	return false
}

// advanceParent steps the parent past every hidden entry.
func (it *mergedEntryIterator) advanceParent() bool {
	for it.parent.Next() {
		if !it.hides(it.parent.Key()) {
			return true
		}
	}
	return false
}

func (it *mergedEntryIterator) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.Key()
}

func (it *mergedEntryIterator) Value() (interface{}, error) {
	if it.current == nil {
		return nil, nil
	}
	return it.current.Value()
}

func (it *mergedEntryIterator) Error() error {
	if err := it.own.Error(); err != nil {
		return err
	}
	return it.parent.Error()
}

func (it *mergedEntryIterator) Release() {
	it.own.Release()
	it.parent.Release()
	it.current = nil
}

// mergedIndexIterator merges a transaction's buffer index scan with the
// parent's index scan in (secondary, primary) order. Parent entries of
// primaries the transaction touched are skipped entirely; the buffer index
// carries their current entries.
type mergedIndexIterator struct {
	own, parent  jdb.IndexIterator
	hidesPrimary func(primary string) bool
	ascending    bool

	ownOk, parentOk bool
	started         bool

	current jdb.IndexIterator
}

func newMergedIndexIterator(own, parent jdb.IndexIterator, hidesPrimary func(string) bool, ascending bool) *mergedIndexIterator {
	return &mergedIndexIterator{
		own:          own,
		parent:       parent,
		hidesPrimary: hidesPrimary,
		ascending:    ascending,
	}
}

// entryOrder compares two (secondary, primary) entries.
func entryOrder(aSec []byte, aPrim string, bSec []byte, bPrim string) int {
	if c := ikey.BytesCompare(aSec, bSec); c != 0 {
		return c
	}
	if aPrim < bPrim {
		return -1
	}
	if aPrim > bPrim {
		return 1
	}
	return 0
}

func (it *mergedIndexIterator) before(a, b jdb.IndexIterator) bool {
	c := entryOrder(a.SecondaryKey(), a.PrimaryKey(), b.SecondaryKey(), b.PrimaryKey())
	if it.ascending {
		return c < 0
	}
	return c > 0
}

func (it *mergedIndexIterator) Next() bool {
	if !it.started {
		it.started = true
		it.ownOk = it.own.Next()
		it.parentOk = it.advanceParent()
	} else {
		switch it.current {
		case it.own:
			it.ownOk = it.own.Next()
		case it.parent:
			it.parentOk = it.advanceParent()
		}
	}
	it.current = nil

	if it.ownOk && (!it.parentOk || !it.before(it.parent, it.own)) {
		it.current = it.own
		return true
	}
	if it.parentOk {
		it.current = it.parent
		return true
	}
	return false
}

func (it *mergedIndexIterator) advanceParent() bool {
	for it.parent.Next() {
		if !it.hidesPrimary(it.parent.PrimaryKey()) {
			return true
		}
	}
	return false
}

func (it *mergedIndexIterator) SecondaryKey() []byte {
	if it.current == nil {
		return nil
	}
	return it.current.SecondaryKey()
}

func (it *mergedIndexIterator) PrimaryKey() string {
	if it.current == nil {
		return ""
	}
	return it.current.PrimaryKey()
}

func (it *mergedIndexIterator) Error() error {
	if err := it.own.Error(); err != nil {
		return err
	}
	return it.parent.Error()
}

func (it *mergedIndexIterator) Release() {
	it.own.Release()
	it.parent.Release()
	it.current = nil
}
