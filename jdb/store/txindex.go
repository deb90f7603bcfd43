package store

import (
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// TransactionIndex answers index queries for a transaction by composing
// the parent's index view with the transaction's buffered entries and
// tombstones on the fly; the union is never materialized.
type TransactionIndex struct {
	jdb.IndexOps

	tx    *Transaction
	name  string
	local jdb.Index // the buffer's index over modified records
}

var _ jdb.Index = (*TransactionIndex)(nil)

func newTransactionIndex(tx *Transaction, name string, local jdb.Index) *TransactionIndex {
	ix := &TransactionIndex{
		tx:    tx,
		name:  name,
		local: local,
	}
	ix.IndexOps = jdb.IndexOps{Source: ix, Lookup: tx}
	return ix
}

func (ix *TransactionIndex) Definition() jdb.IndexDef { return ix.local.Definition() }

// NewIterator iterates the merged (secondary, primary) entries inside r.
// After a truncate only the buffer's entries remain visible.
func (ix *TransactionIndex) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.IndexIterator {
	own := ix.local.NewIterator(ascending, r)
	if ix.tx.truncated {
		return own
	}
	parent, err := ix.tx.parentView().Index(ix.name)
	if err != nil {
		own.Release()
		return jdb.NewErrIndexIterator(err)
	}
	return newMergedIndexIterator(own, parent.NewIterator(ascending, r), ix.tx.hides, ascending)
}
