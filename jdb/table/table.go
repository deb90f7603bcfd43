// Package table scopes a raw store to a key prefix, so several logical
// stores share one underlying database and one atomic batch.
package table

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nimiq-network/jungle-db/jdb"
)

// Table wraps the underlying store, so all the table's data is stored with
// a prefix in the underlying store.
type Table struct {
	underlying jdb.KVStore
	prefix     []byte
}

var _ jdb.KVStore = (*Table)(nil)

// prefixed key (prefix + key)
func prefixed(key, prefix []byte) []byte {
	prefixedKey := make([]byte, 0, len(prefix)+len(key))
	prefixedKey = append(prefixedKey, prefix...)
	prefixedKey = append(prefixedKey, key...)
	return prefixedKey
}

func noPrefix(key, prefix []byte) []byte {
	if len(key) < len(prefix) {
		return key
	}
	return key[len(prefix):]
}

// incPrefix returns the exclusive upper bound of all keys carrying prefix.
func incPrefix(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	endBn := new(big.Int).SetBytes(prefix)
	endBn.Add(endBn, common.Big1)
	if len(endBn.Bytes()) > len(prefix) {
		// overflow
		return nil
	}
	res := make([]byte, len(prefix)-len(endBn.Bytes()), len(prefix))
	return append(res, endBn.Bytes()...)
}

/*
 * Store
 */

func New(db jdb.KVStore, prefix []byte) *Table {
	return &Table{
		underlying: db,
		prefix:     prefix,
	}
}

func (t *Table) NewTable(prefix []byte) *Table {
	return New(t, prefix)
}

func (t *Table) Close() error {
	return jdb.ErrUnsupportedOp
}

func (t *Table) Drop() {}

func (t *Table) Has(key []byte) (bool, error) {
	return t.underlying.Has(prefixed(key, t.prefix))
}

func (t *Table) Get(key []byte) ([]byte, error) {
	return t.underlying.Get(prefixed(key, t.prefix))
}

func (t *Table) Put(key []byte, value []byte) error {
	return t.underlying.Put(prefixed(key, t.prefix), value)
}

func (t *Table) Delete(key []byte) error {
	return t.underlying.Delete(prefixed(key, t.prefix))
}

func (t *Table) Compact(start []byte, limit []byte) error {
	end := prefixed(limit, t.prefix)
	if limit == nil {
		end = incPrefix(t.prefix)
	}
	return t.underlying.Compact(prefixed(start, t.prefix), end)
}

func (t *Table) NewIterator(start, limit []byte, reverse bool) jdb.Iterator {
	first := prefixed(start, t.prefix)
	var last []byte
	if limit != nil {
		last = prefixed(limit, t.prefix)
	} else {
		last = incPrefix(t.prefix)
	}
	return &iterator{
		Iterator: t.underlying.NewIterator(first, last, reverse),
		prefix:   t.prefix,
	}
}

type iterator struct {
	jdb.Iterator
	prefix []byte
}

func (it *iterator) Key() []byte {
	return noPrefix(it.Iterator.Key(), it.prefix)
}

/*
 * Batch
 */

func (t *Table) NewBatch() jdb.Batch {
	return &batch{t.underlying.NewBatch(), t.prefix}
}

// WrapBatch scopes an existing batch of the underlying store to the
// table's prefix, so several tables stage into one atomic write.
func (t *Table) WrapBatch(b jdb.Batch) jdb.Batch {
	return &batch{b, t.prefix}
}

type batch struct {
	batch  jdb.Batch
	prefix []byte
}

func (b *batch) Put(key, value []byte) error {
	return b.batch.Put(prefixed(key, b.prefix), value)
}

func (b *batch) Delete(key []byte) error {
	return b.batch.Delete(prefixed(key, b.prefix))
}

func (b *batch) ValueSize() int {
	return b.batch.ValueSize()
}

func (b *batch) Write() error {
	return b.batch.Write()
}

func (b *batch) Reset() {
	b.batch.Reset()
}

func (b *batch) Replay(w jdb.Writer) error {
	return b.batch.Replay(&replayer{w, b.prefix})
}

/*
 * Replayer
 */

type replayer struct {
	writer jdb.Writer
	prefix []byte
}

func (r *replayer) Put(key, value []byte) error {
	return r.writer.Put(noPrefix(key, r.prefix), value)
}

func (r *replayer) Delete(key []byte) error {
	return r.writer.Delete(noPrefix(key, r.prefix))
}
