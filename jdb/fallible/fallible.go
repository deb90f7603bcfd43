// Package fallible wraps a raw store to make writes fail on purpose.
// It exists for testing the error paths of flush and combined commits.
package fallible

import (
	"errors"
	"sync/atomic"

	"github.com/nimiq-network/jungle-db/jdb"
)

// ErrWriteLimit is returned once the permitted write count is exhausted.
var ErrWriteLimit = errors.New("fallible: write limit reached")

// Store counts down permitted writes; every write past the limit fails
// with ErrWriteLimit. A negative count permits everything.
type Store struct {
	jdb.KVStore

	writes int64
}

// Wrap returns a store that fails writes after the limit set with
// SetWriteCount. The initial limit is unlimited.
func Wrap(parent jdb.KVStore) *Store {
	if parent == nil {
		panic("nil parent")
	}
	return &Store{
		KVStore: parent,
		writes:  -1,
	}
}

// SetWriteCount sets how many writes may still succeed. Negative means
// unlimited.
func (f *Store) SetWriteCount(n int) {
	atomic.StoreInt64(&f.writes, int64(n))
}

// GetWriteCount returns the remaining permitted writes.
func (f *Store) GetWriteCount() int {
	return int(atomic.LoadInt64(&f.writes))
}

func (f *Store) consume() bool {
	for {
		n := atomic.LoadInt64(&f.writes)
		if n < 0 {
			return true
		}
		if n == 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&f.writes, n, n-1) {
			return true
		}
	}
}

func (f *Store) Put(key, value []byte) error {
	if !f.consume() {
		return ErrWriteLimit
	}
	return f.KVStore.Put(key, value)
}

func (f *Store) Delete(key []byte) error {
	if !f.consume() {
		return ErrWriteLimit
	}
	return f.KVStore.Delete(key)
}

// NewBatch wraps the parent batch; the write limit is charged when the
// batch is written, once per batched operation.
func (f *Store) NewBatch() jdb.Batch {
	return &batch{Batch: f.KVStore.NewBatch(), store: f}
}

type batch struct {
	jdb.Batch
	store *Store
	ops   int
}

func (b *batch) Put(key, value []byte) error {
	b.ops++
	return b.Batch.Put(key, value)
}

func (b *batch) Delete(key []byte) error {
	b.ops++
	return b.Batch.Delete(key)
}

func (b *batch) Write() error {
	for i := 0; i < b.ops; i++ {
		if !b.store.consume() {
			return ErrWriteLimit
		}
	}
	return b.Batch.Write()
}

func (b *batch) Reset() {
	b.ops = 0
	b.Batch.Reset()
}
