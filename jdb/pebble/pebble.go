// Package pebble implements the raw key-value store layer based on Pebble,
// an alternative LSM-tree backend for persistent databases.
package pebble

import (
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/nimiq-network/jungle-db/jdb"
)

// Database is a persistent key-value store. Apart from basic data storage
// functionality it also supports batch writes and iterating over the
// keyspace in binary-alphabetical order.
type Database struct {
	filename   string     // filename for reporting
	underlying *pebble.DB // Pebble instance

	quitLock sync.Mutex

	onClose func() error
	onDrop  func()
}

var _ jdb.KVStore = (*Database)(nil)

// New returns a wrapped Pebble object.
func New(path string, cache int, handles int, close func() error, drop func()) (*Database, error) {
	if cache < 16*1024*1024 {
		cache = 16 * 1024 * 1024
	}
	ref := pebble.NewCache(int64(cache * 2 / 3))
	defer ref.Unref()
	db, err := pebble.Open(path, &pebble.Options{
		Cache:           ref,       // default 8 MB
		MemTableSize:    cache / 3, // default 4 MB
		MaxOpenFiles:    handles,   // default 1000
		WALBytesPerSync: 0,         // default 0 (matches RocksDB = no background syncing)
	})
	if err != nil {
		return nil, err
	}
	pdb := Database{
		filename:   path,
		underlying: db,
		onClose:    close,
		onDrop:     drop,
	}
	return &pdb, nil
}

// Close flushes any pending data to disk and closes all io accesses to the
// underlying key-value store.
func (db *Database) Close() error {
	db.quitLock.Lock()
	defer db.quitLock.Unlock()

	if db.underlying == nil {
		panic("already closed")
	}

	pdb := db.underlying
	db.underlying = nil

	if db.onClose != nil {
		if err := db.onClose(); err != nil {
			return err
		}
		db.onClose = nil
	}
	if err := pdb.Close(); err != nil {
		return err
	}
	return nil
}

// Drop whole database.
func (db *Database) Drop() {
	if db.underlying != nil {
		panic("close database first")
	}
	if db.onDrop != nil {
		db.onDrop()
	}
}

// Has retrieves if a key is present in the key-value store.
func (db *Database) Has(key []byte) (bool, error) {
	_, closer, err := db.underlying.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = closer.Close()
	return true, err
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(key []byte) ([]byte, error) {
	value, closer, err := db.underlying.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	clonedValue := append([]byte{}, value...)
	err = closer.Close()
	return clonedValue, err
}

// Put inserts the given value into the key-value store.
func (db *Database) Put(key []byte, value []byte) error {
	return db.underlying.Set(key, value, pebble.NoSync)
}

// Delete removes the key from the key-value store.
func (db *Database) Delete(key []byte) error {
	return db.underlying.Delete(key, pebble.NoSync)
}

// NewBatch creates a write-only key-value store that buffers changes to its
// host database until a final write is called.
func (db *Database) NewBatch() jdb.Batch {
	return &batch{
		db: db.underlying,
		b:  db.underlying.NewBatch(),
	}
}

// NewIterator iterates the half-open range [start, limit) in key order, or
// in reverse key order.
func (db *Database) NewIterator(start, limit []byte, reverse bool) jdb.Iterator {
	opts := &pebble.IterOptions{LowerBound: start, UpperBound: limit}
	return &iterator{inner: db.underlying.NewIter(opts), reverse: reverse}
}

// Compact flattens the underlying data store for the given key range.
func (db *Database) Compact(start []byte, limit []byte) error {
	if limit == nil {
		limit = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	return db.underlying.Compact(start, limit, true)
}

// Path returns the path to the database directory.
func (db *Database) Path() string {
	return db.filename
}

/*
 * Iterator
 */

type iterator struct {
	inner     *pebble.Iterator
	reverse   bool
	isStarted bool
	isClosed  bool
}

func (it *iterator) Next() bool {
	if !it.isStarted {
		// pebble needs First()/Last() instead of the first Next()
		it.isStarted = true
		if it.reverse {
			return it.inner.Last()
		}
		return it.inner.First()
	}
	if it.reverse {
		return it.inner.Prev()
	}
	return it.inner.Next()
}

func (it *iterator) Error() error {
	return it.inner.Error()
}

func (it *iterator) Key() []byte {
	return it.inner.Key()
}

func (it *iterator) Value() []byte {
	return it.inner.Value()
}

func (it *iterator) Release() {
	if it.isClosed {
		return
	}
	_ = it.inner.Close() // must not be called multiple times
	it.isClosed = true
}

/*
 * Batch
 */

type batch struct {
	db   *pebble.DB
	b    *pebble.Batch
	size int
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	if err := b.b.Set(key, value, nil); err != nil {
		return err
	}
	b.size += len(value)
	return nil
}

// Delete inserts the a key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	if err := b.b.Delete(key, nil); err != nil {
		return err
	}
	b.size++
	return nil
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	return b.b.Commit(pebble.NoSync)
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w jdb.Writer) error {
	reader := b.b.Reader()
	for {
		kind, key, value, ok := reader.Next()
		if !ok {
			return nil
		}
		var err error
		switch kind {
		case pebble.InternalKeyKindSet:
			err = w.Put(key, value)
		case pebble.InternalKeyKindDelete:
			err = w.Delete(key)
		}
		if err != nil {
			return err
		}
	}
}
