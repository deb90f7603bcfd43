// Package boltdb implements the raw key-value store layer based on bbolt,
// a memory-mapped B+-tree backend for persistent databases.
package boltdb

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"github.com/nimiq-network/jungle-db/jdb"
)

var bucketName = []byte("jungle")

// Database is a persistent key-value store backed by a single memory-mapped
// file. All records live in one bucket; batch writes commit in a single
// bolt transaction and are therefore atomic.
type Database struct {
	filename   string
	underlying *bolt.DB

	quitLock sync.Mutex

	onClose func() error
	onDrop  func()
}

var _ jdb.KVStore = (*Database)(nil)

// New returns a wrapped bolt database at path.
func New(path string, close func() error, drop func()) (*Database, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Database{
		filename:   path,
		underlying: db,
		onClose:    close,
		onDrop:     drop,
	}, nil
}

// Close flushes and closes the underlying file.
func (db *Database) Close() error {
	db.quitLock.Lock()
	defer db.quitLock.Unlock()

	if db.underlying == nil {
		panic("already closed")
	}

	bdb := db.underlying
	db.underlying = nil

	if db.onClose != nil {
		if err := db.onClose(); err != nil {
			return err
		}
		db.onClose = nil
	}
	return bdb.Close()
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
	var has bool
	err := db.underlying.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(bucketName).Get(key) != nil
		return nil
	})
	return has, err
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.underlying.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get(key); v != nil {
			value = common.CopyBytes(v)
		}
		return nil
	})
	return value, err
}

// Put inserts the given value into the key-value store.
func (db *Database) Put(key []byte, value []byte) error {
	return db.underlying.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

// Delete removes the key from the key-value store.
func (db *Database) Delete(key []byte) error {
	return db.underlying.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

// Compact is not meaningful for a memory-mapped B+-tree file.
func (db *Database) Compact(start, limit []byte) error {
	return nil
}

// Path returns the path to the database file.
func (db *Database) Path() string {
	return db.filename
}

/*
 * Iterator
 */

// iterator keeps a read-only bolt transaction open until released.
type iterator struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	reverse bool
	started bool
	err     error

	start, limit []byte
	key, value   []byte
}

// NewIterator iterates the half-open range [start, limit) in key order, or
// in reverse key order.
func (db *Database) NewIterator(start, limit []byte, reverse bool) jdb.Iterator {
	tx, err := db.underlying.Begin(false)
	if err != nil {
		return &iterator{err: err}
	}
	return &iterator{
		tx:      tx,
		cursor:  tx.Bucket(bucketName).Cursor(),
		reverse: reverse,
		start:   start,
		limit:   limit,
	}
}

func (it *iterator) first() ([]byte, []byte) {
	if !it.reverse {
		if it.start == nil {
			return it.cursor.First()
		}
		return it.cursor.Seek(it.start)
	}
	if it.limit == nil {
		return it.cursor.Last()
	}
	// position strictly below the exclusive limit
	if k, _ := it.cursor.Seek(it.limit); k == nil {
		return it.cursor.Last()
	}
	return it.cursor.Prev()
}

func (it *iterator) inRange(key []byte) bool {
	if it.start != nil && string(key) < string(it.start) {
		return false
	}
	if it.limit != nil && string(key) >= string(it.limit) {
		return false
	}
	return true
}

func (it *iterator) Next() bool {
	if it.cursor == nil {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.first()
	} else if it.reverse {
		k, v = it.cursor.Prev()
	} else {
		k, v = it.cursor.Next()
	}
	if k == nil || !it.inRange(k) {
		it.key, it.value = nil, nil
		it.cursor = nil
		return false
	}
	it.key = common.CopyBytes(k)
	it.value = common.CopyBytes(v)
	return true
}

func (it *iterator) Error() error { return it.err }

func (it *iterator) Key() []byte { return it.key }

func (it *iterator) Value() []byte { return it.value }

func (it *iterator) Release() {
	it.cursor = nil
	if it.tx != nil {
		_ = it.tx.Rollback()
		it.tx = nil
	}
}

/*
 * Batch
 */

type kv struct {
	k, v []byte
}

// batch buffers writes and commits them in one bolt transaction.
type batch struct {
	db     *bolt.DB
	writes []kv
	size   int
}

// NewBatch creates a write-only key-value store that buffers changes to its
// host database until a final write is called.
func (db *Database) NewBatch() jdb.Batch {
	return &batch{db: db.underlying}
}

// Put adds "add key-value pair" operation into batch.
func (b *batch) Put(key, value []byte) error {
	b.writes = append(b.writes, kv{common.CopyBytes(key), common.CopyBytes(value)})
	b.size += len(key) + len(value)
	return nil
}

// Delete adds "remove key" operation into batch.
func (b *batch) Delete(key []byte) error {
	b.writes = append(b.writes, kv{common.CopyBytes(key), nil})
	b.size += len(key)
	return nil
}

// ValueSize returns key-values sizes sum.
func (b *batch) ValueSize() int {
	return b.size
}

// Write commits the batch in a single bolt transaction.
func (b *batch) Write() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, w := range b.writes {
			var err error
			if w.v == nil {
				err = bucket.Delete(w.k)
			} else {
				err = bucket.Put(w.k, w.v)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset cleans whole batch.
func (b *batch) Reset() {
	b.writes = b.writes[:0]
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w jdb.Writer) error {
	for _, op := range b.writes {
		if op.v == nil {
			if err := w.Delete(op.k); err != nil {
				return err
			}
			continue
		}
		if err := w.Put(op.k, op.v); err != nil {
			return err
		}
	}
	return nil
}
