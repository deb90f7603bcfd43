// Package memdb implements the volatile ordered object store. It serves
// both as a standalone backend without durability and as the delta buffer
// inside every transaction.
package memdb

import (
	"sync"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/btree"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// Backend is an ordered key-to-record map plus its secondary indices.
type Backend struct {
	jdb.ReaderOps

	mu      sync.RWMutex
	tree    *btree.Tree // primary key -> record
	indices map[string]*Index
}

var _ jdb.Backend = (*Backend)(nil)

// New creates an empty volatile backend.
func New() *Backend {
	b := &Backend{
		tree:    btree.New(),
		indices: make(map[string]*Index),
	}
	b.ReaderOps = jdb.ReaderOps{Source: b}
	return b
}

// Get returns the record stored under key, or nil if absent.
func (b *Backend) Get(key string) (interface{}, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, _ := b.tree.Get([]byte(key))
	return rec, nil
}

// GetOK returns the record stored under key and whether it is present,
// distinguishing a stored nil from an absent key.
func (b *Backend) GetOK(key string) (interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.tree.Get([]byte(key))
}

// Len returns the number of stored records.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.tree.Len()
}

// Put stores value under key, keeping every index coherent.
func (b *Backend) Put(key string, value interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.put(key, value)
}

func (b *Backend) put(key string, value interface{}) error {
	old, _ := b.tree.Get([]byte(key))
	applied := make([]*Index, 0, len(b.indices))
	for _, ix := range b.indices {
		if err := ix.Put(key, value, old); err != nil {
			// restore the old record in every index already touched
			applied = append(applied, ix)
			for _, touched := range applied {
				touched.removeEntries(key, value)
				if old != nil {
					_ = touched.addEntries(key, old)
				}
			}
			return err
		}
		applied = append(applied, ix)
	}
	b.tree.Put([]byte(key), value)
	return nil
}

// Remove deletes the record under key, keeping every index coherent.
func (b *Backend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remove(key)
	return nil
}

func (b *Backend) remove(key string) {
	old, ok := b.tree.Get([]byte(key))
	if !ok {
		return
	}
	for _, ix := range b.indices {
		ix.Remove(key, old)
	}
	b.tree.Remove([]byte(key))
}

// Truncate removes every record and clears all indices.
func (b *Backend) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tree.Clear()
	for _, ix := range b.indices {
		ix.Truncate()
	}
	return nil
}

// Apply writes a change set. Old index entries of every touched key are
// dropped before any new ones are added, so records may swap secondary
// keys within one change set.
func (b *Backend) Apply(cs *jdb.ChangeSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cs.Truncated {
		b.tree.Clear()
		for _, ix := range b.indices {
			ix.Truncate()
		}
	}
	for key := range cs.Removed {
		old, ok := b.tree.Get([]byte(key))
		if !ok {
			continue
		}
		for _, ix := range b.indices {
			ix.removeEntries(key, old)
		}
		b.tree.Remove([]byte(key))
	}
	for key, value := range cs.Modified {
		old, ok := b.tree.Get([]byte(key))
		if ok {
			for _, ix := range b.indices {
				ix.removeEntries(key, old)
			}
		}
		b.tree.Put([]byte(key), value)
	}
	for key, value := range cs.Modified {
		for _, ix := range b.indices {
			if err := ix.addEntries(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateIndex installs a secondary index. A non-empty backend is
// backfilled by scanning every live record.
func (b *Backend) CreateIndex(def jdb.IndexDef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.indices[def.Name]; exists {
		return nil
	}
	ix := NewIndex(def, b)
	it := b.tree.NewIterator(nil, nil, false)
	for it.Next() {
		if err := ix.addEntries(string(it.Key()), it.Record()); err != nil {
			it.Release()
			return err
		}
	}
	it.Release()
	b.indices[def.Name] = ix
	return nil
}

// DeleteIndex removes a secondary index and its entries.
func (b *Backend) DeleteIndex(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.indices, name)
	return nil
}

// Index returns the named index view.
func (b *Backend) Index(name string) (jdb.Index, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ix, ok := b.indices[name]
	if !ok {
		return nil, jdb.ErrUnknownIndex
	}
	return ix, nil
}

// IndexNames lists the installed indices.
func (b *Backend) IndexNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.indices))
	for name := range b.indices {
		names = append(names, name)
	}
	return names
}

// Close drops all records and indices.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tree.Clear()
	b.indices = make(map[string]*Index)
	return nil
}

/*
 * Iterator
 */

type entryIterator struct {
	inner *btree.Iterator
}

// NewIterator iterates the records inside r in primary-key order.
func (b *Backend) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.EntryIterator {
	start, limit, err := jdb.PrimaryBounds(r)
	if err != nil {
		return jdb.NewErrEntryIterator(err)
	}
	return &entryIterator{inner: b.tree.NewIterator(start, limit, !ascending)}
}

func (it *entryIterator) Next() bool {
	return it.inner.Next()
}

func (it *entryIterator) Key() string {
	return string(it.inner.Key())
}

func (it *entryIterator) Value() (interface{}, error) {
	return it.inner.Record(), nil
}

func (it *entryIterator) Error() error { return nil }

func (it *entryIterator) Release() { it.inner.Release() }
