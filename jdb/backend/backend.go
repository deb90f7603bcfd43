package backend

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/batched"
	"github.com/nimiq-network/jungle-db/jdb/codec"
	"github.com/nimiq-network/jungle-db/jdb/ikey"
	"github.com/nimiq-network/jungle-db/jdb/keypath"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
	"github.com/nimiq-network/jungle-db/jdb/table"
)

// Backend is one persistent object store laid out as prefix tables over
// the database's root raw store.
type Backend struct {
	jdb.ReaderOps

	root  *Root
	name  string
	codec codec.Codec

	store *table.Table // everything of this object store
	tables struct {
		Data      jdb.KVStore `table:"d/"`
		IndexMeta jdb.KVStore `table:"x/"`
	}

	indices map[string]*persistentIndex
}

var _ jdb.PersistentBackend = (*Backend)(nil)

// New opens the named object store on root. Stored index definitions are
// loaded; declared-but-missing indices are installed via CreateIndex.
func New(root *Root, name string, cdc codec.Codec) (*Backend, error) {
	if cdc == nil {
		cdc = codec.JSON{}
	}
	b := &Backend{
		root:    root,
		name:    name,
		codec:   cdc,
		store:   table.New(root.KV(), []byte("s/"+name+"/")),
		indices: make(map[string]*persistentIndex),
	}
	b.ReaderOps = jdb.ReaderOps{Source: b}
	table.MigrateTables(&b.tables, b.store)
	if err := b.loadIndices(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the object store name.
func (b *Backend) Name() string { return b.name }

// Scope returns the backend's atomic commit scope.
func (b *Backend) Scope() jdb.AtomicScope { return b.root }

// Init installs the backend's structures for a version bump. Stored
// indices were already loaded on open; nothing else is version-dependent.
func (b *Backend) Init(oldVersion, newVersion uint64) error {
	return nil
}

func (b *Backend) loadIndices() error {
	it := b.tables.IndexMeta.NewIterator(nil, nil, false)
	defer it.Release()
	for it.Next() {
		var stored storedIndexDef
		if err := json.Unmarshal(it.Value(), &stored); err != nil {
			return errors.Wrap(err, "backend: corrupted index definition")
		}
		def := stored.toDef(string(it.Key()))
		b.indices[def.Name] = newPersistentIndex(b, def)
	}
	return it.Error()
}

// storedIndexDef is the durable form of an index definition.
type storedIndexDef struct {
	KeyPath    []string `json:"keyPath"`
	MultiEntry bool     `json:"multiEntry"`
	Unique     bool     `json:"unique"`
}

func (s storedIndexDef) toDef(name string) jdb.IndexDef {
	return jdb.IndexDef{
		Name:       name,
		KeyPath:    keypath.New(s.KeyPath...),
		MultiEntry: s.MultiEntry,
		Unique:     s.Unique,
	}
}

/*
 * Reads
 */

// Get returns the record stored under key, or nil if absent.
func (b *Backend) Get(key string) (interface{}, error) {
	raw, err := b.tables.Data.Get([]byte(key))
	if err != nil || raw == nil {
		return nil, err
	}
	return b.codec.Decode(raw)
}

type entryIterator struct {
	inner jdb.Iterator
	codec codec.Codec
}

// NewIterator iterates the records inside r in primary-key order. Records
// decode lazily, so key-only scans never touch the codec.
func (b *Backend) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.EntryIterator {
	start, limit, err := jdb.PrimaryBounds(r)
	if err != nil {
		return jdb.NewErrEntryIterator(err)
	}
	return &entryIterator{
		inner: b.tables.Data.NewIterator(start, limit, !ascending),
		codec: b.codec,
	}
}

func (it *entryIterator) Next() bool { return it.inner.Next() }

func (it *entryIterator) Key() string { return string(it.inner.Key()) }

func (it *entryIterator) Value() (interface{}, error) {
	return it.codec.Decode(it.inner.Value())
}

func (it *entryIterator) Error() error { return it.inner.Error() }

func (it *entryIterator) Release() { it.inner.Release() }

// Index returns the named index adapter.
func (b *Backend) Index(name string) (jdb.Index, error) {
	ix, ok := b.indices[name]
	if !ok {
		return nil, jdb.ErrUnknownIndex
	}
	return ix, nil
}

// IndexNames lists the installed indices.
func (b *Backend) IndexNames() []string {
	names := make([]string, 0, len(b.indices))
	for name := range b.indices {
		names = append(names, name)
	}
	return names
}

/*
 * Writes
 */

// Apply writes a change set atomically through a dedicated root batch.
func (b *Backend) Apply(cs *jdb.ChangeSet) error {
	batch := b.root.NewBatch()
	defer batch.Reset()
	if err := b.ApplyCombined(cs, batch); err != nil {
		return err
	}
	return batch.Write()
}

// ApplyCombined stages a change set into a root batch: data writes, index
// maintenance and unique-index validation against the stored state.
// Nothing is visible until the batch is written.
func (b *Backend) ApplyCombined(cs *jdb.ChangeSet, rootBatch jdb.Batch) error {
	data := b.dataBatch(rootBatch)
	staged := newStagedIndices(b, rootBatch)

	if cs.Truncated {
		if err := b.stageTruncate(data, staged); err != nil {
			return err
		}
	}
	for key := range cs.Removed {
		old, err := b.storedValue(key, cs.Truncated)
		if err != nil {
			return err
		}
		if err := data.Delete([]byte(key)); err != nil {
			return err
		}
		if err := staged.removeEntries(key, old); err != nil {
			return err
		}
	}
	for key, value := range cs.Modified {
		old, err := b.storedValue(key, cs.Truncated)
		if err != nil {
			return err
		}
		if err := staged.removeEntries(key, old); err != nil {
			return err
		}
		raw, err := b.codec.Encode(value)
		if err != nil {
			return err
		}
		if err := data.Put([]byte(key), raw); err != nil {
			return err
		}
	}
	for key, value := range cs.Modified {
		if err := staged.addEntries(key, value); err != nil {
			return err
		}
	}
	return nil
}

// storedValue reads and decodes the currently stored record, nil if absent
// or logically wiped by a truncation in the same change set.
func (b *Backend) storedValue(key string, truncated bool) (interface{}, error) {
	if truncated {
		return nil, nil
	}
	raw, err := b.tables.Data.Get([]byte(key))
	if err != nil || raw == nil {
		return nil, err
	}
	return b.codec.Decode(raw)
}

func (b *Backend) dataBatch(rootBatch jdb.Batch) jdb.Batch {
	return b.tables.Data.(*table.Table).WrapBatch(b.store.WrapBatch(rootBatch))
}

// stageTruncate deletes every stored data and index entry into the batch.
func (b *Backend) stageTruncate(data jdb.Batch, staged *stagedIndices) error {
	it := b.tables.Data.NewIterator(nil, nil, false)
	defer it.Release()
	for it.Next() {
		if err := data.Delete(it.Key()); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	return staged.truncate()
}

// Truncate removes every record and index entry immediately.
func (b *Backend) Truncate() error {
	batch := b.root.NewBatch()
	defer batch.Reset()
	data := b.dataBatch(batch)
	staged := newStagedIndices(b, batch)
	if err := b.stageTruncate(data, staged); err != nil {
		return err
	}
	return batch.Write()
}

// CreateIndex installs a secondary index and backfills it by scanning
// every stored record.
func (b *Backend) CreateIndex(def jdb.IndexDef) error {
	if _, exists := b.indices[def.Name]; exists {
		return nil
	}
	ix := newPersistentIndex(b, def)
	writer := batched.Wrap(ix.tbl)
	var holders map[string]string
	if def.Unique {
		holders = make(map[string]string)
	}
	it := b.NewIterator(true, nil)
	defer it.Release()
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			return err
		}
		for _, sec := range jdb.SecondaryKeys(def, value) {
			if def.Unique {
				if holder, taken := holders[string(sec)]; taken {
					decoded, _ := ikey.Decode(sec)
					return &jdb.UniquenessViolationError{
						Index:     def.Name,
						Secondary: decoded,
						Primary:   it.Key(),
						Existing:  holder,
					}
				}
				holders[string(sec)] = it.Key()
			}
			if err := writer.Put(ikey.EncodeEntry(sec, it.Key()), []byte{}); err != nil {
				return err
			}
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	// close the read view before writing: a bbolt write can wait forever on
	// a read transaction that the same goroutine still holds open
	it.Release()
	if err := writer.Flush(); err != nil {
		return err
	}
	stored := storedIndexDef{
		KeyPath:    def.KeyPath,
		MultiEntry: def.MultiEntry,
		Unique:     def.Unique,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := b.tables.IndexMeta.Put([]byte(def.Name), raw); err != nil {
		return err
	}
	b.indices[def.Name] = ix
	return nil
}

// DeleteIndex removes a secondary index and its stored entries.
func (b *Backend) DeleteIndex(name string) error {
	ix, ok := b.indices[name]
	if !ok {
		return nil
	}
	writer := batched.Wrap(ix.tbl)
	it := ix.tbl.NewIterator(nil, nil, false)
	defer it.Release()
	for it.Next() {
		if err := writer.Delete(it.Key()); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	// close the read view before writing, as in CreateIndex
	it.Release()
	if err := writer.Flush(); err != nil {
		return err
	}
	if err := b.tables.IndexMeta.Delete([]byte(name)); err != nil {
		return err
	}
	delete(b.indices, name)
	return nil
}

// Close detaches the backend; the root owns the raw store.
func (b *Backend) Close() error {
	return nil
}
