// Package jdb defines the contracts shared by all JungleDB storage layers:
// the raw key-value store consumed by persistent backends, the decoded
// object-store surface consumed by transactions, and the index adapters.
package jdb

import (
	"github.com/nimiq-network/jungle-db/jdb/keypath"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// IdealBatchSize defines the size of the data batches should ideally add in
// one raw write.
const IdealBatchSize = 100 * 1024

/*
 * Raw key-value layer
 */

// Iterator iterates over a raw store's key/value pairs. The direction is
// fixed when the iterator is created.
type Iterator interface {
	// Next moves the iterator to the next pair. It returns false when the
	// iterator is exhausted.
	Next() bool

	// Error returns any accumulated error.
	Error() error

	// Key returns the key of the current pair, or nil if done. The contents
	// may change on the next call to Next.
	Key() []byte

	// Value returns the value of the current pair, or nil if done. The
	// contents may change on the next call to Next.
	Value() []byte

	// Release releases associated resources.
	Release()
}

// Writer wraps the Put and Delete methods of a backing raw store.
type Writer interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Batch is a write-only store that commits changes to its host store
// atomically when Write is called. A batch cannot be used concurrently.
type Batch interface {
	Writer

	// ValueSize retrieves the amount of data queued up for writing.
	ValueSize() int

	// Write flushes any accumulated data to the host store.
	Write() error

	// Reset resets the batch for reuse.
	Reset()

	// Replay replays the batch contents.
	Replay(w Writer) error
}

// KVStore is the raw ordered byte store persistent backends are built on.
type KVStore interface {
	Writer

	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)

	// NewBatch creates a write-only store that buffers changes until Write.
	NewBatch() Batch

	// NewIterator iterates the half-open range [start, limit) in key order,
	// or in reverse key order. Nil bounds mean unbounded.
	NewIterator(start, limit []byte, reverse bool) Iterator

	// Compact flattens the underlying store for the given key range.
	Compact(start, limit []byte) error

	Close() error

	// Drop deletes the whole store. The store must be closed first.
	Drop()
}

/*
 * Object layer
 */

// EntryIterator iterates decoded records in primary-key order. The
// direction is fixed when the iterator is created.
type EntryIterator interface {
	Next() bool
	Key() string
	Value() (interface{}, error)
	Error() error
	Release()
}

// IndexIterator iterates index entries ordered by encoded secondary key
// first, primary key second.
type IndexIterator interface {
	Next() bool
	SecondaryKey() []byte
	PrimaryKey() string
	Error() error
	Release()
}

// Reader is the read surface shared by object stores, transactions and
// snapshots. Callers never see which of the three they hold.
type Reader interface {
	// Get returns the record stored under key, or nil if absent.
	Get(key string) (interface{}, error)

	// NewIterator iterates the records inside r in primary-key order.
	NewIterator(ascending bool, r *keyrange.KeyRange) EntryIterator

	Keys(r *keyrange.KeyRange, limit int) ([]string, error)
	Values(r *keyrange.KeyRange, limit int) ([]interface{}, error)
	MinKey(r *keyrange.KeyRange) (string, bool, error)
	MaxKey(r *keyrange.KeyRange) (string, bool, error)
	MinValue(r *keyrange.KeyRange) (interface{}, bool, error)
	MaxValue(r *keyrange.KeyRange) (interface{}, bool, error)
	Count(r *keyrange.KeyRange) (int, error)

	// KeyStream calls fn for every key inside r in the given direction
	// until fn returns false.
	KeyStream(fn func(key string) bool, ascending bool, r *keyrange.KeyRange) error

	// ValueStream calls fn for every record inside r in the given direction
	// until fn returns false.
	ValueStream(fn func(value interface{}, key string) bool, ascending bool, r *keyrange.KeyRange) error

	// Index returns the named secondary index view.
	Index(name string) (Index, error)

	// IndexNames lists the indices available on this reader.
	IndexNames() []string
}

// IndexDef describes a secondary index.
type IndexDef struct {
	Name       string
	KeyPath    keypath.KeyPath
	MultiEntry bool
	Unique     bool
}

// IndexOptions carries the optional index properties of CreateIndex.
type IndexOptions struct {
	MultiEntry bool
	Unique     bool
}

// Index is the read surface of a secondary index. All three
// implementations (in-memory, transaction overlay, persistent adapter)
// satisfy it.
type Index interface {
	Definition() IndexDef

	// NewIterator iterates the entries whose secondary key lies inside r,
	// ordered by secondary key first, primary key second.
	NewIterator(ascending bool, r *keyrange.KeyRange) IndexIterator

	Keys(r *keyrange.KeyRange, limit int) ([]string, error)
	Values(r *keyrange.KeyRange, limit int) ([]interface{}, error)
	MinKeys(r *keyrange.KeyRange) ([]string, error)
	MaxKeys(r *keyrange.KeyRange) ([]string, error)
	MinValues(r *keyrange.KeyRange) ([]interface{}, error)
	MaxValues(r *keyrange.KeyRange) ([]interface{}, error)
	Count(r *keyrange.KeyRange) (int, error)

	// KeyStream calls fn for every (secondary, primary) pair inside r in
	// the given direction until fn returns false.
	KeyStream(fn func(secondary interface{}, primary string) bool, ascending bool, r *keyrange.KeyRange) error

	// ValueStream calls fn for every indexed record inside r in the given
	// direction until fn returns false.
	ValueStream(fn func(value interface{}, primary string) bool, ascending bool, r *keyrange.KeyRange) error
}

/*
 * Backend contracts
 */

// ChangeSet is the net effect of a committed transaction, handed to a
// backend for application.
type ChangeSet struct {
	Truncated bool
	Modified  map[string]interface{}
	Removed   map[string]struct{}
}

// Empty reports whether applying the change set would be a no-op.
func (cs *ChangeSet) Empty() bool {
	return !cs.Truncated && len(cs.Modified) == 0 && len(cs.Removed) == 0
}

// Backend is a store the transaction engine can bottom out on: either the
// volatile in-memory backend or a persistent adapter.
type Backend interface {
	Reader

	// CreateIndex installs a secondary index. Creating an index on a
	// non-empty backend backfills it from every live record.
	CreateIndex(def IndexDef) error

	// DeleteIndex removes a secondary index and its stored entries.
	DeleteIndex(name string) error

	// Truncate removes every record and clears all indices.
	Truncate() error

	// Apply writes a change set atomically, maintaining all indices.
	Apply(cs *ChangeSet) error

	Close() error
}

// AtomicScope is the commit scope shared by every persistent backend of one
// database. Batches created here apply atomically across all of them.
type AtomicScope interface {
	// ScopeID identifies the scope; backends with equal ids may take part
	// in one combined commit.
	ScopeID() uint64

	// NewBatch opens a write batch covering the whole scope.
	NewBatch() Batch

	// BeginFlush marks the scope dirty before a multi-store flush.
	BeginFlush(id []byte) error

	// EndFlush marks the scope clean after a completed multi-store flush.
	EndFlush(id []byte) error
}

// PersistentBackend extends Backend with the combined-commit protocol.
type PersistentBackend interface {
	Backend

	// Scope returns the backend's atomic commit scope.
	Scope() AtomicScope

	// ApplyCombined stages a change set, including all index maintenance,
	// into a batch obtained from the backend's scope. Nothing is visible
	// until the batch is written.
	ApplyCombined(cs *ChangeSet, batch Batch) error

	// Init prepares the backend's structures for a version bump. Declared
	// indices are installed and backfilled through CreateIndex, not by Init.
	Init(oldVersion, newVersion uint64) error
}
