// Package backend implements the generic persistent object-store backend.
// It lays any number of object stores, their secondary indices and the
// database metadata out as prefix tables over a single raw key-value
// store, so one raw batch commits atomically across all of them.
package backend

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/status-im/keycard-go/hexutils"

	"github.com/nimiq-network/jungle-db/common/bigendian"
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/table"
)

const (
	// DirtyPrefix marks an interrupted multi-store flush.
	DirtyPrefix = 0xde
	// CleanPrefix marks a completed multi-store flush.
	CleanPrefix = 0x00
)

var (
	versionKey = []byte("version")
	flushKey   = []byte("flush")
)

var scopeCounter uint64

// Root owns the raw store shared by every persistent backend of one
// database and implements their atomic commit scope.
type Root struct {
	kv      jdb.KVStore
	scopeID uint64

	tables struct {
		Meta jdb.KVStore `table:"m/"`
	}
}

var _ jdb.AtomicScope = (*Root)(nil)

// OpenRoot wraps a raw store. It fails if the store carries a dirty flush
// marker from an interrupted multi-store flush.
func OpenRoot(kv jdb.KVStore) (*Root, error) {
	r := &Root{
		kv:      kv,
		scopeID: atomic.AddUint64(&scopeCounter, 1),
	}
	table.MigrateTables(&r.tables, kv)
	if err := r.checkClean(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Root) checkClean() error {
	mark, err := r.tables.Meta.Get(flushKey)
	if err != nil {
		return err
	}
	if len(mark) > 0 && bytes.HasPrefix(mark, []byte{DirtyPrefix}) {
		return fmt.Errorf("backend: dirty flush state %s", hexutils.BytesToHex(mark))
	}
	return nil
}

// ScopeID identifies this commit scope.
func (r *Root) ScopeID() uint64 { return r.scopeID }

// NewBatch opens a raw batch covering every table of the scope.
func (r *Root) NewBatch() jdb.Batch { return r.kv.NewBatch() }

// BeginFlush marks the scope dirty before a multi-store flush.
func (r *Root) BeginFlush(id []byte) error {
	return r.tables.Meta.Put(flushKey, append([]byte{DirtyPrefix}, id...))
}

// EndFlush marks the scope clean after a completed multi-store flush.
func (r *Root) EndFlush(id []byte) error {
	return r.tables.Meta.Put(flushKey, append([]byte{CleanPrefix}, id...))
}

// Version reads the stored database version, 0 for a fresh store.
func (r *Root) Version() (uint64, error) {
	raw, err := r.tables.Meta.Get(versionKey)
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, nil
	}
	return bigendian.BytesToUint64(raw), nil
}

// SetVersion stores the database version.
func (r *Root) SetVersion(v uint64) error {
	return r.tables.Meta.Put(versionKey, bigendian.Uint64ToBytes(v))
}

// HasStore reports whether the named object store was ever registered.
func (r *Root) HasStore(name string) (bool, error) {
	return r.tables.Meta.Has(append([]byte("store/"), name...))
}

// RegisterStore durably records the named object store.
func (r *Root) RegisterStore(name string) error {
	return r.tables.Meta.Put(append([]byte("store/"), name...), []byte{1})
}

// UnregisterStore removes the named object store's registration.
func (r *Root) UnregisterStore(name string) error {
	return r.tables.Meta.Delete(append([]byte("store/"), name...))
}

// KV exposes the underlying raw store.
func (r *Root) KV() jdb.KVStore { return r.kv }

// Compact flattens the whole underlying raw store.
func (r *Root) Compact() error {
	return r.kv.Compact(nil, nil)
}

// Close closes the underlying raw store.
func (r *Root) Close() error {
	return r.kv.Close()
}

// Drop deletes the underlying raw store. Close first.
func (r *Root) Drop() {
	r.kv.Drop()
}
