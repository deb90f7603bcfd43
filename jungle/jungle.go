// Package jungle is the embedded database façade: it owns the raw store,
// the object-store registry, schema versioning with upgrade conditions,
// and the combined-commit entry point.
package jungle

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/backend"
	"github.com/nimiq-network/jungle-db/jdb/boltdb"
	"github.com/nimiq-network/jungle-db/jdb/codec"
	"github.com/nimiq-network/jungle-db/jdb/leveldb"
	"github.com/nimiq-network/jungle-db/jdb/memdb"
	"github.com/nimiq-network/jungle-db/jdb/pebble"
	"github.com/nimiq-network/jungle-db/jdb/store"
	"github.com/nimiq-network/jungle-db/jdb/synchronizer"
)

// BackendKind selects the raw store powering persistent object stores.
type BackendKind int

const (
	// LevelDB is the default LSM-tree raw store.
	LevelDB BackendKind = iota
	// Pebble is an alternative LSM-tree raw store.
	Pebble
	// Bolt is a memory-mapped B+-tree raw store.
	Bolt
)

// Options tune a database instance.
type Options struct {
	Kind    BackendKind
	Cache   int // raw store cache budget in bytes
	Handles int // raw store file handles

	// OnUpgradeNeeded runs after the raw store opened whenever the stored
	// version differs from the requested one, before structural changes.
	OnUpgradeNeeded func(oldVersion, newVersion uint64) error
}

// ObjectStoreOptions tune one object store.
type ObjectStoreOptions struct {
	Codec            codec.Codec // persistent stores only; default JSON
	Volatile         bool
	UpgradeCondition store.UpgradeCondition
	EnableLruCache   bool
	LruCacheSize     int
}

const defaultLruCacheSize = 5000

// Database is one JungleDB instance rooted in a data directory.
type Database struct {
	dir     string
	version uint64
	opts    Options

	mu        sync.Mutex
	root      *backend.Root
	lane      *synchronizer.Synchronizer
	stores    map[string]*store.ObjectStore
	storeOpts map[string]ObjectStoreOptions
	deletes   map[string]store.UpgradeCondition
	connected bool
}

// New prepares a database at dir with the given schema version. Object
// stores are declared before Connect.
func New(dir string, version uint64, opts *Options) *Database {
	db := &Database{
		dir:       dir,
		version:   version,
		lane:      synchronizer.New(),
		stores:    make(map[string]*store.ObjectStore),
		storeOpts: make(map[string]ObjectStoreOptions),
		deletes:   make(map[string]store.UpgradeCondition),
	}
	if opts != nil {
		db.opts = *opts
	}
	return db
}

// CreateObjectStore declares an object store. The returned store becomes
// usable after Connect; volatile stores are usable immediately.
func (db *Database) CreateObjectStore(name string, opts *ObjectStoreOptions) (*store.ObjectStore, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.connected {
		return nil, jdb.ErrConnected
	}
	if s, exists := db.stores[name]; exists {
		return s, nil
	}
	var o ObjectStoreOptions
	if opts != nil {
		o = *opts
	}
	s := store.New(name)
	if o.Volatile {
		s.Bind(memdb.New(), db.lane)
	}
	db.stores[name] = s
	db.storeOpts[name] = o
	return s, nil
}

// DeleteObjectStore schedules the named store's data for removal on the
// next Connect that bumps the version, subject to the upgrade condition.
func (db *Database) DeleteObjectStore(name string, cond store.UpgradeCondition) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.connected {
		return jdb.ErrConnected
	}
	db.deletes[name] = cond
	return nil
}

// CreateVolatileObjectStore returns a standalone in-memory store. It
// belongs to no database and may join any combined commit.
func CreateVolatileObjectStore() *store.ObjectStore {
	return store.NewVolatile()
}

// CommitCombined atomically commits transactions of distinct object
// stores of one database. See store.CommitCombined.
func CommitCombined(txs ...*store.Transaction) (bool, error) {
	return store.CommitCombined(txs...)
}

// Connect opens the raw store, applies schema upgrades and binds every
// declared object store.
func (db *Database) Connect() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.connected {
		return jdb.ErrConnected
	}
	kv, err := db.openKV()
	if err != nil {
		return err
	}
	root, err := backend.OpenRoot(kv)
	if err != nil {
		_ = kv.Close()
		return err
	}
	oldVersion, err := root.Version()
	if err != nil {
		_ = kv.Close()
		return err
	}
	bump := oldVersion != db.version
	if bump && db.opts.OnUpgradeNeeded != nil {
		if err := db.opts.OnUpgradeNeeded(oldVersion, db.version); err != nil {
			_ = kv.Close()
			return err
		}
	}
	if err := db.applyDeletes(root, oldVersion, bump); err != nil {
		_ = kv.Close()
		return err
	}
	if err := db.bindStores(root, oldVersion, bump); err != nil {
		_ = kv.Close()
		return err
	}
	if err := root.SetVersion(db.version); err != nil {
		_ = kv.Close()
		return err
	}
	db.root = root
	db.connected = true
	return nil
}

func (db *Database) openKV() (jdb.KVStore, error) {
	if err := os.MkdirAll(db.dir, 0700); err != nil {
		return nil, err
	}
	drop := func() { _ = os.RemoveAll(db.dir) }
	switch db.opts.Kind {
	case Pebble:
		return pebble.New(filepath.Join(db.dir, "pebble"), db.opts.Cache, db.opts.Handles, nil, drop)
	case Bolt:
		return boltdb.New(filepath.Join(db.dir, "data.bolt"), nil, drop)
	default:
		return leveldb.New(filepath.Join(db.dir, "leveldb"), db.opts.Cache, db.opts.Handles, nil, drop)
	}
}

// structuralChange decides create/recreate work for stores and indices.
// Without a condition, missing structures are installed and existing ones
// left alone; a condition that fires on a bump forces the change, one that
// does not suppresses it entirely.
func structuralChange(cond store.UpgradeCondition, exists, bump bool, oldVersion, newVersion uint64) bool {
	if cond == nil {
		return !exists
	}
	if !bump {
		return !exists && cond(oldVersion, newVersion)
	}
	return cond(oldVersion, newVersion)
}

func (db *Database) applyDeletes(root *backend.Root, oldVersion uint64, bump bool) error {
	for name, cond := range db.deletes {
		exists, err := root.HasStore(name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		apply := bump && (cond == nil || cond(oldVersion, db.version))
		if !apply {
			continue
		}
		if err := db.dropStoreData(root, name); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) dropStoreData(root *backend.Root, name string) error {
	b, err := backend.New(root, name, nil)
	if err != nil {
		return err
	}
	for _, ixName := range b.IndexNames() {
		if err := b.DeleteIndex(ixName); err != nil {
			return err
		}
	}
	if err := b.Truncate(); err != nil {
		return err
	}
	return root.UnregisterStore(name)
}

func (db *Database) bindStores(root *backend.Root, oldVersion uint64, bump bool) error {
	for name, s := range db.stores {
		opts := db.storeOpts[name]
		if opts.Volatile {
			continue // bound at declaration
		}
		exists, err := root.HasStore(name)
		if err != nil {
			return err
		}
		recreate := structuralChange(opts.UpgradeCondition, exists, bump, oldVersion, db.version)
		if exists && recreate {
			if err := db.dropStoreData(root, name); err != nil {
				return err
			}
			exists = false
		}
		if !exists && !recreate && opts.UpgradeCondition != nil {
			// suppressed creation: leave the store unbound but registered
			// declarations in place for a later version
			continue
		}
		b, err := backend.New(root, name, opts.Codec)
		if err != nil {
			return err
		}
		if err := b.Init(oldVersion, db.version); err != nil {
			return err
		}
		if err := root.RegisterStore(name); err != nil {
			return err
		}
		if err := db.installIndices(b, s.Decls(), bump, oldVersion); err != nil {
			return err
		}
		bound := jdb.Backend(b)
		if opts.EnableLruCache {
			size := opts.LruCacheSize
			if size <= 0 {
				size = defaultLruCacheSize
			}
			cached, err := newCachedBackend(b, size)
			if err != nil {
				return err
			}
			bound = cached
		}
		s.Bind(bound, db.lane)
	}
	return nil
}

func (db *Database) installIndices(b *backend.Backend, decls []store.IndexDecl, bump bool, oldVersion uint64) error {
	installed := make(map[string]struct{})
	for _, name := range b.IndexNames() {
		installed[name] = struct{}{}
	}
	for _, decl := range decls {
		_, exists := installed[decl.Def.Name]
		apply := structuralChange(decl.UpgradeCondition, exists, bump, oldVersion, db.version)
		if !apply {
			continue
		}
		if exists {
			if err := b.DeleteIndex(decl.Def.Name); err != nil {
				return err
			}
		}
		if err := b.CreateIndex(decl.Def); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the database down; committed but unflushed transactions
// drain first through their stores' own flush paths.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.connected {
		return jdb.ErrNotConnected
	}
	for _, s := range db.stores {
		if err := s.Close(); err != nil && err != jdb.ErrUnsupportedOp {
			return err
		}
	}
	db.connected = false
	db.lane.Stop()
	return db.root.Close()
}

// Destroy closes the database and deletes its data directory.
func (db *Database) Destroy() error {
	if err := db.Close(); err != nil && err != jdb.ErrNotConnected {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.root != nil {
		db.root.Drop()
		db.root = nil
		return nil
	}
	return os.RemoveAll(db.dir)
}

// Compact flattens the underlying raw store.
func (db *Database) Compact() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.connected {
		return jdb.ErrNotConnected
	}
	return db.root.Compact()
}

// Version returns the schema version the database was opened with.
func (db *Database) Version() uint64 { return db.version }
