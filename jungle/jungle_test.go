package jungle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/keypath"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
	"github.com/nimiq-network/jungle-db/jdb/store"
)

func depthRecord(b float64) map[string]interface{} {
	return map[string]interface{}{"a": map[string]interface{}{"b": b}}
}

func connected(t *testing.T, dir string, version uint64, kind BackendKind, declare func(db *Database)) *Database {
	t.Helper()
	db := New(dir, version, &Options{Kind: kind})
	if declare != nil {
		declare(db)
	}
	require.NoError(t, db.Connect())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSecondaryIndexOverPath(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	db := connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("test", nil)
		require.NoError(err)
		require.NoError(st.CreateIndex("testIndex", keypath.New("val"), store.IndexOptions{}))
		require.NoError(st.CreateIndex("testIndex2", keypath.New("a", "b"), store.IndexOptions{}))
	})
	defer db.Close()

	require.NoError(st.Put("test", map[string]interface{}{
		"val": float64(123),
		"a":   map[string]interface{}{"b": float64(1)},
	}))

	keys, err := jdb.Eq("testIndex", float64(123)).Keys(st, 0)
	require.NoError(err)
	require.Equal([]string{"test"}, keys)

	keys, err = jdb.Eq("testIndex2", float64(1)).Keys(st, 0)
	require.NoError(err)
	require.Equal([]string{"test"}, keys)

	ix, err := st.Index("testIndex")
	require.NoError(err)
	maxKeys, err := ix.MaxKeys(nil)
	require.NoError(err)
	require.Equal([]string{"test"}, maxKeys)

	// non-conforming values are stored but not indexed
	require.NoError(st.Put("test2", "other"))
	ix2, err := st.Index("testIndex2")
	require.NoError(err)
	n, err := ix2.Count(nil)
	require.NoError(err)
	require.Equal(1, n)

	// unknown index names are an error
	_, err = jdb.Eq("nope", float64(1)).Keys(st, 0)
	require.ErrorIs(err, jdb.ErrUnknownIndex)
}

func TestUniquenessOnPersistentStore(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("test", nil)
		require.NoError(err)
		require.NoError(st.CreateIndex("depth", keypath.New("a", "b"), store.IndexOptions{Unique: true}))
	})

	require.NoError(st.Put("t1", depthRecord(1)))
	err := st.Put("t2", depthRecord(1))
	require.True(jdb.IsUniquenessViolation(err))

	n, err := st.Count(nil)
	require.NoError(err)
	require.Equal(1, n)
}

func TestOrderedRangeScan(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("test", nil)
		require.NoError(err)
	})

	for i := 0; i < 4; i++ {
		require.NoError(st.Put("test"+string(rune('0'+i)), map[string]interface{}{"v": float64(i)}))
	}

	values, err := st.Values(keyrange.UpperBound("test1", false), 0)
	require.NoError(err)
	require.Len(values, 2)
	require.Equal(float64(0), values[0].(map[string]interface{})["v"])
	require.Equal(float64(1), values[1].(map[string]interface{})["v"])

	keys, err := st.Keys(keyrange.LowerBound("test2", false), 0)
	require.NoError(err)
	require.Equal([]string{"test2", "test3"}, keys)
}

func TestCombinedCommitAcrossStores(t *testing.T) {
	require := require.New(t)

	var st1, st2 *store.ObjectStore
	connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st1, err = db.CreateObjectStore("st1", nil)
		require.NoError(err)
		require.NoError(st1.CreateIndex("depth", keypath.New("a", "b"), store.IndexOptions{Unique: true}))
		st2, err = db.CreateObjectStore("st2", nil)
		require.NoError(err)
	})

	// success: both stores advance atomically
	tx1, err := st1.Transaction()
	require.NoError(err)
	tx2, err := st2.Transaction()
	require.NoError(err)
	require.NoError(tx1.Put("t", depthRecord(1)))
	require.NoError(tx2.Put("x", "y"))
	ok, err := CommitCombined(tx1, tx2)
	require.NoError(err)
	require.True(ok)

	v, err := st2.Get("x")
	require.NoError(err)
	require.Equal("y", v)

	// failure: a deferred uniqueness violation aborts both sides
	tx1, err = st1.Transaction()
	require.NoError(err)
	tx2, err = st2.Transaction()
	require.NoError(err)
	require.NoError(tx1.PutSync("t2", depthRecord(1)))
	require.NoError(tx2.PutSync("t2", "ok"))

	ok, err = CommitCombined(tx1, tx2)
	require.False(ok)
	require.True(jdb.IsUniquenessViolation(err))
	require.Equal(store.StateAborted, tx1.State())
	require.Equal(store.StateAborted, tx2.State())

	v, err = st2.Get("t2")
	require.NoError(err)
	require.Nil(v)
}

func TestCombinedWithVolatileStore(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("st", nil)
		require.NoError(err)
	})

	volatile := CreateVolatileObjectStore()

	tx1, err := st.Transaction()
	require.NoError(err)
	tx2, err := volatile.Transaction()
	require.NoError(err)
	require.NoError(tx1.Put("p", 1))
	require.NoError(tx2.Put("v", 2))

	ok, err := CommitCombined(tx1, tx2)
	require.NoError(err)
	require.True(ok)

	v, err := volatile.Get("v")
	require.NoError(err)
	require.Equal(2, v)
	v, err = st.Get("p")
	require.NoError(err)
	require.Equal(float64(1), v, "persistent values round-trip through the codec")
}

func TestVersionUpgradeAddsIndex(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()

	db := New(dir, 1, nil)
	st, err := db.CreateObjectStore("docs", nil)
	require.NoError(err)
	require.NoError(db.Connect())
	require.NoError(st.Put("test", map[string]interface{}{"val": float64(5)}))
	require.NoError(db.Close())

	// version bump declares a new index; it backfills from stored records
	upgraded := false
	db = New(dir, 2, &Options{OnUpgradeNeeded: func(oldVersion, newVersion uint64) error {
		require.Equal(uint64(1), oldVersion)
		require.Equal(uint64(2), newVersion)
		upgraded = true
		return nil
	}})
	st, err = db.CreateObjectStore("docs", nil)
	require.NoError(err)
	require.NoError(st.CreateIndex("val", keypath.New("val"), store.IndexOptions{}))
	require.NoError(db.Connect())
	defer db.Close()

	require.True(upgraded)
	ix, err := st.Index("val")
	require.NoError(err)
	keys, err := ix.Keys(keyrange.Only(float64(5)), 0)
	require.NoError(err)
	require.Equal([]string{"test"}, keys)
}

func TestDeleteObjectStoreOnUpgrade(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()

	db := New(dir, 1, nil)
	st, err := db.CreateObjectStore("tmp", nil)
	require.NoError(err)
	require.NoError(db.Connect())
	require.NoError(st.Put("k", "v"))
	require.NoError(db.Close())

	db = New(dir, 2, nil)
	require.NoError(db.DeleteObjectStore("tmp", nil))
	st, err = db.CreateObjectStore("tmp", nil)
	require.NoError(err)
	require.NoError(db.Connect())
	defer db.Close()

	v, err := st.Get("k")
	require.NoError(err)
	require.Nil(v, "dropped store starts empty")
}

func TestLruCachedStore(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("cached", &ObjectStoreOptions{
			EnableLruCache: true,
			LruCacheSize:   16,
		})
		require.NoError(err)
	})

	require.NoError(st.Put("k", "v1"))
	v, err := st.Get("k")
	require.NoError(err)
	require.Equal("v1", v)
	// cached read
	v, err = st.Get("k")
	require.NoError(err)
	require.Equal("v1", v)

	// writes invalidate
	require.NoError(st.Put("k", "v2"))
	v, err = st.Get("k")
	require.NoError(err)
	require.Equal("v2", v)

	require.NoError(st.Remove("k"))
	v, err = st.Get("k")
	require.NoError(err)
	require.Nil(v)

	require.NoError(st.Truncate())
	n, err := st.Count(nil)
	require.NoError(err)
	require.Equal(0, n)
}

func TestVolatileStoreInDatabase(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, LevelDB, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("mem", &ObjectStoreOptions{Volatile: true})
		require.NoError(err)
	})

	require.NoError(st.Put("k", 1))
	v, err := st.Get("k")
	require.NoError(err)
	require.Equal(1, v)
}

func TestBoltBackend(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, Bolt, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("docs", nil)
		require.NoError(err)
		require.NoError(st.CreateIndex("val", keypath.New("val"), store.IndexOptions{}))
	})

	require.NoError(st.Put("a", map[string]interface{}{"val": float64(1)}))
	require.NoError(st.Put("b", map[string]interface{}{"val": float64(2)}))

	ix, err := st.Index("val")
	require.NoError(err)
	maxKeys, err := ix.MaxKeys(nil)
	require.NoError(err)
	require.Equal([]string{"b"}, maxKeys)
}

func TestPebbleBackend(t *testing.T) {
	require := require.New(t)

	var st *store.ObjectStore
	connected(t, t.TempDir(), 1, Pebble, func(db *Database) {
		var err error
		st, err = db.CreateObjectStore("docs", nil)
		require.NoError(err)
	})

	require.NoError(st.Put("k", "v"))
	keys, err := st.Keys(nil, 0)
	require.NoError(err)
	require.Equal([]string{"k"}, keys)
}

func TestStructuralOpsWhileConnected(t *testing.T) {
	require := require.New(t)

	db := connected(t, t.TempDir(), 1, LevelDB, nil)

	_, err := db.CreateObjectStore("late", nil)
	require.ErrorIs(err, jdb.ErrConnected)
	require.ErrorIs(db.DeleteObjectStore("late", nil), jdb.ErrConnected)
}

func TestDestroy(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	db := New(dir, 1, nil)
	st, err := db.CreateObjectStore("docs", nil)
	require.NoError(err)
	require.NoError(db.Connect())
	require.NoError(st.Put("k", "v"))
	require.NoError(db.Destroy())

	// a fresh database starts empty
	db = New(dir, 1, nil)
	st, err = db.CreateObjectStore("docs", nil)
	require.NoError(err)
	require.NoError(db.Connect())
	defer db.Close()
	v, err := st.Get("k")
	require.NoError(err)
	require.Nil(v)
}
