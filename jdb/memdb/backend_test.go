package memdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/keypath"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

func record(val float64, b float64) map[string]interface{} {
	return map[string]interface{}{
		"val": val,
		"a":   map[string]interface{}{"b": b},
	}
}

func newIndexedBackend(t *testing.T) *Backend {
	t.Helper()
	b := New()
	require.NoError(t, b.CreateIndex(jdb.IndexDef{Name: "testIndex", KeyPath: keypath.New("val")}))
	require.NoError(t, b.CreateIndex(jdb.IndexDef{Name: "testIndex2", KeyPath: keypath.New("a", "b")}))
	return b
}

func TestIndexOverKeyPath(t *testing.T) {
	require := require.New(t)

	b := newIndexedBackend(t)
	require.NoError(b.Put("test", record(123, 1)))

	ix, err := b.Index("testIndex")
	require.NoError(err)
	keys, err := ix.Keys(keyrange.Only(float64(123)), 0)
	require.NoError(err)
	require.Equal([]string{"test"}, keys)

	ix2, err := b.Index("testIndex2")
	require.NoError(err)
	keys, err = ix2.Keys(keyrange.Only(float64(1)), 0)
	require.NoError(err)
	require.Equal([]string{"test"}, keys)

	maxKeys, err := ix.MaxKeys(nil)
	require.NoError(err)
	require.Equal([]string{"test"}, maxKeys)
}

func TestNonConformingValuesSkipped(t *testing.T) {
	require := require.New(t)

	b := newIndexedBackend(t)
	require.NoError(b.Put("test", record(123, 1)))
	require.NoError(b.Put("test2", "other"))

	ix2, err := b.Index("testIndex2")
	require.NoError(err)
	n, err := ix2.Count(nil)
	require.NoError(err)
	require.Equal(1, n)

	// the record itself is stored regardless
	v, err := b.Get("test2")
	require.NoError(err)
	require.Equal("other", v)
}

func TestUniqueIndex(t *testing.T) {
	require := require.New(t)

	b := New()
	require.NoError(b.CreateIndex(jdb.IndexDef{
		Name:    "depth",
		KeyPath: keypath.New("a", "b"),
		Unique:  true,
	}))

	require.NoError(b.Put("t1", record(0, 1)))

	err := b.Put("t2", record(0, 1))
	require.True(jdb.IsUniquenessViolation(err))

	// the failed put left no trace
	v, err := b.Get("t2")
	require.NoError(err)
	require.Nil(v)
	ix, _ := b.Index("depth")
	keys, err := ix.Keys(keyrange.Only(float64(1)), 0)
	require.NoError(err)
	require.Equal([]string{"t1"}, keys)

	// the holder itself may update its record
	require.NoError(b.Put("t1", record(7, 1)))
}

func TestMultiEntry(t *testing.T) {
	require := require.New(t)

	b := New()
	require.NoError(b.CreateIndex(jdb.IndexDef{
		Name:       "tags",
		KeyPath:    keypath.New("tags"),
		MultiEntry: true,
	}))

	require.NoError(b.Put("doc1", map[string]interface{}{
		"tags": []interface{}{"red", "blue"},
	}))
	require.NoError(b.Put("doc2", map[string]interface{}{
		"tags": []interface{}{"blue"},
	}))

	ix, err := b.Index("tags")
	require.NoError(err)

	keys, err := ix.Keys(keyrange.Only("blue"), 0)
	require.NoError(err)
	require.Equal([]string{"doc1", "doc2"}, keys)

	keys, err = ix.Keys(keyrange.Only("red"), 0)
	require.NoError(err)
	require.Equal([]string{"doc1"}, keys)

	// reindex drops stale entries
	require.NoError(b.Put("doc1", map[string]interface{}{
		"tags": []interface{}{"green"},
	}))
	keys, err = ix.Keys(keyrange.Only("red"), 0)
	require.NoError(err)
	require.Empty(keys)
}

func TestIndexMinMax(t *testing.T) {
	require := require.New(t)

	b := New()
	require.NoError(b.CreateIndex(jdb.IndexDef{Name: "val", KeyPath: keypath.New("val")}))

	// b and c tie for the min secondary key, z holds the max
	require.NoError(b.Put("c", map[string]interface{}{"val": float64(1)}))
	require.NoError(b.Put("b", map[string]interface{}{"val": float64(1)}))
	require.NoError(b.Put("z", map[string]interface{}{"val": float64(9)}))

	ix, err := b.Index("val")
	require.NoError(err)

	minKeys, err := ix.MinKeys(nil)
	require.NoError(err)
	require.Equal([]string{"b", "c"}, minKeys, "ties resolve in primary-key order")

	maxKeys, err := ix.MaxKeys(nil)
	require.NoError(err)
	require.Equal([]string{"z"}, maxKeys)

	minValues, err := ix.MinValues(nil)
	require.NoError(err)
	require.Len(minValues, 2)

	n, err := ix.Count(keyrange.Only(float64(1)))
	require.NoError(err)
	require.Equal(2, n)
}

func TestIndexStreams(t *testing.T) {
	require := require.New(t)

	b := New()
	require.NoError(b.CreateIndex(jdb.IndexDef{Name: "val", KeyPath: keypath.New("val")}))
	require.NoError(b.Put("a", map[string]interface{}{"val": float64(2)}))
	require.NoError(b.Put("b", map[string]interface{}{"val": float64(1)}))

	ix, err := b.Index("val")
	require.NoError(err)

	type pair struct {
		sec  interface{}
		prim string
	}
	var pairs []pair
	err = ix.KeyStream(func(secondary interface{}, primary string) bool {
		pairs = append(pairs, pair{secondary, primary})
		return true
	}, true, nil)
	require.NoError(err)
	require.Equal([]pair{{float64(1), "b"}, {float64(2), "a"}}, pairs)

	pairs = nil
	err = ix.KeyStream(func(secondary interface{}, primary string) bool {
		pairs = append(pairs, pair{secondary, primary})
		return false // early stop
	}, false, nil)
	require.NoError(err)
	require.Equal([]pair{{float64(2), "a"}}, pairs)
}

func TestPrimaryScans(t *testing.T) {
	require := require.New(t)

	b := New()
	for _, k := range []string{"test3", "test0", "test2", "test1"} {
		require.NoError(b.Put(k, k))
	}

	keys, err := b.Keys(keyrange.LowerBound("test2", false), 0)
	require.NoError(err)
	require.Equal([]string{"test2", "test3"}, keys)

	values, err := b.Values(keyrange.UpperBound("test1", false), 0)
	require.NoError(err)
	require.Equal([]interface{}{"test0", "test1"}, values)

	minKey, ok, err := b.MinKey(nil)
	require.NoError(err)
	require.True(ok)
	require.Equal("test0", minKey)

	maxKey, ok, err := b.MaxKey(nil)
	require.NoError(err)
	require.True(ok)
	require.Equal("test3", maxKey)

	n, err := b.Count(nil)
	require.NoError(err)
	require.Equal(4, n)

	var streamed []string
	require.NoError(b.KeyStream(func(key string) bool {
		streamed = append(streamed, key)
		return true
	}, false, nil))
	require.Equal([]string{"test3", "test2", "test1", "test0"}, streamed)
}

func TestCreateIndexBackfills(t *testing.T) {
	require := require.New(t)

	b := New()
	require.NoError(b.Put("test", record(123, 1)))
	require.NoError(b.Put("test2", "other"))

	require.NoError(b.CreateIndex(jdb.IndexDef{Name: "late", KeyPath: keypath.New("val")}))
	ix, err := b.Index("late")
	require.NoError(err)
	keys, err := ix.Keys(keyrange.Only(float64(123)), 0)
	require.NoError(err)
	require.Equal([]string{"test"}, keys)
}

func TestApplyChangeSet(t *testing.T) {
	require := require.New(t)

	b := New()
	require.NoError(b.CreateIndex(jdb.IndexDef{Name: "val", KeyPath: keypath.New("val"), Unique: true}))
	require.NoError(b.Put("a", map[string]interface{}{"val": float64(1)}))
	require.NoError(b.Put("b", map[string]interface{}{"val": float64(2)}))

	// a and b swap secondary keys within one change set
	cs := &jdb.ChangeSet{
		Modified: map[string]interface{}{
			"a": map[string]interface{}{"val": float64(2)},
			"b": map[string]interface{}{"val": float64(1)},
		},
		Removed: map[string]struct{}{},
	}
	require.NoError(b.Apply(cs))

	ix, _ := b.Index("val")
	keys, err := ix.Keys(keyrange.Only(float64(2)), 0)
	require.NoError(err)
	require.Equal([]string{"a"}, keys)

	// removals drop index entries
	cs = &jdb.ChangeSet{
		Modified: map[string]interface{}{},
		Removed:  map[string]struct{}{"a": {}},
	}
	require.NoError(b.Apply(cs))
	keys, err = ix.Keys(keyrange.Only(float64(2)), 0)
	require.NoError(err)
	require.Empty(keys)

	// truncation wipes everything
	cs = &jdb.ChangeSet{Truncated: true, Modified: map[string]interface{}{}, Removed: map[string]struct{}{}}
	require.NoError(b.Apply(cs))
	n, err := b.Count(nil)
	require.NoError(err)
	require.Equal(0, n)
}

func TestUnknownIndex(t *testing.T) {
	require := require.New(t)

	b := New()
	_, err := b.Index("nope")
	require.ErrorIs(err, jdb.ErrUnknownIndex)
}
