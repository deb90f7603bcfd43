package leveldb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimiq-network/jungle-db/jdb"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(t.TempDir(), 0, 0, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fill(t *testing.T, db jdb.KVStore) {
	t.Helper()
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Put([]byte(k), []byte("v-"+k)))
	}
}

func TestBasicOps(t *testing.T) {
	require := require.New(t)

	db := tempDB(t)

	v, err := db.Get([]byte("missing"))
	require.NoError(err)
	require.Nil(v)

	require.NoError(db.Put([]byte("k"), []byte("v")))
	has, err := db.Has([]byte("k"))
	require.NoError(err)
	require.True(has)

	v, err = db.Get([]byte("k"))
	require.NoError(err)
	require.Equal([]byte("v"), v)

	require.NoError(db.Delete([]byte("k")))
	has, err = db.Has([]byte("k"))
	require.NoError(err)
	require.False(has)
}

func collect(t *testing.T, it jdb.Iterator) []string {
	t.Helper()
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	return keys
}

func TestIterator(t *testing.T) {
	require := require.New(t)

	db := tempDB(t)
	fill(t, db)

	require.Equal([]string{"a", "b", "c", "d"}, collect(t, db.NewIterator(nil, nil, false)))
	require.Equal([]string{"d", "c", "b", "a"}, collect(t, db.NewIterator(nil, nil, true)))
	require.Equal([]string{"b", "c"}, collect(t, db.NewIterator([]byte("b"), []byte("d"), false)))
	require.Equal([]string{"c", "b"}, collect(t, db.NewIterator([]byte("b"), []byte("d"), true)))
}

func TestBatch(t *testing.T) {
	require := require.New(t)

	db := tempDB(t)
	require.NoError(db.Put([]byte("gone"), []byte("x")))

	batch := db.NewBatch()
	require.NoError(batch.Put([]byte("k1"), []byte("v1")))
	require.NoError(batch.Put([]byte("k2"), []byte("v2")))
	require.NoError(batch.Delete([]byte("gone")))
	require.True(batch.ValueSize() > 0)

	has, err := db.Has([]byte("k1"))
	require.NoError(err)
	require.False(has, "batched writes are invisible until Write")

	require.NoError(batch.Write())
	require.Equal([]string{"k1", "k2"}, collect(t, db.NewIterator(nil, nil, false)))

	batch.Reset()
	require.Equal(0, batch.ValueSize())
}
