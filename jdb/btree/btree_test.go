package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func filled(n int) *Tree {
	t := New()
	for i := 0; i < n; i++ {
		t.Insert([]byte(fmt.Sprintf("key%02d", i)), i)
	}
	return t
}

func TestInsertRemove(t *testing.T) {
	require := require.New(t)

	tree := New()
	require.True(tree.Insert([]byte("a"), 1))
	require.False(tree.Insert([]byte("a"), 2), "duplicate insert must fail")
	require.Equal(1, tree.Len())

	rec, ok := tree.Get([]byte("a"))
	require.True(ok)
	require.Equal(1, rec)

	require.False(tree.Remove([]byte("missing")))
	require.True(tree.Remove([]byte("a")))
	require.Equal(0, tree.Len())
}

func TestRemoveAdvancesCursor(t *testing.T) {
	require := require.New(t)

	tree := filled(5)
	require.True(tree.Seek([]byte("key02"), NearNone))
	require.True(tree.Remove([]byte("key02")))
	require.Equal([]byte("key03"), tree.CurrentKey())

	// removing the greatest key leaves no cursor
	require.True(tree.Remove([]byte("key04")))
	require.Nil(tree.CurrentKey())
}

func TestSeek(t *testing.T) {
	require := require.New(t)

	tree := filled(5)

	require.True(tree.Seek([]byte("key03"), NearNone))
	require.Equal([]byte("key03"), tree.CurrentKey())
	require.Equal(3, tree.CurrentRecord())

	require.False(tree.Seek([]byte("key025"), NearNone))

	require.True(tree.Seek([]byte("key025"), NearLE))
	require.Equal([]byte("key02"), tree.CurrentKey())

	require.True(tree.Seek([]byte("key025"), NearGE))
	require.Equal([]byte("key03"), tree.CurrentKey())

	require.False(tree.Seek([]byte("zzz"), NearGE))
	require.False(tree.Seek([]byte("aaa"), NearLE))
}

func TestSkip(t *testing.T) {
	require := require.New(t)

	tree := filled(10)
	require.True(tree.GoTop())
	require.Equal([]byte("key00"), tree.CurrentKey())

	require.True(tree.Skip(3))
	require.Equal([]byte("key03"), tree.CurrentKey())

	require.True(tree.Skip(-2))
	require.Equal([]byte("key01"), tree.CurrentKey())

	require.False(tree.Skip(100))
	require.Nil(tree.CurrentKey())

	require.True(tree.GoBottom())
	require.Equal([]byte("key09"), tree.CurrentKey())
	require.False(tree.Skip(1))
}

func TestGotoKeynum(t *testing.T) {
	require := require.New(t)

	tree := filled(10)
	require.True(tree.Goto(4))
	require.Equal([]byte("key04"), tree.CurrentKey())
	require.Equal(4, tree.Keynum())

	require.True(tree.GoTop())
	require.Equal(0, tree.Keynum())

	require.True(tree.GoBottom())
	require.Equal(9, tree.Keynum())
}

func TestBounds(t *testing.T) {
	require := require.New(t)

	tree := filled(5)

	require.True(tree.GoToLowerBound([]byte("key02"), false))
	require.Equal([]byte("key02"), tree.CurrentKey())

	require.True(tree.GoToLowerBound([]byte("key02"), true))
	require.Equal([]byte("key03"), tree.CurrentKey())

	require.True(tree.GoToUpperBound([]byte("key02"), false))
	require.Equal([]byte("key02"), tree.CurrentKey())

	require.True(tree.GoToUpperBound([]byte("key02"), true))
	require.Equal([]byte("key01"), tree.CurrentKey())

	require.False(tree.GoToLowerBound([]byte("zzz"), false))
	require.False(tree.GoToUpperBound([]byte("aaa"), false))
}

func TestPack(t *testing.T) {
	require := require.New(t)

	tree := filled(32)
	tree.Pack()
	require.Equal(32, tree.Len())
	require.True(tree.GoTop())
	require.Equal([]byte("key00"), tree.CurrentKey())
}

func TestIterator(t *testing.T) {
	require := require.New(t)

	tree := filled(5)

	collect := func(start, limit []byte, reverse bool) []string {
		var keys []string
		it := tree.NewIterator(start, limit, reverse)
		defer it.Release()
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		return keys
	}

	require.Equal([]string{"key00", "key01", "key02", "key03", "key04"}, collect(nil, nil, false))
	require.Equal([]string{"key04", "key03", "key02", "key01", "key00"}, collect(nil, nil, true))
	require.Equal([]string{"key01", "key02"}, collect([]byte("key01"), []byte("key03"), false))
	require.Equal([]string{"key02", "key01"}, collect([]byte("key01"), []byte("key03"), true))
	require.Empty(collect([]byte("x"), nil, false))
	require.Empty(collect(nil, []byte("a"), true))
}

func TestIteratorIndependentOfCursor(t *testing.T) {
	require := require.New(t)

	tree := filled(3)
	require.True(tree.Seek([]byte("key01"), NearNone))

	it := tree.NewIterator(nil, nil, false)
	for it.Next() {
	}
	it.Release()

	require.Equal([]byte("key01"), tree.CurrentKey())
}
