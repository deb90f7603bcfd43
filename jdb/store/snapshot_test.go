package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotPinsState(t *testing.T) {
	require := require.New(t)

	s := volatileStore(t)
	fillStore(t, s, 3)

	snap, err := s.Snapshot()
	require.NoError(err)

	// later commits do not leak into the snapshot
	require.NoError(s.Put("key0", "rewritten"))
	require.NoError(s.Remove("key1"))

	v, err := snap.Get("key0")
	require.NoError(err)
	require.Equal("value0", v)
	v, err = snap.Get("key1")
	require.NoError(err)
	require.Equal("value1", v)

	n, err := snap.Count(nil)
	require.NoError(err)
	require.Equal(3, n)

	require.NoError(snap.Abort())
	require.Equal(StateAborted, snap.State())

	// the store itself observes the commits
	v, err = s.Get("key0")
	require.NoError(err)
	require.Equal("rewritten", v)
}

func TestSnapshotReleasesChain(t *testing.T) {
	require := require.New(t)

	s := volatileStore(t)
	snap, err := s.Snapshot()
	require.NoError(err)

	tx, err := s.Transaction()
	require.NoError(err)
	require.NoError(tx.Put("k", "v"))
	ok, err := tx.Commit()
	require.NoError(err)
	require.True(ok)

	// pinned by the snapshot
	require.Equal(StateCommitted, tx.State())

	require.NoError(snap.Abort())
	require.Equal(StateFlushed, tx.State())
}

func TestTransactionSnapshot(t *testing.T) {
	require := require.New(t)

	s := volatileStore(t)
	require.NoError(s.Put("base", 1))

	tx, err := s.Transaction()
	require.NoError(err)
	require.NoError(tx.Put("buffered", 2))

	snap := tx.Snapshot()

	// the snapshot captured the transaction's state at creation
	require.NoError(tx.Put("later", 3))
	v, err := snap.Get("buffered")
	require.NoError(err)
	require.Equal(2, v)
	v, err = snap.Get("later")
	require.NoError(err)
	require.Nil(v)
	v, err = snap.Get("base")
	require.NoError(err)
	require.Equal(1, v)

	// the snapshot outlives the transaction
	require.NoError(tx.Abort())
	v, err = snap.Get("buffered")
	require.NoError(err)
	require.Equal(2, v)

	require.NoError(snap.Abort())
}
