package store

import (
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// Snapshot is a long-lived read view pinned to a committed state. It keeps
// that state's transactions in memory until aborted, so abort it as soon
// as the view is no longer needed.
type Snapshot struct {
	inner *Transaction
}

var _ jdb.Reader = (*Snapshot)(nil)

// Abort releases the snapshot's reference on the committed chain.
func (s *Snapshot) Abort() error {
	return s.inner.Abort()
}

// State returns the snapshot's lifecycle state.
func (s *Snapshot) State() State { return s.inner.State() }

func (s *Snapshot) Get(key string) (interface{}, error) { return s.inner.Get(key) }

func (s *Snapshot) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.EntryIterator {
	return s.inner.NewIterator(ascending, r)
}

func (s *Snapshot) Keys(r *keyrange.KeyRange, limit int) ([]string, error) {
	return s.inner.Keys(r, limit)
}

func (s *Snapshot) Values(r *keyrange.KeyRange, limit int) ([]interface{}, error) {
	return s.inner.Values(r, limit)
}

func (s *Snapshot) MinKey(r *keyrange.KeyRange) (string, bool, error) { return s.inner.MinKey(r) }

func (s *Snapshot) MaxKey(r *keyrange.KeyRange) (string, bool, error) { return s.inner.MaxKey(r) }

func (s *Snapshot) MinValue(r *keyrange.KeyRange) (interface{}, bool, error) {
	return s.inner.MinValue(r)
}

func (s *Snapshot) MaxValue(r *keyrange.KeyRange) (interface{}, bool, error) {
	return s.inner.MaxValue(r)
}

func (s *Snapshot) Count(r *keyrange.KeyRange) (int, error) { return s.inner.Count(r) }

func (s *Snapshot) KeyStream(fn func(key string) bool, ascending bool, r *keyrange.KeyRange) error {
	return s.inner.KeyStream(fn, ascending, r)
}

func (s *Snapshot) ValueStream(fn func(value interface{}, key string) bool, ascending bool, r *keyrange.KeyRange) error {
	return s.inner.ValueStream(fn, ascending, r)
}

func (s *Snapshot) Index(name string) (jdb.Index, error) { return s.inner.Index(name) }

func (s *Snapshot) IndexNames() []string { return s.inner.IndexNames() }
