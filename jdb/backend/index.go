package backend

import (
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/ikey"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
	"github.com/nimiq-network/jungle-db/jdb/table"
)

// persistentIndex adapts one index table to the index contract. Entries
// are composite (secondary, primary) keys with empty values, so the raw
// key order is exactly the (secondary, primary) order.
type persistentIndex struct {
	jdb.IndexOps

	def     jdb.IndexDef
	tbl     jdb.KVStore // composite entry keys
	backend *Backend
}

func newPersistentIndex(b *Backend, def jdb.IndexDef) *persistentIndex {
	ix := &persistentIndex{
		def:     def,
		tbl:     table.New(b.store, []byte("i/"+def.Name+"/")),
		backend: b,
	}
	ix.IndexOps = jdb.IndexOps{Source: ix, Lookup: b}
	return ix
}

func (ix *persistentIndex) Definition() jdb.IndexDef { return ix.def }

type persistentIndexIterator struct {
	inner     jdb.Iterator
	secondary []byte
	primary   string
	err       error
}

// NewIterator iterates the (secondary, primary) entries inside r.
func (ix *persistentIndex) NewIterator(ascending bool, r *keyrange.KeyRange) jdb.IndexIterator {
	start, limit, err := jdb.EntryBounds(r)
	if err != nil {
		return jdb.NewErrIndexIterator(err)
	}
	return &persistentIndexIterator{inner: ix.tbl.NewIterator(start, limit, !ascending)}
}

func (it *persistentIndexIterator) Next() bool {
	if it.err != nil || !it.inner.Next() {
		return false
	}
	it.secondary, it.primary, it.err = ikey.DecodeEntry(it.inner.Key())
	return it.err == nil
}

func (it *persistentIndexIterator) SecondaryKey() []byte { return it.secondary }

func (it *persistentIndexIterator) PrimaryKey() string { return it.primary }

func (it *persistentIndexIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

func (it *persistentIndexIterator) Release() { it.inner.Release() }

/*
 * Staging
 */

// stagedIndices accumulates the index maintenance of one change set into a
// root batch. Unique-index validation runs against the stored entries with
// the staged removals and additions taken into account, so a secondary key
// may move between primaries within one change set.
type stagedIndices struct {
	backend *Backend

	batches map[string]jdb.Batch
	removed map[string]map[string]struct{} // index -> removed composite keys
	added   map[string]map[string]string   // index -> secondary -> primary
}

func newStagedIndices(b *Backend, rootBatch jdb.Batch) *stagedIndices {
	s := &stagedIndices{
		backend: b,
		batches: make(map[string]jdb.Batch, len(b.indices)),
		removed: make(map[string]map[string]struct{}, len(b.indices)),
		added:   make(map[string]map[string]string, len(b.indices)),
	}
	for name, ix := range b.indices {
		s.batches[name] = ix.tbl.(*table.Table).WrapBatch(b.store.WrapBatch(rootBatch))
		s.removed[name] = make(map[string]struct{})
		s.added[name] = make(map[string]string)
	}
	return s
}

// truncate stages the deletion of every stored entry of every index.
func (s *stagedIndices) truncate() error {
	for name, ix := range s.backend.indices {
		it := ix.tbl.NewIterator(nil, nil, false)
		for it.Next() {
			if err := s.batches[name].Delete(it.Key()); err != nil {
				it.Release()
				return err
			}
			s.removed[name][string(it.Key())] = struct{}{}
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// removeEntries stages the removal of every entry old contributed for key.
func (s *stagedIndices) removeEntries(key string, old interface{}) error {
	if old == nil {
		return nil
	}
	for name, ix := range s.backend.indices {
		for _, sec := range jdb.SecondaryKeys(ix.def, old) {
			entry := ikey.EncodeEntry(sec, key)
			if err := s.batches[name].Delete(entry); err != nil {
				return err
			}
			s.removed[name][string(entry)] = struct{}{}
		}
	}
	return nil
}

// addEntries stages the entries value contributes for key, enforcing
// unique indices.
func (s *stagedIndices) addEntries(key string, value interface{}) error {
	for name, ix := range s.backend.indices {
		for _, sec := range jdb.SecondaryKeys(ix.def, value) {
			if ix.def.Unique {
				if err := s.checkVacant(ix, sec, key); err != nil {
					return err
				}
				s.added[name][string(sec)] = key
			}
			if err := s.batches[name].Put(ikey.EncodeEntry(sec, key), []byte{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkVacant verifies that no primary other than key holds sec on a
// unique index, looking at stored entries minus staged removals plus
// staged additions.
func (s *stagedIndices) checkVacant(ix *persistentIndex, sec []byte, key string) error {
	if holder, ok := s.added[ix.def.Name][string(sec)]; ok && holder != key {
		return s.violation(ix, sec, key, holder)
	}
	it := ix.tbl.NewIterator(ikey.EntryFamilyStart(sec), ikey.EntryFamilyEnd(sec), false)
	defer it.Release()
	for it.Next() {
		if _, gone := s.removed[ix.def.Name][string(it.Key())]; gone {
			continue
		}
		_, primary, err := ikey.DecodeEntry(it.Key())
		if err != nil {
			return err
		}
		if primary != key {
			return s.violation(ix, sec, key, primary)
		}
	}
	return it.Error()
}

func (s *stagedIndices) violation(ix *persistentIndex, sec []byte, key, holder string) error {
	decoded, _ := ikey.Decode(sec)
	return &jdb.UniquenessViolationError{
		Index:     ix.def.Name,
		Secondary: decoded,
		Primary:   key,
		Existing:  holder,
	}
}
