package store

import (
	"github.com/nimiq-network/jungle-db/jdb"
	"github.com/nimiq-network/jungle-db/jdb/ikey"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

func newUniquenessViolation(index string, sec []byte, primary, existing string) error {
	decoded, _ := ikey.Decode(sec)
	return &jdb.UniquenessViolationError{
		Index:     index,
		Secondary: decoded,
		Primary:   primary,
		Existing:  existing,
	}
}

// indexHolder returns the primary key holding the encoded secondary key in
// the given index view, if any.
func indexHolder(view jdb.Index, sec []byte) (string, bool, error) {
	decoded, err := ikey.Decode(sec)
	if err != nil {
		return "", false, err
	}
	it := view.NewIterator(true, keyrange.Only(decoded))
	defer it.Release()
	if !it.Next() {
		return "", false, it.Error()
	}
	return it.PrimaryKey(), true, it.Error()
}

// validateUnique checks that applying the change set to the backend keeps
// every unique index single-valued. It runs before any backend write, so a
// violation aborts cleanly.
func validateUnique(b jdb.Backend, cs *jdb.ChangeSet) error {
	for _, name := range b.IndexNames() {
		ix, err := b.Index(name)
		if err != nil {
			return err
		}
		def := ix.Definition()
		if !def.Unique {
			continue
		}
		claimed := make(map[string]string)
		for key, value := range cs.Modified {
			for _, sec := range jdb.SecondaryKeys(def, value) {
				if holder, taken := claimed[string(sec)]; taken && holder != key {
					return newUniquenessViolation(name, sec, key, holder)
				}
				claimed[string(sec)] = key
				if cs.Truncated {
					continue
				}
				holder, held, err := indexHolder(ix, sec)
				if err != nil {
					return err
				}
				if !held || holder == key {
					continue
				}
				if _, vacated := cs.Removed[holder]; vacated {
					continue
				}
				if replacement, rewritten := cs.Modified[holder]; rewritten {
					stillHolds := false
					for _, ns := range jdb.SecondaryKeys(def, replacement) {
						if string(ns) == string(sec) {
							stillHolds = true
							break
						}
					}
					if !stillHolds {
						continue
					}
				}
				return newUniquenessViolation(name, sec, key, holder)
			}
		}
	}
	return nil
}
