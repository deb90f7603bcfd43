package jdb

import (
	"bytes"

	"github.com/nimiq-network/jungle-db/jdb/ikey"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// IndexIteratorSource produces range iterators over index entries.
type IndexIteratorSource interface {
	NewIterator(ascending bool, r *keyrange.KeyRange) IndexIterator
}

// ValueLookup resolves a primary key to its record.
type ValueLookup interface {
	Get(key string) (interface{}, error)
}

// IndexOps derives the full Index surface from an entry iterator source and
// a record lookup. Index implementations embed it and provide only
// Definition and NewIterator.
type IndexOps struct {
	Source IndexIteratorSource
	Lookup ValueLookup
}

// Keys returns the set of primary keys whose secondary key lies inside r.
// A record indexed under several secondary keys appears once.
func (o IndexOps) Keys(r *keyrange.KeyRange, limit int) ([]string, error) {
	keys := []string{}
	seen := make(map[string]struct{})
	it := o.Source.NewIterator(true, r)
	defer it.Release()
	for it.Next() {
		pk := it.PrimaryKey()
		if _, ok := seen[pk]; ok {
			continue
		}
		seen[pk] = struct{}{}
		keys = append(keys, pk)
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, it.Error()
}

func (o IndexOps) lookupAll(keys []string) ([]interface{}, error) {
	values := make([]interface{}, 0, len(keys))
	for _, pk := range keys {
		v, err := o.Lookup.Get(pk)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (o IndexOps) Values(r *keyrange.KeyRange, limit int) ([]interface{}, error) {
	keys, err := o.Keys(r, limit)
	if err != nil {
		return nil, err
	}
	return o.lookupAll(keys)
}

// edgeKeys collects the primary keys sharing the least (ascending) or
// greatest (descending) secondary key inside r, in primary-key order.
func (o IndexOps) edgeKeys(ascending bool, r *keyrange.KeyRange) ([]string, error) {
	keys := []string{}
	var edge []byte
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	for it.Next() {
		if edge == nil {
			edge = append([]byte{}, it.SecondaryKey()...)
		} else if !bytes.Equal(edge, it.SecondaryKey()) {
			break
		}
		keys = append(keys, it.PrimaryKey())
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if !ascending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return keys, nil
}

func (o IndexOps) MinKeys(r *keyrange.KeyRange) ([]string, error) {
	return o.edgeKeys(true, r)
}

func (o IndexOps) MaxKeys(r *keyrange.KeyRange) ([]string, error) {
	return o.edgeKeys(false, r)
}

func (o IndexOps) MinValues(r *keyrange.KeyRange) ([]interface{}, error) {
	keys, err := o.MinKeys(r)
	if err != nil {
		return nil, err
	}
	return o.lookupAll(keys)
}

func (o IndexOps) MaxValues(r *keyrange.KeyRange) ([]interface{}, error) {
	keys, err := o.MaxKeys(r)
	if err != nil {
		return nil, err
	}
	return o.lookupAll(keys)
}

// Count counts the distinct primary keys inside r.
func (o IndexOps) Count(r *keyrange.KeyRange) (int, error) {
	keys, err := o.Keys(r, 0)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (o IndexOps) KeyStream(fn func(secondary interface{}, primary string) bool, ascending bool, r *keyrange.KeyRange) error {
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	for it.Next() {
		secondary, err := ikey.Decode(it.SecondaryKey())
		if err != nil {
			return err
		}
		if !fn(secondary, it.PrimaryKey()) {
			break
		}
	}
	return it.Error()
}

func (o IndexOps) ValueStream(fn func(value interface{}, primary string) bool, ascending bool, r *keyrange.KeyRange) error {
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	for it.Next() {
		v, err := o.Lookup.Get(it.PrimaryKey())
		if err != nil {
			return err
		}
		if !fn(v, it.PrimaryKey()) {
			break
		}
	}
	return it.Error()
}
