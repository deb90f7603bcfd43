package jdb

import "github.com/nimiq-network/jungle-db/jdb/keyrange"

// IteratorSource produces range iterators over decoded records.
type IteratorSource interface {
	NewIterator(ascending bool, r *keyrange.KeyRange) EntryIterator
}

// ReaderOps derives the full Reader scan surface from an IteratorSource.
// Store implementations embed it and provide only Get and NewIterator.
type ReaderOps struct {
	Source IteratorSource
}

func (o ReaderOps) Keys(r *keyrange.KeyRange, limit int) ([]string, error) {
	keys := []string{}
	it := o.Source.NewIterator(true, r)
	defer it.Release()
	for it.Next() {
		keys = append(keys, it.Key())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, it.Error()
}

func (o ReaderOps) Values(r *keyrange.KeyRange, limit int) ([]interface{}, error) {
	values := []interface{}{}
	it := o.Source.NewIterator(true, r)
	defer it.Release()
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if limit > 0 && len(values) >= limit {
			break
		}
	}
	return values, it.Error()
}

func (o ReaderOps) MinKey(r *keyrange.KeyRange) (string, bool, error) {
	return o.edgeKey(true, r)
}

func (o ReaderOps) MaxKey(r *keyrange.KeyRange) (string, bool, error) {
	return o.edgeKey(false, r)
}

func (o ReaderOps) edgeKey(ascending bool, r *keyrange.KeyRange) (string, bool, error) {
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	if !it.Next() {
		return "", false, it.Error()
	}
	return it.Key(), true, it.Error()
}

func (o ReaderOps) MinValue(r *keyrange.KeyRange) (interface{}, bool, error) {
	return o.edgeValue(true, r)
}

func (o ReaderOps) MaxValue(r *keyrange.KeyRange) (interface{}, bool, error) {
	return o.edgeValue(false, r)
}

func (o ReaderOps) edgeValue(ascending bool, r *keyrange.KeyRange) (interface{}, bool, error) {
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	if !it.Next() {
		return nil, false, it.Error()
	}
	v, err := it.Value()
	if err != nil {
		return nil, false, err
	}
	return v, true, it.Error()
}

func (o ReaderOps) Count(r *keyrange.KeyRange) (int, error) {
	n := 0
	it := o.Source.NewIterator(true, r)
	defer it.Release()
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (o ReaderOps) KeyStream(fn func(key string) bool, ascending bool, r *keyrange.KeyRange) error {
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	for it.Next() {
		if !fn(it.Key()) {
			break
		}
	}
	return it.Error()
}

func (o ReaderOps) ValueStream(fn func(value interface{}, key string) bool, ascending bool, r *keyrange.KeyRange) error {
	it := o.Source.NewIterator(ascending, r)
	defer it.Release()
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return err
		}
		if !fn(v, it.Key()) {
			break
		}
	}
	return it.Error()
}
