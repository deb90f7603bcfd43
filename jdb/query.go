package jdb

import "github.com/nimiq-network/jungle-db/jdb/keyrange"

// Query composes an index name with a key range and resolves against any
// Reader. Resolving a query whose index does not exist fails with
// ErrUnknownIndex.
type Query struct {
	index string
	r     *keyrange.KeyRange
}

// Eq matches records whose secondary key equals v.
func Eq(index string, v interface{}) *Query {
	return &Query{index: index, r: keyrange.Only(v)}
}

// Within matches records whose secondary key lies in [lower, upper].
func Within(index string, lower, upper interface{}) *Query {
	return &Query{index: index, r: keyrange.Bound(lower, upper, false, false)}
}

// Range matches records whose secondary key lies between lower and upper
// with the given bound openness.
func Range(index string, lower, upper interface{}, lowerOpen, upperOpen bool) *Query {
	return &Query{index: index, r: keyrange.Bound(lower, upper, lowerOpen, upperOpen)}
}

// IndexName returns the name of the index the query resolves against.
func (q *Query) IndexName() string { return q.index }

// KeyRange returns the range of the query.
func (q *Query) KeyRange() *keyrange.KeyRange { return q.r }

func (q *Query) Keys(rd Reader, limit int) ([]string, error) {
	ix, err := rd.Index(q.index)
	if err != nil {
		return nil, err
	}
	return ix.Keys(q.r, limit)
}

func (q *Query) Values(rd Reader, limit int) ([]interface{}, error) {
	ix, err := rd.Index(q.index)
	if err != nil {
		return nil, err
	}
	return ix.Values(q.r, limit)
}

func (q *Query) Count(rd Reader) (int, error) {
	ix, err := rd.Index(q.index)
	if err != nil {
		return 0, err
	}
	return ix.Count(q.r)
}

func (q *Query) KeyStream(rd Reader, fn func(secondary interface{}, primary string) bool, ascending bool) error {
	ix, err := rd.Index(q.index)
	if err != nil {
		return err
	}
	return ix.KeyStream(fn, ascending, q.r)
}

func (q *Query) ValueStream(rd Reader, fn func(value interface{}, primary string) bool, ascending bool) error {
	ix, err := rd.Index(q.index)
	if err != nil {
		return err
	}
	return ix.ValueStream(fn, ascending, q.r)
}
