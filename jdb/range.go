package jdb

import (
	"github.com/nimiq-network/jungle-db/jdb/ikey"
	"github.com/nimiq-network/jungle-db/jdb/keyrange"
)

// PrimaryBounds converts a primary-key range into half-open raw bounds
// [start, limit). Primary bounds must be strings.
func PrimaryBounds(r *keyrange.KeyRange) (start, limit []byte, err error) {
	if lower, ok := r.Lower(); ok {
		s, isStr := lower.(string)
		if !isStr {
			return nil, nil, ErrKeyType
		}
		start = []byte(s)
		if r.LowerOpen() {
			start = ikey.Successor(start)
		}
	}
	if upper, ok := r.Upper(); ok {
		s, isStr := upper.(string)
		if !isStr {
			return nil, nil, ErrKeyType
		}
		limit = []byte(s)
		if !r.UpperOpen() {
			limit = ikey.Successor(limit)
		}
	}
	return start, limit, nil
}

// SecondaryBounds converts a secondary-key range into half-open bounds over
// encoded secondary keys.
func SecondaryBounds(r *keyrange.KeyRange) (start, limit []byte, err error) {
	if lower, ok := r.Lower(); ok {
		enc, err := ikey.Encode(lower)
		if err != nil {
			return nil, nil, ErrKeyType
		}
		start = enc
		if r.LowerOpen() {
			start = ikey.Successor(enc)
		}
	}
	if upper, ok := r.Upper(); ok {
		enc, err := ikey.Encode(upper)
		if err != nil {
			return nil, nil, ErrKeyType
		}
		limit = enc
		if !r.UpperOpen() {
			limit = ikey.Successor(enc)
		}
	}
	return start, limit, nil
}

// EntryBounds converts a secondary-key range into half-open bounds over
// composite (secondary, primary) entry keys.
func EntryBounds(r *keyrange.KeyRange) (start, limit []byte, err error) {
	if lower, ok := r.Lower(); ok {
		enc, err := ikey.Encode(lower)
		if err != nil {
			return nil, nil, ErrKeyType
		}
		if r.LowerOpen() {
			start = ikey.EntryFamilyEnd(enc)
		} else {
			start = ikey.EntryFamilyStart(enc)
		}
	}
	if upper, ok := r.Upper(); ok {
		enc, err := ikey.Encode(upper)
		if err != nil {
			return nil, nil, ErrKeyType
		}
		if r.UpperOpen() {
			limit = ikey.EntryFamilyStart(enc)
		} else {
			limit = ikey.EntryFamilyEnd(enc)
		}
	}
	return start, limit, nil
}
