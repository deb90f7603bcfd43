// Package keyrange describes inclusive/exclusive bounds over a key order.
package keyrange

import "github.com/nimiq-network/jungle-db/jdb/ikey"

// KeyRange is a pure bound descriptor. A nil *KeyRange means "everything".
// Bounds hold primary keys (strings) or secondary key values, depending on
// the index the range is resolved against.
type KeyRange struct {
	lower, upper         interface{}
	hasLower, hasUpper   bool
	lowerOpen, upperOpen bool
}

// Only matches exactly v.
func Only(v interface{}) *KeyRange {
	return &KeyRange{lower: v, upper: v, hasLower: true, hasUpper: true}
}

// LowerBound matches everything >= v, or > v if open.
func LowerBound(v interface{}, open bool) *KeyRange {
	return &KeyRange{lower: v, hasLower: true, lowerOpen: open}
}

// UpperBound matches everything <= v, or < v if open.
func UpperBound(v interface{}, open bool) *KeyRange {
	return &KeyRange{upper: v, hasUpper: true, upperOpen: open}
}

// Bound matches the interval between lower and upper.
func Bound(lower, upper interface{}, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{
		lower: lower, upper: upper,
		hasLower: true, hasUpper: true,
		lowerOpen: lowerOpen, upperOpen: upperOpen,
	}
}

// Lower returns the lower bound and whether one is set.
func (r *KeyRange) Lower() (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	return r.lower, r.hasLower
}

// Upper returns the upper bound and whether one is set.
func (r *KeyRange) Upper() (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	return r.upper, r.hasUpper
}

// LowerOpen reports whether the lower bound is exclusive.
func (r *KeyRange) LowerOpen() bool { return r != nil && r.lowerOpen }

// UpperOpen reports whether the upper bound is exclusive.
func (r *KeyRange) UpperOpen() bool { return r != nil && r.upperOpen }

// IncludesMin checks v against the lower bound only.
func (r *KeyRange) IncludesMin(v interface{}) bool {
	if r == nil || !r.hasLower {
		return true
	}
	c := ikey.Compare(v, r.lower)
	if r.lowerOpen {
		return c > 0
	}
	return c >= 0
}

// IncludesMax checks v against the upper bound only.
func (r *KeyRange) IncludesMax(v interface{}) bool {
	if r == nil || !r.hasUpper {
		return true
	}
	c := ikey.Compare(v, r.upper)
	if r.upperOpen {
		return c < 0
	}
	return c <= 0
}

// Includes reports whether v lies inside the range.
func (r *KeyRange) Includes(v interface{}) bool {
	return r.IncludesMin(v) && r.IncludesMax(v)
}
