// Package keypath extracts secondary keys from tree-shaped record values.
package keypath

import "strings"

// KeyPath addresses an attribute inside a record, either by a single
// attribute name or by a chain of names.
type KeyPath []string

// New builds a key path from attribute names.
func New(attrs ...string) KeyPath {
	return KeyPath(attrs)
}

// Parse splits a dotted path like "a.b" into a key path.
func Parse(path string) KeyPath {
	return KeyPath(strings.Split(path, "."))
}

func (p KeyPath) String() string {
	return strings.Join(p, ".")
}

// Extract resolves the path against a record value. A missing attribute at
// any depth yields ok=false; records of the wrong shape are not an error,
// they are simply not indexed.
func (p KeyPath) Extract(value interface{}) (interface{}, bool) {
	current := value
	for _, attr := range p {
		obj, isObj := current.(map[string]interface{})
		if !isObj {
			return nil, false
		}
		next, exists := obj[attr]
		if !exists {
			return nil, false
		}
		current = next
	}
	return current, true
}
