package jdb

import "github.com/nimiq-network/jungle-db/jdb/ikey"

// SecondaryKeys extracts the encoded secondary keys a record contributes to
// an index. Records the key path does not resolve on, and key values of
// unsupported types, contribute nothing. For a multi-entry index an array
// value contributes one key per distinct element.
func SecondaryKeys(def IndexDef, value interface{}) [][]byte {
	raw, ok := def.KeyPath.Extract(value)
	if !ok {
		return nil
	}
	var candidates []interface{}
	if elements, isArr := raw.([]interface{}); isArr && def.MultiEntry {
		candidates = elements
	} else {
		candidates = []interface{}{raw}
	}
	seen := make(map[string]struct{}, len(candidates))
	keys := make([][]byte, 0, len(candidates))
	for _, c := range candidates {
		enc, err := ikey.Encode(c)
		if err != nil {
			continue
		}
		if _, dup := seen[string(enc)]; dup {
			continue
		}
		seen[string(enc)] = struct{}{}
		keys = append(keys, enc)
	}
	return keys
}
