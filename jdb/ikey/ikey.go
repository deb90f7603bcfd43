// Package ikey encodes index keys into byte strings whose lexicographic
// order matches the key order of the original values. Supported key types
// are numbers, strings and arrays of keys; numbers sort before strings,
// strings before arrays.
package ikey

import (
	"encoding/binary"
	"errors"
	"math"
)

// Type tags. The tag is the first byte of every encoded key.
const (
	tagNumber = 0x10
	tagString = 0x20
	tagArray  = 0x30
)

var (
	// ErrUnsupportedKey is returned for values that cannot serve as index keys.
	ErrUnsupportedKey = errors.New("ikey: unsupported key type")
	// ErrCorruptedKey is returned when decoding malformed key bytes.
	ErrCorruptedKey = errors.New("ikey: corrupted key")
)

// Encode converts a key value into its order-preserving byte form.
// Key values extracted from records that are not of a supported type
// must be skipped by the caller, so an error here is expected flow.
func Encode(v interface{}) ([]byte, error) {
	switch k := v.(type) {
	case float64:
		return encodeNumber(k), nil
	case float32:
		return encodeNumber(float64(k)), nil
	case int:
		return encodeNumber(float64(k)), nil
	case int8:
		return encodeNumber(float64(k)), nil
	case int16:
		return encodeNumber(float64(k)), nil
	case int32:
		return encodeNumber(float64(k)), nil
	case int64:
		return encodeNumber(float64(k)), nil
	case uint:
		return encodeNumber(float64(k)), nil
	case uint8:
		return encodeNumber(float64(k)), nil
	case uint16:
		return encodeNumber(float64(k)), nil
	case uint32:
		return encodeNumber(float64(k)), nil
	case uint64:
		return encodeNumber(float64(k)), nil
	case string:
		res := make([]byte, 0, 1+len(k))
		res = append(res, tagString)
		return append(res, k...), nil
	case []interface{}:
		res := []byte{tagArray}
		for _, el := range k {
			enc, err := Encode(el)
			if err != nil {
				return nil, err
			}
			res = append(res, escape(enc)...)
			res = append(res, 0x00, 0x01)
		}
		return res, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// Decode converts encoded key bytes back into the key value.
// Numbers always decode as float64.
func Decode(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, ErrCorruptedKey
	}
	switch b[0] {
	case tagNumber:
		if len(b) != 9 {
			return nil, ErrCorruptedKey
		}
		return decodeNumber(b[1:]), nil
	case tagString:
		return string(b[1:]), nil
	case tagArray:
		res := make([]interface{}, 0)
		rest := b[1:]
		for len(rest) > 0 {
			enc, tail, err := splitEscaped(rest)
			if err != nil {
				return nil, err
			}
			el, err := Decode(enc)
			if err != nil {
				return nil, err
			}
			res = append(res, el)
			rest = tail
		}
		return res, nil
	default:
		return nil, ErrCorruptedKey
	}
}

// Compare orders two key values. It panics on unsupported types; use it
// only on values already accepted by Encode.
func Compare(a, b interface{}) int {
	ea, err := Encode(a)
	if err != nil {
		panic(err)
	}
	eb, err := Encode(b)
	if err != nil {
		panic(err)
	}
	return BytesCompare(ea, eb)
}

// BytesCompare provides a basic comparison on []byte.
func BytesCompare(a, b []byte) int {
	min := len(b)
	if len(a) < len(b) {
		min = len(a)
	}
	diff := 0
	for i := 0; i < min && diff == 0; i++ {
		diff = int(a[i]) - int(b[i])
	}
	if diff == 0 {
		diff = len(a) - len(b)
	}
	if diff < 0 {
		return -1
	}
	if diff > 0 {
		return 1
	}
	return 0
}

// Successor returns the smallest byte string strictly greater than b.
func Successor(b []byte) []byte {
	res := make([]byte, 0, len(b)+1)
	res = append(res, b...)
	return append(res, 0x00)
}

// encodeNumber maps a float64 onto 8 bytes whose lexicographic order
// matches the numeric order. The sign bit is flipped for non-negative
// values; negative values are complemented entirely.
func encodeNumber(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	res := make([]byte, 9)
	res[0] = tagNumber
	binary.BigEndian.PutUint64(res[1:], bits)
	return res
}

func decodeNumber(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

/*
 * Composite entries
 *
 * An index table entry combines an encoded secondary key and a primary key
 * into a single byte string ordered by (secondary, primary). Zero bytes of
 * the secondary part are escaped as 0x00 0xff and the part is closed with
 * the terminator 0x00 0x01, which sorts below every escaped byte and every
 * plain byte >= 0x01 of a longer secondary key.
 */

// escape follows every zero byte with 0xff so that the terminator stays
// unambiguous.
func escape(b []byte) []byte {
	n := 0
	for _, c := range b {
		if c == 0x00 {
			n++
		}
	}
	if n == 0 {
		return b
	}
	res := make([]byte, 0, len(b)+n)
	for _, c := range b {
		res = append(res, c)
		if c == 0x00 {
			res = append(res, 0xff)
		}
	}
	return res
}

// splitEscaped cuts the first escaped-and-terminated chunk off b.
func splitEscaped(b []byte) (chunk, rest []byte, err error) {
	res := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			res = append(res, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, ErrCorruptedKey
		}
		switch b[i+1] {
		case 0xff:
			res = append(res, 0x00)
			i++
		case 0x01:
			return res, b[i+2:], nil
		default:
			return nil, nil, ErrCorruptedKey
		}
	}
	return nil, nil, ErrCorruptedKey
}

// EncodeEntry builds the composite (secondary, primary) entry key.
// The secondary part must already be in encoded form.
func EncodeEntry(secondary []byte, primary string) []byte {
	esc := escape(secondary)
	res := make([]byte, 0, len(esc)+2+len(primary))
	res = append(res, esc...)
	res = append(res, 0x00, 0x01)
	return append(res, primary...)
}

// DecodeEntry splits a composite entry key back into its parts.
func DecodeEntry(entry []byte) (secondary []byte, primary string, err error) {
	sec, rest, err := splitEscaped(entry)
	if err != nil {
		return nil, "", err
	}
	return sec, string(rest), nil
}

// EntryFamilyStart returns the smallest composite entry key whose
// secondary part equals secondary.
func EntryFamilyStart(secondary []byte) []byte {
	esc := escape(secondary)
	res := make([]byte, 0, len(esc)+2)
	res = append(res, esc...)
	return append(res, 0x00, 0x01)
}

// EntryFamilyEnd returns the exclusive upper bound of all composite entry
// keys whose secondary part equals secondary.
func EntryFamilyEnd(secondary []byte) []byte {
	esc := escape(secondary)
	res := make([]byte, 0, len(esc)+2)
	res = append(res, esc...)
	return append(res, 0x00, 0x02)
}
