package ikey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeOrder(t *testing.T) {
	require := require.New(t)

	// listed in expected encoded order
	ordered := []interface{}{
		-1e12,
		-255.5,
		-1,
		0,
		0.5,
		1,
		42,
		255.5,
		1e12,
		"",
		"a",
		"a\x00b",
		"aa",
		"b",
		[]interface{}{},
		[]interface{}{float64(1)},
		[]interface{}{float64(1), "a"},
		[]interface{}{float64(2)},
		[]interface{}{"a"},
	}

	encoded := make([][]byte, len(ordered))
	for i, v := range ordered {
		enc, err := Encode(v)
		require.NoError(err, "%v", v)
		encoded[i] = enc
	}
	for i := 1; i < len(encoded); i++ {
		require.True(BytesCompare(encoded[i-1], encoded[i]) < 0,
			"%v should sort before %v", ordered[i-1], ordered[i])
	}
}

func TestEncodeUnsupported(t *testing.T) {
	require := require.New(t)

	_, err := Encode(true)
	require.ErrorIs(err, ErrUnsupportedKey)
	_, err = Encode(map[string]interface{}{})
	require.ErrorIs(err, ErrUnsupportedKey)
	_, err = Encode(nil)
	require.ErrorIs(err, ErrUnsupportedKey)
}

func TestDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, v := range []interface{}{
		float64(0),
		float64(-123.25),
		float64(1 << 40),
		"",
		"hello",
		"with\x00zero",
		[]interface{}{float64(1), "x", []interface{}{float64(2)}},
	} {
		enc, err := Encode(v)
		require.NoError(err)
		dec, err := Decode(enc)
		require.NoError(err)
		require.Equal(v, dec)
	}

	// integer inputs normalize to float64
	enc, err := Encode(7)
	require.NoError(err)
	dec, err := Decode(enc)
	require.NoError(err)
	require.Equal(float64(7), dec)
}

func TestEntryRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, c := range []struct {
		secondary interface{}
		primary   string
	}{
		{float64(1), "a"},
		{"sec", "primary-key"},
		{"with\x00zero", "p\x00k"},
		{[]interface{}{"x", float64(2)}, ""},
	} {
		sec, err := Encode(c.secondary)
		require.NoError(err)
		entry := EncodeEntry(sec, c.primary)
		gotSec, gotPrim, err := DecodeEntry(entry)
		require.NoError(err)
		require.Equal(sec, gotSec)
		require.Equal(c.primary, gotPrim)
	}
}

func TestEntryOrder(t *testing.T) {
	require := require.New(t)

	secA, _ := Encode("a")
	secAB, _ := Encode("ab")
	secB, _ := Encode("b")

	// entries order by secondary first, primary second
	entries := [][]byte{
		EncodeEntry(secA, "p1"),
		EncodeEntry(secA, "p2"),
		EncodeEntry(secAB, "p0"),
		EncodeEntry(secB, ""),
	}
	for i := 1; i < len(entries); i++ {
		require.True(BytesCompare(entries[i-1], entries[i]) < 0, "entry %d", i)
	}
}

func TestEntryFamilyBounds(t *testing.T) {
	require := require.New(t)

	sec, _ := Encode("key")
	other, _ := Encode("key2")

	inside := EncodeEntry(sec, "any")
	outside := EncodeEntry(other, "any")
	start, end := EntryFamilyStart(sec), EntryFamilyEnd(sec)

	require.True(BytesCompare(start, inside) <= 0)
	require.True(BytesCompare(inside, end) < 0)
	require.False(BytesCompare(start, outside) <= 0 && BytesCompare(outside, end) < 0)
}
