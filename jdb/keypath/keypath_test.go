package keypath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	require := require.New(t)

	record := map[string]interface{}{
		"val": float64(123),
		"a": map[string]interface{}{
			"b": float64(1),
		},
	}

	v, ok := New("val").Extract(record)
	require.True(ok)
	require.Equal(float64(123), v)

	v, ok = New("a", "b").Extract(record)
	require.True(ok)
	require.Equal(float64(1), v)

	v, ok = New("a").Extract(record)
	require.True(ok)
	require.Equal(map[string]interface{}{"b": float64(1)}, v)
}

func TestExtractAbsent(t *testing.T) {
	require := require.New(t)

	record := map[string]interface{}{
		"a": map[string]interface{}{"b": float64(1)},
	}

	// missing attribute at any depth is absent, not an error
	_, ok := New("missing").Extract(record)
	require.False(ok)

	_, ok = New("a", "missing").Extract(record)
	require.False(ok)

	_, ok = New("a", "b", "deeper").Extract(record)
	require.False(ok)

	// non-object records are simply not indexed
	_, ok = New("a", "b").Extract("other")
	require.False(ok)

	_, ok = New("val").Extract(nil)
	require.False(ok)
}

func TestParse(t *testing.T) {
	require := require.New(t)

	require.Equal(New("a", "b"), Parse("a.b"))
	require.Equal(New("val"), Parse("val"))
	require.Equal("a.b", New("a", "b").String())
}
