package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStoredValue_PlainRoundTrips(t *testing.T) {
	cols, err := decodeStoredValue(encodePlainValue([]byte("hello")))
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, DefaultColumnName, cols[0].Name)
	assert.Equal(t, []byte("hello"), cols[0].Value)
}

func TestDecodeStoredValue_EntityRoundTrips(t *testing.T) {
	in := WideColumns{{Name: "alpha", Value: []byte("a")}, {Name: "beta", Value: []byte("b")}}
	out, err := decodeStoredValue(encodeEntityValue(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeStoredValue_EmptyIsError(t *testing.T) {
	_, err := decodeStoredValue(nil)
	assert.Error(t, err)
}

func TestDecodeStoredValue_UnknownTagIsError(t *testing.T) {
	_, err := decodeStoredValue([]byte{0x7f, 1, 2, 3})
	assert.Error(t, err)
}

func TestWideColumns_ValidateRejectsReservedPrefix(t *testing.T) {
	err := WideColumns{{Name: "$foo"}}.Validate()
	assert.Error(t, err)
}

func TestWideColumns_ValidateAllowsDefaultColumnName(t *testing.T) {
	err := WideColumns{{Name: DefaultColumnName}}.Validate()
	assert.NoError(t, err)
}

func TestSortColumns_OrdersByName(t *testing.T) {
	cols := WideColumns{{Name: "z"}, {Name: "a"}, {Name: "m"}}
	SortColumns(cols)
	assert.Equal(t, []string{"a", "m", "z"}, []string{cols[0].Name, cols[1].Name, cols[2].Name})
}

func TestWideColumns_Find(t *testing.T) {
	cols := WideColumns{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, 1, cols.Find("b"))
	assert.Equal(t, -1, cols.Find("missing"))
}
