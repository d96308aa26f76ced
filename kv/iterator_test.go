package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator_ForwardScanOrdersLexicographically(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cf, []byte("b"), []byte("2"), false))
	require.NoError(t, txn.Put(cf, []byte("a"), []byte("1"), false))
	require.NoError(t, txn.Put(cf, []byte("c"), []byte("3"), false))
	require.NoError(t, txn.Commit())

	it, err := db.NewIterator(cf)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.SeekGE(nil); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestIterator_SeekGESkipsToTarget(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cf, []byte("a"), []byte("1"), false))
	require.NoError(t, txn.Put(cf, []byte("b"), []byte("2"), false))
	require.NoError(t, txn.Commit())

	it, err := db.NewIterator(cf)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.SeekGE([]byte("b")))
	assert.Equal(t, "b", string(it.Key()))
	assert.Equal(t, []byte("2"), it.Value())
}

func TestIterator_ColumnsDecodesEntityValues(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.PutEntity(cf, []byte("k1"), WideColumns{{Name: "a", Value: []byte("1")}}, false))
	require.NoError(t, txn.Commit())

	it, err := db.NewIterator(cf)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.SeekGE([]byte("k1")))
	cols, err := it.Columns()
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "a", cols[0].Name)
}

func TestIterator_BoundedToOwnColumnFamily(t *testing.T) {
	db := openTestDB(t)
	cfA, err := db.CreateColumnFamily("a")
	require.NoError(t, err)
	cfB, err := db.CreateColumnFamily("b")
	require.NoError(t, err)

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cfA, []byte("k"), []byte("inA"), false))
	require.NoError(t, txn.Put(cfB, []byte("k"), []byte("inB"), false))
	require.NoError(t, txn.Commit())

	it, err := db.NewIterator(cfA)
	require.NoError(t, err)
	defer it.Close()

	var count int
	for it.SeekGE(nil); it.Valid(); it.Next() {
		count++
		assert.Equal(t, []byte("inA"), it.Value())
	}
	assert.Equal(t, 1, count)
}

func TestSnapshot_IsolatedFromLaterWrites(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cf, []byte("k1"), []byte("v1"), false))
	require.NoError(t, txn.Commit())

	snap := db.NewSnapshot()
	defer snap.Close()

	later := db.BeginTxn()
	require.NoError(t, later.Put(cf, []byte("k2"), []byte("v2"), false))
	require.NoError(t, later.Commit())

	it, err := snap.NewIterator(cf)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.SeekGE(nil); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"k1"}, keys)
}
