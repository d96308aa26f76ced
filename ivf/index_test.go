package ivf

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/secidx/kv"
	"github.com/drpcorg/secidx/secidx"
)

func openVectorTestDB(t *testing.T) (*secidx.DB, *Index, [][]float32) {
	t.Helper()
	vectors := trainingSet()

	cq, err := TrainCoarseQuantizer(flatten(vectors), 4, 2, 25, newTestRand(1))
	require.NoError(t, err)
	enc, err := TrainFineEncoder(cq, flatten(vectors), 4, 4, 25, newTestRand(2))
	require.NoError(t, err)

	idx := NewIndex("embedding", cq, enc)
	db, err := secidx.Open(t.TempDir(), secidx.Options{}, []secidx.Index{idx})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	txn := db.BeginTxn()
	for i, v := range vectors {
		pk := []byte(fmt.Sprintf("pk%d", i))
		cols := kv.WideColumns{{Name: "embedding", Value: Float32sToBytes(v)}}
		require.NoError(t, txn.PutEntity("vectors", pk, cols, false))
	}
	require.NoError(t, txn.Commit())

	return db, idx, vectors
}

func TestFindKNN_SelfMatchHasZeroDistance(t *testing.T) {
	db, idx, vectors := openVectorTestDB(t)

	for i, v := range vectors {
		txn := db.BeginTxn()
		cur, err := txn.NewCursor(idx)
		require.NoError(t, err)

		results, err := idx.FindKNN(cur, v, 1, idx.cq.NumLists())
		require.NoError(t, err)
		require.Len(t, results, 1)

		want := []byte(fmt.Sprintf("pk%d", i))
		assert.True(t, bytes.Equal(want, results[0].PrimaryKey), "expected %s, got %s", want, results[0].PrimaryKey)
		assert.InDelta(t, 0, results[0].Distance, 1e-4)

		cur.Close()
		require.NoError(t, txn.Commit())
	}
}

func TestFindKNN_ProbingMoreClustersNeverWorsensTheBestMatch(t *testing.T) {
	db, idx, _ := openVectorTestDB(t)
	target := []float32{5, 5, 5, 5}

	txn := db.BeginTxn()
	defer txn.Commit()

	curNarrow, err := txn.NewCursor(idx)
	require.NoError(t, err)
	narrow, err := idx.FindKNN(curNarrow, target, 4, 1)
	require.NoError(t, err)
	curNarrow.Close()

	curWide, err := txn.NewCursor(idx)
	require.NoError(t, err)
	wide, err := idx.FindKNN(curWide, target, 4, 2)
	require.NoError(t, err)
	curWide.Close()

	require.NotEmpty(t, narrow)
	require.NotEmpty(t, wide)
	assert.LessOrEqual(t, wide[0].Distance, narrow[0].Distance)
}

func TestFindKNN_RejectsInvalidArguments(t *testing.T) {
	db, idx, _ := openVectorTestDB(t)

	txn := db.BeginTxn()
	defer txn.Commit()
	cur, err := txn.NewCursor(idx)
	require.NoError(t, err)
	defer cur.Close()

	_, err = idx.FindKNN(nil, []float32{0, 0, 0, 0}, 1, 1)
	assert.ErrorIs(t, err, secidx.ErrInvalidArgument)

	_, err = idx.FindKNN(cur, []float32{0, 0, 0}, 1, 1)
	assert.ErrorIs(t, err, secidx.ErrInvalidArgument)

	_, err = idx.FindKNN(cur, []float32{0, 0, 0, 0}, 0, 1)
	assert.ErrorIs(t, err, secidx.ErrInvalidArgument)

	_, err = idx.FindKNN(cur, []float32{0, 0, 0, 0}, 1, 0)
	assert.ErrorIs(t, err, secidx.ErrInvalidArgument)
}

func TestFindKNN_NprobeLargerThanNumListsIsClamped(t *testing.T) {
	db, idx, _ := openVectorTestDB(t)

	txn := db.BeginTxn()
	defer txn.Commit()
	cur, err := txn.NewCursor(idx)
	require.NoError(t, err)
	defer cur.Close()

	results, err := idx.FindKNN(cur, []float32{5, 5, 5, 5}, 8, 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 8)
}
