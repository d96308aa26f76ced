package kv

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxn_PutThenGetEntityForUpdate_ReadsOwnWrite(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cf, []byte("k1"), []byte("v1"), false))

	cols, err := txn.GetEntityForUpdate(cf, []byte("k1"), true, true)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, DefaultColumnName, cols[0].Name)
	assert.Equal(t, []byte("v1"), cols[0].Value)

	require.NoError(t, txn.Commit())
}

func TestTxn_DeleteThenGetEntityForUpdate_SeesOwnDeleteAsNotFound(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	seed := db.BeginTxn()
	require.NoError(t, seed.Put(cf, []byte("k1"), []byte("v1"), false))
	require.NoError(t, seed.Commit())

	txn := db.BeginTxn()
	require.NoError(t, txn.Delete(cf, []byte("k1"), false))
	_, err := txn.GetEntityForUpdate(cf, []byte("k1"), true, true)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, txn.Commit())
}

func TestTxn_PutEntity_RoundTripsSortedColumns(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	cols := WideColumns{{Name: "zeta", Value: []byte("z")}, {Name: "alpha", Value: []byte("a")}}
	require.NoError(t, txn.PutEntity(cf, []byte("k1"), cols, false))
	require.NoError(t, txn.Commit())

	readTxn := db.BeginTxn()
	got, err := readTxn.GetEntityForUpdate(cf, []byte("k1"), true, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Name)
	assert.Equal(t, "zeta", got[1].Name)
}

func TestTxn_PutEntity_RejectsReservedColumnPrefix(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	err := txn.PutEntity(cf, []byte("k1"), WideColumns{{Name: "$reserved", Value: []byte("x")}}, false)
	assert.Error(t, err)
}

func TestTxn_RollbackToSavepoint_UndoesWritesAndLocks(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cf, []byte("before"), []byte("1"), false))
	txn.SetSavepoint()
	require.NoError(t, txn.Put(cf, []byte("after"), []byte("2"), false))
	require.NoError(t, txn.RollbackToSavepoint())
	require.NoError(t, txn.Commit())

	check := db.BeginTxn()
	_, err := check.GetEntityForUpdate(cf, []byte("after"), false, false)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := check.GetEntityForUpdate(cf, []byte("before"), false, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got[0].Value)
}

func TestTxn_RollbackToSavepoint_ReleasesLockAcquiredAfterIt(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	txn.SetSavepoint()
	require.NoError(t, txn.Put(cf, []byte("k1"), []byte("v1"), false))
	require.NoError(t, txn.RollbackToSavepoint())

	other := db.BeginTxn()
	other.db.opts.LockTimeout = 50 * time.Millisecond
	require.NoError(t, other.Put(cf, []byte("k1"), []byte("v2"), false))
	require.NoError(t, other.Commit())
	require.NoError(t, txn.Commit())
}

func TestTxn_PopSavepoint_KeepsWrites(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	txn.SetSavepoint()
	require.NoError(t, txn.Put(cf, []byte("k1"), []byte("v1"), false))
	require.NoError(t, txn.PopSavepoint())
	require.NoError(t, txn.Commit())

	check := db.BeginTxn()
	got, err := check.GetEntityForUpdate(cf, []byte("k1"), false, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got[0].Value)
}

func TestTxn_RollbackToSavepoint_WithoutSavepoint_Errors(t *testing.T) {
	db := openTestDB(t)
	txn := db.BeginTxn()
	assert.ErrorIs(t, txn.RollbackToSavepoint(), ErrNoSavepoint)
	assert.ErrorIs(t, txn.PopSavepoint(), ErrNoSavepoint)
	require.NoError(t, txn.Rollback())
}

func TestTxn_OperationsAfterCommit_ReturnErrTxnClosed(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Commit())

	assert.ErrorIs(t, txn.Put(cf, []byte("k1"), []byte("v1"), false), ErrTxnClosed)
	assert.ErrorIs(t, txn.Commit(), ErrTxnClosed)
	assert.ErrorIs(t, txn.Rollback(), ErrTxnClosed)
}

func TestTxn_Rollback_ReleasesLocksWithoutApplyingWrites(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	require.NoError(t, txn.Put(cf, []byte("k1"), []byte("v1"), false))
	require.NoError(t, txn.Rollback())

	other := db.BeginTxn()
	_, err := other.GetEntityForUpdate(cf, []byte("k1"), true, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTxn_ExclusiveLock_BlocksConcurrentWriterUntilCommit(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	first := db.BeginTxn()
	require.NoError(t, first.Put(cf, []byte("k1"), []byte("v1"), false))

	second := db.BeginTxn()
	second.db.opts.LockTimeout = 30 * time.Millisecond
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- second.Put(cf, []byte("k1"), []byte("v2"), false)
	}()
	wg.Wait()
	assert.ErrorIs(t, <-errCh, ErrLockTimeout)

	require.NoError(t, first.Commit())
}

func TestTxn_AssumeTracked_SkipsReacquiringLock(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	txn := db.BeginTxn()
	_, err := txn.GetEntityForUpdate(cf, []byte("k1"), true, false)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, txn.Put(cf, []byte("k1"), []byte("v1"), true))
	require.NoError(t, txn.Commit())
}

func TestTxn_SingleDelete_RemovesKey(t *testing.T) {
	db := openTestDB(t)
	cf := db.DefaultColumnFamily()

	seed := db.BeginTxn()
	require.NoError(t, seed.Put(cf, []byte("k1"), []byte("v1"), false))
	require.NoError(t, seed.Commit())

	txn := db.BeginTxn()
	require.NoError(t, txn.SingleDelete(cf, []byte("k1"), false))
	require.NoError(t, txn.Commit())

	check := db.BeginTxn()
	_, err := check.GetEntityForUpdate(cf, []byte("k1"), false, false)
	assert.ErrorIs(t, err, ErrNotFound)
}
