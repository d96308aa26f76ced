package kv

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

type opKind uint8

const (
	opPut opKind = iota
	opDelete
	opSingleDelete
)

type op struct {
	cf    *CF
	key   []byte
	kind  opKind
	value []byte
}

type heldLock struct {
	key    string
	unlock func()
}

type savepoint struct {
	opLen   int
	lockLen int
}

// Txn is the capability set secidx.Txn wraps: Put/PutEntity/Delete/
// SingleDelete (+Untracked), GetEntityForUpdate, savepoint control, and a
// default column family. Writes are buffered in an in-memory op log and
// only applied to pebble as a single *pebble.Batch on Commit.
//
// A Txn is not safe for concurrent use by multiple goroutines.
type Txn struct {
	db *DB

	ops        []op
	savepoints []savepoint

	held    []heldLock
	heldSet map[string]struct{}

	closed bool
}

// DefaultColumnFamily returns the column family used when callers pass a
// nil CF to a write or read operation.
func (t *Txn) DefaultColumnFamily() *CF {
	return t.db.DefaultColumnFamily()
}

func (t *Txn) ensureLock(cf *CF, key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	lk := lockTableKey(cf, key)
	if t.heldSet != nil {
		if _, ok := t.heldSet[lk]; ok {
			return nil
		}
	}
	unlock, err := t.db.locks.acquire(lk, t.db.opts.LockTimeout)
	if err != nil {
		return err
	}
	t.held = append(t.held, heldLock{key: lk, unlock: unlock})
	if t.heldSet == nil {
		t.heldSet = make(map[string]struct{})
	}
	t.heldSet[lk] = struct{}{}
	return nil
}

func (t *Txn) write(cf *CF, key, value []byte, assumeTracked bool, kind opKind) error {
	if t.closed {
		return ErrTxnClosed
	}
	if cf == nil {
		cf = t.DefaultColumnFamily()
	}
	if !assumeTracked {
		if err := t.ensureLock(cf, key); err != nil {
			return err
		}
	}
	t.ops = append(t.ops, op{cf: cf, key: append([]byte(nil), key...), kind: kind, value: value})
	return nil
}

// Put writes a plain (non-entity) value to the primary or secondary
// record at key. assumeTracked=true skips acquiring a fresh row lock
// because the caller (the secidx mixin, after GetEntityForUpdate) already
// holds it.
func (t *Txn) Put(cf *CF, key, value []byte, assumeTracked bool) error {
	return t.write(cf, key, encodePlainValue(value), assumeTracked, opPut)
}

// PutUntracked behaves like Put with assumeTracked=false: the write still
// takes the row lock, it just was never validated by a prior tracked
// read.
func (t *Txn) PutUntracked(cf *CF, key, value []byte) error {
	return t.write(cf, key, encodePlainValue(value), false, opPut)
}

// PutEntity writes a wide-column record.
func (t *Txn) PutEntity(cf *CF, key []byte, columns WideColumns, assumeTracked bool) error {
	if err := columns.Validate(); err != nil {
		return err
	}
	SortColumns(columns)
	return t.write(cf, key, encodeEntityValue(columns), assumeTracked, opPut)
}

// PutEntityUntracked is the untracked counterpart of PutEntity.
func (t *Txn) PutEntityUntracked(cf *CF, key []byte, columns WideColumns) error {
	if err := columns.Validate(); err != nil {
		return err
	}
	SortColumns(columns)
	return t.write(cf, key, encodeEntityValue(columns), false, opPut)
}

// Delete removes key from cf.
func (t *Txn) Delete(cf *CF, key []byte, assumeTracked bool) error {
	return t.write(cf, key, nil, assumeTracked, opDelete)
}

// DeleteUntracked is the untracked counterpart of Delete.
func (t *Txn) DeleteUntracked(cf *CF, key []byte) error {
	return t.write(cf, key, nil, false, opDelete)
}

// SingleDelete removes key from cf using pebble's single-delete tombstone,
// valid only when the key was written at most once since its last
// deletion — exactly the pattern the mixin uses for secondary entries,
// which are never overwritten in place.
func (t *Txn) SingleDelete(cf *CF, key []byte, assumeTracked bool) error {
	return t.write(cf, key, nil, assumeTracked, opSingleDelete)
}

// SingleDeleteUntracked is the untracked counterpart of SingleDelete.
func (t *Txn) SingleDeleteUntracked(cf *CF, key []byte) error {
	return t.write(cf, key, nil, false, opSingleDelete)
}

func (t *Txn) ownWrite(cf *CF, key []byte) (value []byte, found bool, deleted bool) {
	for i := len(t.ops) - 1; i >= 0; i-- {
		o := t.ops[i]
		if o.cf.id != cf.id || !bytes.Equal(o.key, key) {
			continue
		}
		switch o.kind {
		case opPut:
			return o.value, true, false
		default:
			return nil, true, true
		}
	}
	return nil, false, false
}

// GetEntityForUpdate reads the current record at key, taking an exclusive
// row lock first when exclusive is true. doValidate mirrors a
// read-your-writes validation flag; this engine is fully pessimistic, so
// it performs the identical lock-then-read regardless of doValidate — the
// parameter is kept so callers can express intent even though this
// engine has only one code path.
func (t *Txn) GetEntityForUpdate(cf *CF, key []byte, exclusive, doValidate bool) (WideColumns, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	if cf == nil {
		cf = t.DefaultColumnFamily()
	}
	_ = doValidate

	if exclusive {
		if err := t.ensureLock(cf, key); err != nil {
			return nil, err
		}
	}

	if value, found, deleted := t.ownWrite(cf, key); found {
		if deleted {
			return nil, ErrNotFound
		}
		return decodeStoredValue(value)
	}

	data, closer, err := t.db.pdb.Get(cf.storageKey(key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cols, decErr := decodeStoredValue(data)
	closer.Close()
	return cols, decErr
}

// SetSavepoint marks a rollback point. Writes and locks acquired after
// this call can be undone by RollbackToSavepoint without affecting
// earlier ones.
func (t *Txn) SetSavepoint() {
	t.savepoints = append(t.savepoints, savepoint{opLen: len(t.ops), lockLen: len(t.held)})
}

// RollbackToSavepoint undoes every write and releases every row lock
// acquired since the matching SetSavepoint.
func (t *Txn) RollbackToSavepoint() error {
	if len(t.savepoints) == 0 {
		return ErrNoSavepoint
	}
	sp := t.savepoints[len(t.savepoints)-1]
	t.savepoints = t.savepoints[:len(t.savepoints)-1]

	for i := len(t.held) - 1; i >= sp.lockLen; i-- {
		t.held[i].unlock()
		delete(t.heldSet, t.held[i].key)
	}
	t.held = t.held[:sp.lockLen]
	t.ops = t.ops[:sp.opLen]
	return nil
}

// PopSavepoint discards the most recent savepoint mark without undoing
// anything written since it was set.
func (t *Txn) PopSavepoint() error {
	if len(t.savepoints) == 0 {
		return ErrNoSavepoint
	}
	t.savepoints = t.savepoints[:len(t.savepoints)-1]
	return nil
}

// NewIterator returns a raw iterator over cf as currently committed to
// the store; it does not see this transaction's own uncommitted writes.
func (t *Txn) NewIterator(cf *CF) (*Iterator, error) {
	if cf == nil {
		cf = t.DefaultColumnFamily()
	}
	return t.db.NewIterator(cf)
}

// Commit applies every buffered write in one pebble batch and releases
// all row locks held by this transaction.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	defer t.release()
	t.closed = true

	batch := t.db.pdb.NewBatch()
	defer batch.Close()

	for _, o := range t.ops {
		sk := o.cf.storageKey(o.key)
		var err error
		switch o.kind {
		case opPut:
			err = batch.Set(sk, o.value, nil)
		case opDelete:
			err = batch.Delete(sk, nil)
		case opSingleDelete:
			err = batch.SingleDelete(sk, nil)
		}
		if err != nil {
			return err
		}
	}

	return t.db.pdb.Apply(batch, pebble.Sync)
}

// Rollback discards every buffered write and releases all row locks.
func (t *Txn) Rollback() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.release()
	t.closed = true
	return nil
}

func (t *Txn) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].unlock()
	}
	t.held = nil
	t.heldSet = nil
}
