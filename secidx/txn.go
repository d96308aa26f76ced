package secidx

import (
	"time"

	"github.com/pkg/errors"

	"github.com/drpcorg/secidx/kv"
	"github.com/drpcorg/secidx/metrics"
)

// Txn wraps a kv.Txn with index-maintaining Put/PutEntity/Delete/
// SingleDelete variants. Composition, not inheritance: Txn mirrors
// kv.Txn's write, read and savepoint operations, but addresses column
// families by name rather than by *kv.CF handle, so it is not a drop-in
// replacement for a kv.Txn value. Every mutating call runs bracketed by its own
// savepoint on the wrapped kv.Txn, so a single failed step rolls back
// exactly the index-maintenance work it did and nothing from earlier
// calls in the same enclosing transaction.
type Txn struct {
	inner   *kv.Txn
	db      *DB
	indices []Index
}

func (t *Txn) resolveCF(name string) (*kv.CF, error) {
	cf, ok := t.db.cfByName(name)
	if !ok {
		return nil, errors.Errorf("secidx: unknown column family %q", name)
	}
	return cf, nil
}

func (t *Txn) applicableIndices(primaryCFName string) []Index {
	var out []Index
	for _, idx := range t.indices {
		if idx.PrimaryCF() == primaryCFName {
			out = append(out, idx)
		}
	}
	return out
}

func findColumn(cols kv.WideColumns, name []byte) ([]byte, bool) {
	i := cols.Find(string(name))
	if i < 0 {
		return nil, false
	}
	return cols[i].Value, true
}

func secondaryKey(prefix, pk []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(pk))
	out = append(out, prefix...)
	out = append(out, pk...)
	return out
}

type pendingInsert struct {
	idx       Index
	original  []byte
	rewritten []byte
}

// mutate is the one protocol behind Put/PutEntity/Delete/SingleDelete:
// resolve the CF, lock-and-read the old primary record, remove every
// applicable index's stale entry, optionally rewrite and write the new
// primary record (or delete it), then insert fresh index entries. Any
// failure after the savepoint rolls the whole sequence back.
func (t *Txn) mutate(cfName string, key []byte, newCols kv.WideColumns, isPut, singleDelete, doValidate bool) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		metrics.ObserveMutation(cfName, cfName, outcome, start)
	}()

	cf, err := t.resolveCF(cfName)
	if err != nil {
		return err
	}
	applicable := t.applicableIndices(cf.Name())

	t.inner.SetSavepoint()
	fail := func(cause error) error {
		_ = t.inner.RollbackToSavepoint()
		return cause
	}

	oldCols, getErr := t.inner.GetEntityForUpdate(cf, key, true, doValidate)
	hadOld := getErr == nil
	if getErr != nil && !errors.Is(getErr, kv.ErrNotFound) {
		return fail(getErr)
	}

	if hadOld {
		for _, idx := range applicable {
			oldVal, present := findColumn(oldCols, idx.IndexedColumnName())
			if !present {
				continue
			}
			oldPrefix, err := idx.SecondaryKeyPrefix(key, oldVal)
			if err != nil {
				return fail(err)
			}
			oldPrefix, err = idx.FinalizePrefix(oldPrefix)
			if err != nil {
				return fail(err)
			}
			secCF, err := t.resolveCF(idx.SecondaryCF())
			if err != nil {
				return fail(err)
			}
			if err := t.inner.SingleDelete(secCF, secondaryKey(oldPrefix, key), true); err != nil {
				return fail(err)
			}
		}
	}

	if !isPut {
		var delErr error
		if singleDelete {
			delErr = t.inner.SingleDelete(cf, key, true)
		} else {
			delErr = t.inner.Delete(cf, key, true)
		}
		if delErr != nil {
			return fail(delErr)
		}
		return t.inner.PopSavepoint()
	}

	kv.SortColumns(newCols)
	var pending []pendingInsert
	for _, idx := range applicable {
		i := newCols.Find(string(idx.IndexedColumnName()))
		if i < 0 {
			continue
		}
		original := newCols[i].Value
		newVal, rewrite, err := idx.RewritePrimaryColumn(key, original)
		if err != nil {
			return fail(err)
		}
		if rewrite {
			newCols[i].Value = newVal
		}
		pending = append(pending, pendingInsert{idx: idx, original: original, rewritten: newCols[i].Value})
	}

	if err := t.inner.PutEntity(cf, key, newCols, true); err != nil {
		return fail(err)
	}

	for _, p := range pending {
		newPrefix, err := p.idx.SecondaryKeyPrefix(key, p.rewritten)
		if err != nil {
			return fail(err)
		}
		newPrefix, err = p.idx.FinalizePrefix(newPrefix)
		if err != nil {
			return fail(err)
		}
		value, has, err := p.idx.SecondaryValue(key, p.rewritten, p.original)
		if err != nil {
			return fail(err)
		}
		if !has {
			value = nil
		}
		secCF, err := t.resolveCF(p.idx.SecondaryCF())
		if err != nil {
			return fail(err)
		}
		if err := t.inner.Put(secCF, secondaryKey(newPrefix, key), value, true); err != nil {
			return fail(err)
		}
	}

	return t.inner.PopSavepoint()
}

func singleColumn(value []byte) kv.WideColumns {
	return kv.WideColumns{{Name: kv.DefaultColumnName, Value: value}}
}

// Put writes a plain value, modeled internally as a single-column wide
// record so indices declared over DefaultColumnName participate.
func (t *Txn) Put(cfName string, key, value []byte, assumeTracked bool) error {
	return t.mutate(cfName, key, singleColumn(value), true, false, !assumeTracked)
}

// PutUntracked bypasses the validating read-your-writes check in the
// lock-and-read step but still takes the same exclusive lock.
func (t *Txn) PutUntracked(cfName string, key, value []byte) error {
	return t.mutate(cfName, key, singleColumn(value), true, false, false)
}

// PutEntity writes a wide-column primary record.
func (t *Txn) PutEntity(cfName string, key []byte, columns kv.WideColumns, assumeTracked bool) error {
	return t.mutate(cfName, key, columns, true, false, !assumeTracked)
}

// PutEntityUntracked is the untracked counterpart of PutEntity.
func (t *Txn) PutEntityUntracked(cfName string, key []byte, columns kv.WideColumns) error {
	return t.mutate(cfName, key, columns, true, false, false)
}

// Delete removes key and every secondary entry derived from its old
// primary record.
func (t *Txn) Delete(cfName string, key []byte, assumeTracked bool) error {
	return t.mutate(cfName, key, nil, false, false, !assumeTracked)
}

// DeleteUntracked is the untracked counterpart of Delete.
func (t *Txn) DeleteUntracked(cfName string, key []byte) error {
	return t.mutate(cfName, key, nil, false, false, false)
}

// SingleDelete is Delete using pebble's single-delete tombstone for the
// primary record.
func (t *Txn) SingleDelete(cfName string, key []byte, assumeTracked bool) error {
	return t.mutate(cfName, key, nil, false, true, !assumeTracked)
}

// SingleDeleteUntracked is the untracked counterpart of SingleDelete.
func (t *Txn) SingleDeleteUntracked(cfName string, key []byte) error {
	return t.mutate(cfName, key, nil, false, true, false)
}

// Merge is explicitly unsupported: index maintenance cannot be derived
// from a merge operand without reading and decoding it, which defeats the
// point of a merge operator.
func (t *Txn) Merge(cfName string, key, value []byte) error { return ErrNotSupported }

// MergeUntracked is explicitly unsupported, for the same reason as Merge.
func (t *Txn) MergeUntracked(cfName string, key, value []byte) error { return ErrNotSupported }

// GetEntityForUpdate reads a record directly, bypassing index
// maintenance; used by callers that only need a consistent read.
func (t *Txn) GetEntityForUpdate(cfName string, key []byte, exclusive, doValidate bool) (kv.WideColumns, error) {
	cf, err := t.resolveCF(cfName)
	if err != nil {
		return nil, err
	}
	return t.inner.GetEntityForUpdate(cf, key, exclusive, doValidate)
}

// NewCursor returns a Cursor over idx's secondary column family.
func (t *Txn) NewCursor(idx Index) (*Cursor, error) {
	secCF, err := t.resolveCF(idx.SecondaryCF())
	if err != nil {
		return nil, err
	}
	it, err := t.inner.NewIterator(secCF)
	if err != nil {
		return nil, err
	}
	return NewCursor(idx, it), nil
}

// SetSavepoint, RollbackToSavepoint and PopSavepoint control the
// enclosing transaction's own rollback points, independent of the
// per-call savepoints mutate uses internally.
func (t *Txn) SetSavepoint() { t.inner.SetSavepoint() }

func (t *Txn) RollbackToSavepoint() error { return t.inner.RollbackToSavepoint() }

func (t *Txn) PopSavepoint() error { return t.inner.PopSavepoint() }

func (t *Txn) Commit() error { return t.inner.Commit() }

func (t *Txn) Rollback() error { return t.inner.Rollback() }

func (t *Txn) DefaultColumnFamily() *kv.CF { return t.inner.DefaultColumnFamily() }
