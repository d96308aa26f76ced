package secidx

import (
	"fmt"

	"github.com/drpcorg/secidx/kv"
)

// Options configures Open. The KV field (a kv.Options) tunes the
// underlying engine (lock timeout, cache size, read-only).
type Options struct {
	KV kv.Options
}

// DB owns the underlying engine, the resolved column-family handles for
// every declared index, and the index list every Txn it mints will wrap.
type DB struct {
	kv      *kv.DB
	cfs     map[string]*kv.CF
	indices []Index
}

// Open creates or opens the store at dir, creates the column families
// named by indices (as pebble key prefixes — pebble itself has no CF
// concept), binds every index to its two CFs, and validates that at most
// one declared index targets any given (primary CF, indexed column) pair.
func Open(dir string, opts Options, indices []Index) (*DB, error) {
	kvdb, err := kv.Open(dir, opts.KV)
	if err != nil {
		return nil, err
	}

	db := &DB{
		kv:      kvdb,
		cfs:     map[string]*kv.CF{"default": kvdb.DefaultColumnFamily()},
		indices: indices,
	}

	rewriters := make(map[string]Index)
	for _, idx := range indices {
		pcf, err := db.ensureCF(idx.PrimaryCF())
		if err != nil {
			kvdb.Close()
			return nil, err
		}
		scf, err := db.ensureCF(idx.SecondaryCF())
		if err != nil {
			kvdb.Close()
			return nil, err
		}
		idx.BindPrimaryCF(pcf.Name())
		idx.BindSecondaryCF(scf.Name())

		key := idx.PrimaryCF() + "\x00" + string(idx.IndexedColumnName())
		if _, conflict := rewriters[key]; conflict {
			kvdb.Close()
			return nil, fmt.Errorf("secidx: more than one index declared over column %q of column family %q", idx.IndexedColumnName(), idx.PrimaryCF())
		}
		rewriters[key] = idx
	}

	return db, nil
}

func (db *DB) ensureCF(name string) (*kv.CF, error) {
	if name == "" {
		name = "default"
	}
	if cf, ok := db.cfs[name]; ok {
		return cf, nil
	}
	cf, err := db.kv.CreateColumnFamily(name)
	if err != nil {
		return nil, err
	}
	db.cfs[name] = cf
	return cf, nil
}

func (db *DB) cfByName(name string) (*kv.CF, bool) {
	if name == "" {
		name = "default"
	}
	cf, ok := db.cfs[name]
	return cf, ok
}

// KV exposes the underlying engine for packages (metrics, cmd/secidxdemo)
// that need to operate below the index-maintenance layer.
func (db *DB) KV() *kv.DB { return db.kv }

// BeginTxn starts a new index-maintaining transaction.
func (db *DB) BeginTxn() *Txn {
	return &Txn{inner: db.kv.BeginTxn(), db: db, indices: db.indices}
}

// NewSnapshot takes a consistent point-in-time read view, used by callers
// that want a stable picture across a multi-cluster KNN probe.
func (db *DB) NewSnapshot() *kv.Snapshot { return db.kv.NewSnapshot() }

// Close closes the underlying store.
func (db *DB) Close() error { return db.kv.Close() }
