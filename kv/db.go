// Package kv is the minimal transactional key-value engine that secidx's
// index-maintenance mixin (package secidx) wraps. pebble itself supplies
// ordered storage but no notion of a multi-statement transaction, row
// locking, or savepoints, so this package supplies that capability set.
package kv

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/drpcorg/secidx/internal/logging"
)

// Options is a plain struct of tunables passed to Open, no
// configuration-file framework.
type Options struct {
	// LockTimeout bounds how long GetEntityForUpdate waits for a row
	// lock before failing with ErrLockTimeout.
	LockTimeout time.Duration

	// ReadOnly opens the store without allowing writes.
	ReadOnly bool

	// CacheSizeBytes sizes pebble's block cache; zero uses pebble's default.
	CacheSizeBytes int64

	// Logger receives Open/lock-timeout diagnostics. Defaults to a
	// slog-backed logger writing to stderr at Info level.
	Logger logging.Logger
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.NewDefaultLogger(slog.LevelInfo)
	}
	return o
}

// DB owns the pebble store and the row-lock table shared by every
// transaction begun against it.
type DB struct {
	pdb  *pebble.DB
	opts Options
	dir  string

	locks *lockTable

	cfs     map[string]*CF
	nextCF  uint8
	defCF   *CF
}

// Open creates or opens a pebble store at dir and returns a DB ready for
// CreateColumnFamily calls.
func Open(dir string, opts Options) (*DB, error) {
	opts = opts.withDefaults()

	pebbleOpts := &pebble.Options{
		ReadOnly: opts.ReadOnly,
	}
	if opts.CacheSizeBytes > 0 {
		pebbleOpts.Cache = pebble.NewCache(opts.CacheSizeBytes)
	}

	pdb, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, err
	}

	db := &DB{
		pdb:    pdb,
		opts:   opts,
		dir:    dir,
		locks:  newLockTable(opts.Logger),
		cfs:    make(map[string]*CF),
		nextCF: 1,
	}

	db.defCF, err = db.CreateColumnFamily("default")
	if err != nil {
		pdb.Close()
		return nil, err
	}

	opts.Logger.Info("opened store", "dir", dir, "lock_timeout", opts.LockTimeout.String())
	return db, nil
}

// Close flushes and closes the underlying pebble store.
func (db *DB) Close() error {
	return db.pdb.Close()
}

// CreateColumnFamily registers a new column family by name, assigning it
// the next free key-space prefix. Column families are created once, up
// front, before any transaction touches them.
func (db *DB) CreateColumnFamily(name string) (*CF, error) {
	if cf, ok := db.cfs[name]; ok {
		return cf, nil
	}
	if db.nextCF == 0 {
		return nil, ErrTooManyColumnFamilies
	}
	cf := &CF{name: name, id: db.nextCF}
	db.nextCF++
	db.cfs[name] = cf
	return cf, nil
}

// ColumnFamily looks up a previously created column family by name.
func (db *DB) ColumnFamily(name string) (*CF, bool) {
	cf, ok := db.cfs[name]
	return cf, ok
}

// DefaultColumnFamily returns the column family created implicitly at Open.
func (db *DB) DefaultColumnFamily() *CF {
	return db.defCF
}

// BeginTxn starts a new transaction. The returned Txn is NOT safe for
// concurrent use by multiple goroutines.
func (db *DB) BeginTxn() *Txn {
	return &Txn{db: db}
}

// NewSnapshot takes a consistent point-in-time read view, used by KNN
// queries that probe multiple clusters and want a stable picture across
// all of them.
func (db *DB) NewSnapshot() *Snapshot {
	return &Snapshot{snap: db.pdb.NewSnapshot()}
}

// NewIterator returns a raw, untransacted forward/backward iterator over
// one column family.
func (db *DB) NewIterator(cf *CF) (*Iterator, error) {
	it, err := db.pdb.NewIter(&pebble.IterOptions{
		LowerBound: cf.lowerBound(),
		UpperBound: cf.upperBound(),
	})
	if err != nil {
		return nil, err
	}
	return &Iterator{it: it, cf: cf}, nil
}

// DropIndexRange deletes every entry in cf whose key starts with prefix in
// one range-delete. It is an operational helper, never called by the core
// write path, intended for dropping a stale or abandoned index's entries
// in bulk. The delete is clamped to cf's own bounds, so an all-0xff prefix
// can never carry the range past cf's upper bound into the next column
// family's keyspace.
func (db *DB) DropIndexRange(cf *CF, prefix []byte) error {
	lower := cf.storageKey(prefix)
	upper := incrementBytes(lower)
	if bytes.Compare(upper, cf.upperBound()) > 0 {
		upper = cf.upperBound()
	}
	return db.pdb.DeleteRange(lower, upper, pebble.Sync)
}

// incrementBytes returns the lexicographically next byte string after b,
// i.e. the smallest string strictly greater than every string with b as a
// prefix. All-0xff suffixes carry out of the slice entirely, which is why
// callers that need a bound within a fixed keyspace (DropIndexRange) must
// clamp the result themselves.
func incrementBytes(b []byte) []byte {
	out := append([]byte{}, b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return append(out, 0)
}

// Metrics exposes the underlying pebble store's metrics for the metrics
// package's prometheus.Collector.
func (db *DB) Metrics() *pebble.Metrics {
	return db.pdb.Metrics()
}

// ColumnFamilies returns every column family created so far, in no
// particular order. Used by the metrics package to report a per-column-
// family disk usage breakdown.
func (db *DB) ColumnFamilies() []*CF {
	out := make([]*CF, 0, len(db.cfs))
	for _, cf := range db.cfs {
		out = append(out, cf)
	}
	return out
}

// ColumnFamilyDiskUsage estimates the on-disk size of cf's keyspace.
func (db *DB) ColumnFamilyDiskUsage(cf *CF) (uint64, error) {
	return db.pdb.EstimateDiskUsage(cf.lowerBound(), cf.upperBound())
}
