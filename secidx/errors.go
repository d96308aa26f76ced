// Package secidx implements a transactional secondary-index framework
// over the pebble-backed engine in package kv: declare one or more
// secondary indices over primary wide-column records, and every write
// through Txn keeps primary data and index entries consistent inside one
// savepoint-bracketed atomic unit.
package secidx

import (
	"errors"

	"github.com/drpcorg/secidx/kv"
)

// Sentinel errors surfaced to callers above the engine boundary. They
// compose with github.com/pkg/errors wrapping so a caller can still match
// on the underlying sentinel after a wrapped return.
var (
	// ErrNotFound mirrors kv.ErrNotFound for callers that only import
	// secidx.
	ErrNotFound = kv.ErrNotFound

	// ErrInvalidArgument reports a precondition violation: wrong-sized
	// embeddings, zero k or nprobe, a nil cursor.
	ErrInvalidArgument = errors.New("secidx: invalid argument")

	// ErrCorruption reports an invariant violation discovered during a
	// search: a code-size mismatch in an inverted-list entry, or an
	// out-of-range local id among the ranked candidates.
	ErrCorruption = errors.New("secidx: corruption")

	// ErrNotSupported is returned by Merge/MergeUntracked and by C5's
	// non-iterator inverted-list operations.
	ErrNotSupported = errors.New("secidx: not supported")

	// ErrLockTimeout mirrors kv.ErrLockTimeout.
	ErrLockTimeout = kv.ErrLockTimeout
)
