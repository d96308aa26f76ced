package kv

import "errors"

// Errors returned by the capability layer that secidx.Txn wraps. Higher
// level error codes (InvalidArgument, Corruption, NotSupported) live in
// the secidx package instead.
var (
	ErrNotFound    = errors.New("kv: key not found")
	ErrLockTimeout = errors.New("kv: timed out waiting for row lock")
	ErrTxnClosed   = errors.New("kv: transaction already committed or rolled back")
	ErrNoSavepoint = errors.New("kv: no savepoint set")

	ErrTooManyColumnFamilies = errors.New("kv: exhausted the 255 available column family prefixes")
)
