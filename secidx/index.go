package secidx

// Index is the contract every secondary-index kind implements (ivf.Index
// is the concrete example). Every method must be deterministic and
// thread-safe once the index has been bound to its column families.
type Index interface {
	// BindPrimaryCF and BindSecondaryCF are one-shot setup calls made by
	// DB.Open before any transaction touches the index; not safe to call
	// concurrently with reads or from multiple goroutines.
	BindPrimaryCF(cf string)
	BindSecondaryCF(cf string)

	// PrimaryCF and SecondaryCF report the names bound above.
	PrimaryCF() string
	SecondaryCF() string

	// IndexedColumnName names the primary-record column this index
	// tracks.
	IndexedColumnName() []byte

	// RewritePrimaryColumn optionally substitutes the column value that
	// will actually be persisted in the primary record in place of
	// oldValue. rewrite=false means "leave the value untouched".
	RewritePrimaryColumn(pk, oldValue []byte) (newValue []byte, rewrite bool, err error)

	// SecondaryKeyPrefix derives the secondary-entry key prefix from the
	// primary key and the (possibly rewritten) primary column value.
	// Pure function: equal inputs must yield equal outputs.
	SecondaryKeyPrefix(pk, primaryColumnValue []byte) ([]byte, error)

	// FinalizePrefix appends any disambiguating metadata to a prefix
	// produced by SecondaryKeyPrefix. Identity is an acceptable
	// implementation.
	FinalizePrefix(prefix []byte) ([]byte, error)

	// SecondaryValue computes the payload stored at the secondary entry.
	// has=false means "store an empty value".
	SecondaryValue(pk, primaryColumnValueAfter, primaryColumnValueBefore []byte) (value []byte, has bool, err error)
}
