package kv

import "github.com/cockroachdb/pebble"

// Iterator is a forward/backward iterator bounded to one column family's
// key space. It is the raw iterator that Cursor wraps.
type Iterator struct {
	it *pebble.Iterator
	cf *CF
}

// SeekGE positions the iterator at the first key >= target (within cf).
func (i *Iterator) SeekGE(target []byte) bool {
	return i.it.SeekGE(i.cf.storageKey(target))
}

// Next advances the iterator.
func (i *Iterator) Next() bool { return i.it.Next() }

// Prev moves the iterator backward.
func (i *Iterator) Prev() bool { return i.it.Prev() }

// Valid reports whether the iterator is positioned on a live entry.
func (i *Iterator) Valid() bool { return i.it.Valid() }

// Key returns the current entry's key with the column-family prefix
// stripped.
func (i *Iterator) Key() []byte {
	return i.cf.stripPrefix(i.it.Key())
}

// rawValue returns the current entry's stored value with the tag still
// attached; Value and Columns interpret it.
func (i *Iterator) rawValue() []byte {
	return i.it.Value()
}

// Value returns the current entry's plain value (tag stripped).
func (i *Iterator) Value() []byte {
	return rawStoredValue(i.rawValue())
}

// Columns decodes the current entry's value as wide columns.
func (i *Iterator) Columns() (WideColumns, error) {
	return decodeStoredValue(i.rawValue())
}

// PrepareValue materializes the current entry's value eagerly; pebble's
// iterator always has the value ready once positioned, so this only
// reports whether the iterator is positioned on an entry.
func (i *Iterator) PrepareValue() bool { return i.it.Valid() }

// Status returns any error encountered by the underlying iterator.
func (i *Iterator) Status() error { return i.it.Error() }

// Stats exposes pebble's own iterator statistics, the data source behind
// Cursor.GetProperty.
func (i *Iterator) Stats() pebble.IteratorStats { return i.it.Stats() }

// Close releases the iterator.
func (i *Iterator) Close() error { return i.it.Close() }

// Snapshot is a consistent point-in-time read view.
type Snapshot struct {
	snap *pebble.Snapshot
}

// NewIterator returns an iterator over cf as seen through the snapshot.
func (s *Snapshot) NewIterator(cf *CF) (*Iterator, error) {
	it, err := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: cf.lowerBound(),
		UpperBound: cf.upperBound(),
	})
	if err != nil {
		return nil, err
	}
	return &Iterator{it: it, cf: cf}, nil
}

// Close releases the snapshot.
func (s *Snapshot) Close() error { return s.snap.Close() }
