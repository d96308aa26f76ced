package secidx

import (
	"bytes"

	"github.com/drpcorg/secidx/kv"
)

// Cursor is a prefix-bounded forward/backward view over one index's
// secondary column family. It holds a non-owning Index reference and an
// owned underlying iterator; seek-to-first, seek-to-last, and
// seek-for-prev are intentionally absent since they have no meaning for a
// target-driven lookup.
type Cursor struct {
	index  Index
	it     *kv.Iterator
	prefix []byte
}

// NewCursor wraps it with index's prefix-derivation rules.
func NewCursor(index Index, it *kv.Iterator) *Cursor {
	return &Cursor{index: index, it: it}
}

// Seek computes the prefix for target via the index's own
// SecondaryKeyPrefix/FinalizePrefix hooks (called with an empty primary
// key, since at query time there is no primary key yet) and positions the
// cursor at the first entry at or after that prefix.
func (c *Cursor) Seek(target []byte) error {
	prefix, err := c.index.SecondaryKeyPrefix(nil, target)
	if err != nil {
		return err
	}
	prefix, err = c.index.FinalizePrefix(prefix)
	if err != nil {
		return err
	}
	c.prefix = prefix
	c.it.SeekGE(prefix)
	return nil
}

// Valid reports whether the underlying iterator is positioned on an entry
// whose key starts with the prefix from the last Seek.
func (c *Cursor) Valid() bool {
	return c.it.Valid() && bytes.HasPrefix(c.it.Key(), c.prefix)
}

// Next advances the cursor.
func (c *Cursor) Next() bool {
	c.it.Next()
	return c.Valid()
}

// Prev moves the cursor backward.
func (c *Cursor) Prev() bool {
	c.it.Prev()
	return c.Valid()
}

// Key returns the current entry's primary key, the underlying key with
// the secondary prefix stripped.
func (c *Cursor) Key() []byte {
	return c.it.Key()[len(c.prefix):]
}

// Value returns the current entry's stored value.
func (c *Cursor) Value() []byte { return c.it.Value() }

// Columns decodes the current entry's value as wide columns.
func (c *Cursor) Columns() (kv.WideColumns, error) { return c.it.Columns() }

// PrepareValue eagerly materializes the current entry's value.
func (c *Cursor) PrepareValue() bool { return c.it.PrepareValue() }

// Status returns any error the underlying iterator has accumulated.
func (c *Cursor) Status() error { return c.it.Status() }

// Timestamp is a passthrough retained for contract parity; this engine
// does not attach per-entry timestamps, so it always returns nil.
func (c *Cursor) Timestamp() []byte { return nil }

// GetProperty reports iterator-level statistics by name, mirroring
// RocksDB's Iterator::GetProperty surface. Only "secidx.iterator.stats"
// is currently recognized; it reports the underlying pebble iterator's
// own stats summary.
func (c *Cursor) GetProperty(name string) (string, error) {
	if name != "secidx.iterator.stats" {
		return "", ErrNotSupported
	}
	stats := c.it.Stats()
	return stats.String(), nil
}

// Close releases the underlying iterator.
func (c *Cursor) Close() error { return c.it.Close() }
