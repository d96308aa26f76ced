package ivf

import (
	"fmt"

	"github.com/drpcorg/secidx/secidx"
)

// KNNContext threads a dense local-id → primary-key mapping from the
// inverted-list iterator back up to the search driver for the duration of
// one FindKNN call. Kept stack-scoped (never stored past the call that
// created it) to avoid a cyclic reference between this package and the
// cursor it iterates, the same back-reference problem a vector library
// solves with an opaque context pointer.
type KNNContext struct {
	Keys [][]byte
}

// ListIterator streams (local id, code) pairs for one probed cluster.
// Local ids densely enumerate the vectors actually visited during one
// FindKNN call; they are not stable across calls.
type ListIterator interface {
	IsAvailable() bool
	Next() bool
	GetIDAndCode() (localID int32, code []byte, err error)
}

// KVInvertedLists presents the KV-backed (cluster_id, pk) → code space as
// an inverted-list container with iterator-based reads only. Non-iterator
// reads and batch/update/resize writes are explicitly not implemented:
// there is no FAISS runtime in this port that could call into them, so
// unlike the original (which treats such calls as unreachable), here they
// are reachable library surface and must fail with ErrNotSupported rather
// than panic.
type KVInvertedLists struct {
	numLists int
	codeSize int
}

// NewKVInvertedLists constructs the adapter for an index with numLists
// clusters and codeSize bytes per entry.
func NewKVInvertedLists(numLists, codeSize int) *KVInvertedLists {
	return &KVInvertedLists{numLists: numLists, codeSize: codeSize}
}

func (l *KVInvertedLists) NumLists() int { return l.numLists }
func (l *KVInvertedLists) CodeSize() int { return l.codeSize }

// GetIterator seeks cursor to clusterID's prefix and returns an iterator
// that streams its entries, recording each visited primary key into
// knnCtx.
func (l *KVInvertedLists) GetIterator(cursor *secidx.Cursor, clusterID int32, knnCtx *KNNContext) (ListIterator, error) {
	prefix := EncodeClusterID(clusterID)
	if err := cursor.Seek(prefix); err != nil {
		return nil, err
	}
	return &kvListIterator{cursor: cursor, codeSize: l.codeSize, knnCtx: knnCtx}, nil
}

// ListSize, GetCodes, and GetIDs are non-iterator reads; this adapter
// supports iteration only.
func (l *KVInvertedLists) ListSize(clusterID int32) (int, error) { return 0, secidx.ErrNotSupported }
func (l *KVInvertedLists) GetCodes(clusterID int32) ([]byte, error) {
	return nil, secidx.ErrNotSupported
}
func (l *KVInvertedLists) GetIDs(clusterID int32) ([]int64, error) {
	return nil, secidx.ErrNotSupported
}

// AddEntry writes code into the caller-provided output buffer; the
// persisted KV write itself is performed by the secidx mixin, not here,
// matching the original's own division of labor between the adapter and
// the transaction wrapper.
func (l *KVInvertedLists) AddEntry(clusterID int32, id int64, code, out []byte) error {
	if len(out) != len(code) {
		return fmt.Errorf("ivf: output buffer has %d bytes, code has %d", len(out), len(code))
	}
	copy(out, code)
	return nil
}

// AddEntries, UpdateEntry, and Resize are batch/update writes; not
// implemented.
func (l *KVInvertedLists) AddEntries(clusterID int32, ids []int64, codes []byte) error {
	return secidx.ErrNotSupported
}
func (l *KVInvertedLists) UpdateEntry(clusterID int32, offset int, id int64, code []byte) error {
	return secidx.ErrNotSupported
}
func (l *KVInvertedLists) Resize(clusterID int32, newSize int) error { return secidx.ErrNotSupported }

type kvListIterator struct {
	cursor   *secidx.Cursor
	codeSize int
	knnCtx   *KNNContext
}

func (it *kvListIterator) IsAvailable() bool {
	return it.cursor.Valid()
}

func (it *kvListIterator) Next() bool {
	return it.cursor.Next()
}

func (it *kvListIterator) GetIDAndCode() (int32, []byte, error) {
	if !it.cursor.PrepareValue() {
		return 0, nil, fmt.Errorf("ivf: failed to prepare secondary entry value")
	}
	code := it.cursor.Value()
	if len(code) != it.codeSize {
		return 0, nil, fmt.Errorf("%w: code length %d, expected %d", secidx.ErrCorruption, len(code), it.codeSize)
	}
	localID := int32(len(it.knnCtx.Keys))
	it.knnCtx.Keys = append(it.knnCtx.Keys, append([]byte(nil), it.cursor.Key()...))
	return localID, code, nil
}
