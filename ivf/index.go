package ivf

import (
	"sort"
	"time"

	"github.com/drpcorg/secidx/metrics"
	"github.com/drpcorg/secidx/secidx"
)

// Index is the concrete secidx.Index implementation for approximate
// nearest-neighbor search: it maps an embedding column to its coarse
// cluster id (the rewritten primary column value) and stores a residual
// product-quantization code as the secondary entry, with the secondary
// column family doubling as inverted-list storage.
type Index struct {
	primaryCF   string
	secondaryCF string
	columnName  []byte
	dim         int

	cq       *CoarseQuantizer
	enc      *FineEncoder
	invLists *KVInvertedLists
}

// NewIndex builds an Index from an already-trained coarse quantizer and
// fine encoder. columnName is the primary-record column holding the raw
// little-endian float32 embedding bytes. The index is declared over the
// "vectors" primary column family; it names no secondary column family,
// so secidx.Open binds its secondary entries to the store's default one.
func NewIndex(columnName string, cq *CoarseQuantizer, enc *FineEncoder) *Index {
	return &Index{
		primaryCF:  "vectors",
		columnName: []byte(columnName),
		dim:        cq.Dim(),
		cq:         cq,
		enc:        enc,
		invLists:   NewKVInvertedLists(cq.NumLists(), enc.CodeSize()),
	}
}

func (x *Index) BindPrimaryCF(cf string)   { x.primaryCF = cf }
func (x *Index) BindSecondaryCF(cf string) { x.secondaryCF = cf }
func (x *Index) PrimaryCF() string         { return x.primaryCF }
func (x *Index) SecondaryCF() string       { return x.secondaryCF }
func (x *Index) IndexedColumnName() []byte { return x.columnName }

// RewritePrimaryColumn replaces the raw embedding with its coarse cluster
// id, so the persisted primary record never duplicates the full vector
// that the secondary entries already encode a lossy copy of.
func (x *Index) RewritePrimaryColumn(pk, oldValue []byte) ([]byte, bool, error) {
	v, err := BytesToFloat32s(oldValue)
	if err != nil {
		return nil, false, err
	}
	if len(v) != x.dim {
		return nil, false, secidx.ErrInvalidArgument
	}
	clusterID, err := x.cq.Assign(v)
	if err != nil {
		return nil, false, err
	}
	return EncodeClusterID(clusterID), true, nil
}

// SecondaryKeyPrefix is the identity on an already-encoded cluster id: by
// the time this is called, primaryColumnValue is either the rewritten
// primary column (from the write path) or a caller-encoded cluster id
// (from Cursor.Seek during search).
func (x *Index) SecondaryKeyPrefix(pk, primaryColumnValue []byte) ([]byte, error) {
	return primaryColumnValue, nil
}

func (x *Index) FinalizePrefix(prefix []byte) ([]byte, error) { return prefix, nil }

// SecondaryValue PQ-encodes the residual of the pre-rewrite embedding
// (primaryColumnValueBefore) against the cluster id decoded from the
// rewritten value (primaryColumnValueAfter).
func (x *Index) SecondaryValue(pk, primaryColumnValueAfter, primaryColumnValueBefore []byte) ([]byte, bool, error) {
	clusterID, _, err := DecodeClusterID(primaryColumnValueAfter)
	if err != nil {
		return nil, false, err
	}
	v, err := BytesToFloat32s(primaryColumnValueBefore)
	if err != nil {
		return nil, false, err
	}
	if len(v) != x.dim {
		return nil, false, secidx.ErrInvalidArgument
	}
	code, err := x.enc.Encode(v, clusterID)
	if err != nil {
		return nil, false, err
	}
	return code, true, nil
}

// Result is one ranked match from FindKNN.
type Result struct {
	PrimaryKey []byte
	Distance   float32
}

type candidate struct {
	localID int32
	dist    float32
}

// FindKNN probes the nprobe clusters nearest to target and returns the k
// closest stored vectors among their inverted lists, ranked by ascending
// asymmetric (query-to-code) squared L2 distance. cursor must be a fresh
// Cursor over this index, reused across every probed cluster.
func (x *Index) FindKNN(cursor *secidx.Cursor, target []float32, k, nprobe int) (results []Result, err error) {
	start := time.Now()
	scanned := 0
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ObserveKNNSearch(string(x.columnName), outcome, start, scanned)
	}()

	if cursor == nil {
		return nil, secidx.ErrInvalidArgument
	}
	if len(target) != x.dim {
		return nil, secidx.ErrInvalidArgument
	}
	if k <= 0 || nprobe <= 0 {
		return nil, secidx.ErrInvalidArgument
	}
	if nprobe > x.cq.NumLists() {
		nprobe = x.cq.NumLists()
	}

	probes := x.nearestClusters(target, nprobe)

	ctx := &KNNContext{}
	var candidates []candidate
	for _, clusterID := range probes {
		residual := x.cq.Residual(target, clusterID)
		it, err := x.invLists.GetIterator(cursor, clusterID, ctx)
		if err != nil {
			return nil, err
		}
		for it.IsAvailable() {
			localID, code, err := it.GetIDAndCode()
			if err != nil {
				return nil, err
			}
			dist := x.enc.AsymmetricDistance(residual, code)
			candidates = append(candidates, candidate{localID: localID, dist: dist})
			scanned++
			it.Next()
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results = make([]Result, len(candidates))
	for i, c := range candidates {
		if int(c.localID) < 0 || int(c.localID) >= len(ctx.Keys) {
			return nil, secidx.ErrCorruption
		}
		results[i] = Result{PrimaryKey: ctx.Keys[c.localID], Distance: c.dist}
	}
	return results, nil
}

// nearestClusters returns the ids of the nprobe clusters whose centroids
// are closest to target, ordered nearest first.
func (x *Index) nearestClusters(target []float32, nprobe int) []int32 {
	type scored struct {
		id   int32
		dist float32
	}
	all := make([]scored, x.cq.NumLists())
	for j := 0; j < x.cq.NumLists(); j++ {
		id := int32(j)
		all[j] = scored{id: id, dist: squaredL2(target, x.cq.Centroid(id))}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	out := make([]int32, nprobe)
	for i := 0; i < nprobe; i++ {
		out[i] = all[i].id
	}
	return out
}
