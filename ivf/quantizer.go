// Package ivf is the FAISS-style inverted-file vector index: a coarse
// quantizer maps an embedding to its nearest cluster, a fine encoder
// quantizes the residual against that cluster's centroid, and the
// resulting (cluster id, code) pair is stored as a secidx secondary
// entry, with the secondary column family itself acting as the
// inverted-list persistence layer.
package ivf

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// CoarseQuantizer assigns a vector to its nearest centroid among the
// numLists it was trained with. It is read-only once TrainCoarseQuantizer
// returns it and safe for concurrent Assign calls.
type CoarseQuantizer struct {
	dim       int
	numLists  int
	centroids []float32 // numLists * dim, flattened
}

// Dim reports the vector dimensionality this quantizer was trained for.
func (q *CoarseQuantizer) Dim() int { return q.dim }

// NumLists reports the number of clusters this quantizer was trained with.
func (q *CoarseQuantizer) NumLists() int { return q.numLists }

// Centroid returns the trained centroid for clusterID, as a view into the
// quantizer's flattened centroid table. Callers must not mutate it.
func (q *CoarseQuantizer) Centroid(clusterID int32) []float32 {
	return q.centroids[int(clusterID)*q.dim : int(clusterID+1)*q.dim]
}

// TrainCoarseQuantizer trains numLists centroids over vectors (a flat
// slice of len(vectors)/dim rows of dim float32s each) using Lloyd's
// algorithm, grounded on the k-means training loop surveyed in the
// vector-search example pack: random initialization from data points,
// alternating assignment/update steps, re-seeding any cluster that goes
// empty from a random data point rather than leaving it stranded.
//
// rng drives every random choice (initial centroid sampling and empty-
// cluster re-seeding). Pass a rand.Rand built from a fixed seed to make
// training reproducible across calls on identical input; pass nil to seed
// from the current time.
func TrainCoarseQuantizer(vectors []float32, dim, numLists, maxIter int, rng *rand.Rand) (*CoarseQuantizer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("ivf: dim must be positive")
	}
	if len(vectors)%dim != 0 {
		return nil, fmt.Errorf("ivf: training data length %d is not a multiple of dim %d", len(vectors), dim)
	}
	n := len(vectors) / dim
	if n < numLists {
		return nil, fmt.Errorf("ivf: %d training vectors is fewer than numLists=%d", n, numLists)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	centroids := make([]float32, numLists*dim)
	perm := rng.Perm(n)
	for i := 0; i < numLists; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, numLists)
	sums := make([]float32, numLists*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best, bestDist := 0, squaredL2(vec, centroids[0:dim])
			for j := 1; j < numLists; j++ {
				d := squaredL2(vec, centroids[j*dim:(j+1)*dim])
				if d < bestDist {
					bestDist, best = d, j
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += vec[d]
			}
			counts[c]++
		}
		for j := 0; j < numLists; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return &CoarseQuantizer{dim: dim, numLists: numLists, centroids: centroids}, nil
}

// Assign returns the id of v's nearest centroid by squared L2 distance.
func (q *CoarseQuantizer) Assign(v []float32) (int32, error) {
	if len(v) != q.dim {
		return 0, fmt.Errorf("ivf: vector has %d dims, quantizer trained for %d", len(v), q.dim)
	}
	best, bestDist := int32(0), float32(math.MaxFloat32)
	for j := 0; j < q.numLists; j++ {
		d := squaredL2(v, q.centroids[j*q.dim:(j+1)*q.dim])
		if d < bestDist {
			bestDist, best = d, int32(j)
		}
	}
	return best, nil
}

// Residual returns v minus clusterID's centroid; clusterID need not be
// the cluster Assign would pick for v.
func (q *CoarseQuantizer) Residual(v []float32, clusterID int32) []float32 {
	centroid := q.Centroid(clusterID)
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] - centroid[i]
	}
	return out
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
