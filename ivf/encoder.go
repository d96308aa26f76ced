package ivf

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// FineEncoder is a product quantizer trained on residuals (v minus its
// assigned cluster centroid), matching FAISS's IVFPQ residual encoding:
// each vector is split into numSubvectors equal slices, and each slice is
// quantized independently against its own 256-entry (uint8-indexed)
// codebook. Grounded on the product-quantization training/encode/decode
// loop surveyed in the vector-search example pack, adapted here to
// operate on residuals rather than raw vectors.
type FineEncoder struct {
	cq            *CoarseQuantizer
	dim           int
	numSubvectors int
	subvectorDim  int
	codebooks     [][][]float32 // numSubvectors codebooks of 256 centroids each
}

// CodeSize is the number of bytes Encode produces per vector.
func (e *FineEncoder) CodeSize() int { return e.numSubvectors }

// TrainFineEncoder trains a residual product quantizer against cq.
// vectors is a flat slice of len(vectors)/dim rows of dim float32s.
//
// rng drives every random choice in the per-subvector k-means++ training
// below. Pass a rand.Rand built from a fixed seed to make training
// reproducible across calls on identical input; pass nil to seed from the
// current time.
func TrainFineEncoder(cq *CoarseQuantizer, vectors []float32, dim, numSubvectors, maxIter int, rng *rand.Rand) (*FineEncoder, error) {
	if dim != cq.Dim() {
		return nil, fmt.Errorf("ivf: fine encoder dim %d does not match coarse quantizer dim %d", dim, cq.Dim())
	}
	if dim%numSubvectors != 0 {
		return nil, fmt.Errorf("ivf: dim %d is not divisible by numSubvectors %d", dim, numSubvectors)
	}
	if len(vectors)%dim != 0 {
		return nil, fmt.Errorf("ivf: training data length %d is not a multiple of dim %d", len(vectors), dim)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	n := len(vectors) / dim
	subvectorDim := dim / numSubvectors
	const numCentroids = 256

	residuals := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := vectors[i*dim : (i+1)*dim]
		clusterID, err := cq.Assign(v)
		if err != nil {
			return nil, err
		}
		residuals[i] = cq.Residual(v, clusterID)
	}

	codebooks := make([][][]float32, numSubvectors)
	for m := 0; m < numSubvectors; m++ {
		sub := make([][]float32, n)
		for i := range residuals {
			start := m * subvectorDim
			sub[i] = residuals[i][start : start+subvectorDim]
		}
		codebooks[m] = trainSubCodebook(sub, numCentroids, maxIter, rng)
	}

	return &FineEncoder{
		cq:            cq,
		dim:           dim,
		numSubvectors: numSubvectors,
		subvectorDim:  subvectorDim,
		codebooks:     codebooks,
	}, nil
}

// Encode subtracts clusterID's centroid from v, then PQ-encodes the
// residual, one byte per subvector.
func (e *FineEncoder) Encode(v []float32, clusterID int32) ([]byte, error) {
	if len(v) != e.dim {
		return nil, fmt.Errorf("ivf: vector has %d dims, encoder trained for %d", len(v), e.dim)
	}
	residual := e.cq.Residual(v, clusterID)
	code := make([]byte, e.numSubvectors)
	for m := 0; m < e.numSubvectors; m++ {
		start := m * e.subvectorDim
		sub := residual[start : start+e.subvectorDim]
		code[m] = byte(nearestCentroid(sub, e.codebooks[m]))
	}
	return code, nil
}

// Decode reconstructs an approximate vector from code and clusterID.
func (e *FineEncoder) Decode(code []byte, clusterID int32) ([]float32, error) {
	if len(code) != e.numSubvectors {
		return nil, fmt.Errorf("ivf: code has %d bytes, encoder expects %d", len(code), e.numSubvectors)
	}
	centroid := e.cq.Centroid(clusterID)
	out := make([]float32, e.dim)
	for m := 0; m < e.numSubvectors; m++ {
		start := m * e.subvectorDim
		sub := e.codebooks[m][code[m]]
		for i, x := range sub {
			out[start+i] = x + centroid[start+i]
		}
	}
	return out, nil
}

// AsymmetricDistance computes the squared L2 distance between a
// full-precision query residual and an encoded code, without fully
// decoding the code first.
func (e *FineEncoder) AsymmetricDistance(queryResidual []float32, code []byte) float32 {
	var dist float32
	for m := 0; m < e.numSubvectors; m++ {
		start := m * e.subvectorDim
		centroid := e.codebooks[m][code[m]]
		for i, x := range queryResidual[start : start+e.subvectorDim] {
			d := x - centroid[i]
			dist += d * d
		}
	}
	return dist
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for i, c := range centroids {
		d := squaredL2(v, c)
		if d < bestDist {
			bestDist, best = d, i
		}
	}
	return best
}

// trainSubCodebook runs k-means (with k-means++ seeding) over one
// subvector position across the training set, grounded on the same
// seeding/assignment/update loop surveyed for the coarse quantizer,
// specialized to k-means++ initialization since 256 centroids drawn
// uniformly at random tend to collide on small training sets. With fewer
// training vectors than k, no k-means runs: the training vectors
// themselves, repeated cyclically, become the k centroids.
func trainSubCodebook(vectors [][]float32, k, maxIter int, rng *rand.Rand) [][]float32 {
	if len(vectors) < k {
		dim := len(vectors[0])
		centroids := make([][]float32, k)
		for i := range centroids {
			centroids[i] = make([]float32, dim)
			copy(centroids[i], vectors[i%len(vectors)])
		}
		return centroids
	}

	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}

	copy(centroids[0], vectors[rng.Intn(len(vectors))])

	minDistSq := make([]float32, len(vectors))
	var sum float32
	for i, v := range vectors {
		d := squaredL2(v, centroids[0])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c], vectors[rng.Intn(len(vectors))])
			continue
		}
		target := rng.Float32() * sum
		var cumsum float32
		chosen := 0
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], vectors[chosen])

		sum = 0
		for i, v := range vectors {
			d := squaredL2(v, centroids[c])
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vectors {
			nearest := nearestCentroid(v, centroids)
			if assignments[i] != nearest {
				assignments[i] = nearest
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float32, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			for d := 0; d < dim; d++ {
				sums[c][d] += v[d]
			}
			counts[c]++
		}
		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j][d] = sums[j][d] * scale
				}
			} else {
				copy(centroids[j], vectors[rng.Intn(len(vectors))])
			}
		}
	}

	return centroids
}
