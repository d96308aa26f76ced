// Command secidxdemo opens a store under a given directory, trains an IVF
// vector index over a handful of embeddings, writes them, and runs one
// nearest-neighbor query against what it just wrote.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/drpcorg/secidx/ivf"
	"github.com/drpcorg/secidx/kv"
	"github.com/drpcorg/secidx/secidx"
)

func main() {
	dir := flag.String("dir", "", "store directory (created if absent)")
	dim := flag.Int("dim", 16, "embedding dimensionality")
	numVectors := flag.Int("vectors", 200, "number of random vectors to insert")
	numLists := flag.Int("lists", 8, "number of coarse clusters")
	numSubvectors := flag.Int("subvectors", 4, "number of PQ subvectors")
	nprobe := flag.Int("nprobe", 2, "clusters probed per query")
	k := flag.Int("k", 5, "neighbors returned per query")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: secidxdemo -dir <path> [-dim N] [-vectors N] [-lists N]")
		os.Exit(2)
	}

	if err := run(*dir, *dim, *numVectors, *numLists, *numSubvectors, *nprobe, *k); err != nil {
		fmt.Fprintln(os.Stderr, "secidxdemo:", err)
		os.Exit(1)
	}
}

func run(dir string, dim, numVectors, numLists, numSubvectors, nprobe, k int) error {
	vectors := make([][]float32, numVectors)
	flat := make([]float32, 0, numVectors*dim)
	for i := range vectors {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rand.Float32()*20 - 10
		}
		vectors[i] = v
		flat = append(flat, v...)
	}

	cq, err := ivf.TrainCoarseQuantizer(flat, dim, numLists, 25, nil)
	if err != nil {
		return fmt.Errorf("train coarse quantizer: %w", err)
	}
	enc, err := ivf.TrainFineEncoder(cq, flat, dim, numSubvectors, 25, nil)
	if err != nil {
		return fmt.Errorf("train fine encoder: %w", err)
	}

	idx := ivf.NewIndex("embedding", cq, enc)
	db, err := secidx.Open(dir, secidx.Options{}, []secidx.Index{idx})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	txn := db.BeginTxn()
	for i, v := range vectors {
		pk := []byte(fmt.Sprintf("vec-%06d", i))
		cols := kv.WideColumns{{Name: "embedding", Value: ivf.Float32sToBytes(v)}}
		if err := txn.PutEntity("vectors", pk, cols, false); err != nil {
			return fmt.Errorf("insert %s: %w", pk, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}

	query := vectors[0]
	searchTxn := db.BeginTxn()
	defer searchTxn.Commit()
	cur, err := searchTxn.NewCursor(idx)
	if err != nil {
		return fmt.Errorf("open cursor: %w", err)
	}
	defer cur.Close()

	results, err := idx.FindKNN(cur, query, k, nprobe)
	if err != nil {
		return fmt.Errorf("find knn: %w", err)
	}

	fmt.Printf("inserted %d vectors into %q; %d nearest neighbors of vec-000000:\n", numVectors, dir, len(results))
	for _, r := range results {
		fmt.Printf("  %s\tdistance=%.4f\n", r.PrimaryKey, r.Distance)
	}
	return nil
}
