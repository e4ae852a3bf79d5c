package cluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// convergenceTol stops mini-batch updates once no center moves further than
// this in standardized units.
const convergenceTol = 1e-7

// MiniBatchKMeans partitions rows into at most K groups. The same Seed and
// input always produce the same labels.
type MiniBatchKMeans struct {
	K         int
	BatchSize int
	MaxIter   int
	Seed      uint64
}

// Fit returns a label per row of X. Labels are dense, starting at 0, and
// numbered in order of first appearance. Centers that end up owning no rows
// are dropped, so fewer than K labels may be used.
func (m MiniBatchKMeans) Fit(X [][]float64) []int {
	n := len(X)
	if n == 0 {
		return nil
	}
	k := min(max(1, m.K), n)
	if k == 1 {
		return make([]int, n)
	}

	rng := rand.New(rand.NewPCG(m.Seed, m.Seed^0x9e3779b97f4a7c15))
	centers := seedCenters(X, k, rng)

	batch := m.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	iters := m.MaxIter
	if iters <= 0 {
		iters = 100
	}

	counts := make([]float64, k)
	idx := make([]int, batch)
	for it := 0; it < iters; it++ {
		for b := range idx {
			idx[b] = rng.IntN(n)
		}
		shift := 0.0
		for _, i := range idx {
			c := nearest(X[i], centers)
			counts[c]++
			eta := 1 / counts[c]
			before := floats.Distance(centers[c], X[i], 2)
			for d := range centers[c] {
				centers[c][d] += eta * (X[i][d] - centers[c][d])
			}
			shift = max(shift, eta*before)
		}
		if shift < convergenceTol {
			break
		}
	}

	labels := make([]int, n)
	for i, x := range X {
		labels[i] = nearest(x, centers)
	}
	return compact(labels)
}

// seedCenters picks k initial centers with k-means++ sampling.
func seedCenters(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(X[rng.IntN(n)]))

	d2 := make([]float64, n)
	for len(centers) < k {
		for i, x := range X {
			d := floats.Distance(x, centers[nearest(x, centers)], 2)
			d2[i] = d * d
		}
		total := floats.Sum(d2)
		var next int
		if total == 0 {
			next = rng.IntN(n)
		} else {
			target := rng.Float64() * total
			for i, w := range d2 {
				target -= w
				if target < 0 {
					next = i
					break
				}
				next = i
			}
		}
		centers = append(centers, clone(X[next]))
	}
	return centers
}

// nearest returns the index of the closest center. Ties go to the lower index.
func nearest(x []float64, centers [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for c, center := range centers {
		if d := floats.Distance(x, center, 2); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

// compact renumbers labels densely in order of first appearance.
func compact(labels []int) []int {
	remap := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := remap[l]
		if !ok {
			id = len(remap)
			remap[l] = id
		}
		out[i] = id
	}
	return out
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
