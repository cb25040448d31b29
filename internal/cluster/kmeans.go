package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrEmptyCluster is returned when a cluster ends up with zero members
	// after convergence on every restart. Callers may retry with a different
	// seed or restart count; the pipeline itself never retries.
	ErrEmptyCluster = errors.New("cluster: empty cluster after convergence")

	// ErrInsufficientFeatures is returned when fewer than 2 feature columns
	// are provided (the 2-D projection is then degenerate).
	ErrInsufficientFeatures = errors.New("cluster: need at least 2 features")

	// ErrInsufficientData is returned when there are fewer retained rows
	// than requested clusters.
	ErrInsufficientData = errors.New("cluster: insufficient rows")
)

// maxLloydIterations bounds a single k-means run.
const maxLloydIterations = 200

// KMeansResult is the best restart of a Lloyd's algorithm run.
type KMeansResult struct {
	K           int         `json:"k"`
	Seed        int64       `json:"seed"`
	Restarts    int         `json:"restarts"`
	Centroids   [][]float64 `json:"centroids"`
	Assignments []int       `json:"assignments"` // cluster index per row, 0-based
	Inertia     float64     `json:"inertia"`     // total within-cluster sum of squares
	Iterations  int         `json:"iterations"`
}

// KMeans runs Lloyd's algorithm with the given number of random restarts and
// keeps the restart with the lowest inertia. Restart i draws its
// initialization from seed+i, so results are reproducible for a fixed seed
// and restart count regardless of execution order.
func KMeans(rows [][]float64, k, restarts int, seed int64) (*KMeansResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("cluster: k must be >= 1, got %d", k)
	}
	if restarts < 1 {
		return nil, fmt.Errorf("cluster: restarts must be >= 1, got %d", restarts)
	}
	if len(rows) < k {
		return nil, fmt.Errorf("%w: %d rows for k=%d", ErrInsufficientData, len(rows), k)
	}

	var best *KMeansResult
	var lastErr error
	for r := 0; r < restarts; r++ {
		res, err := lloyd(rows, k, rand.New(rand.NewSource(seed+int64(r))))
		if err != nil {
			lastErr = err
			continue
		}
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	if best == nil {
		return nil, lastErr
	}

	best.K = k
	best.Seed = seed
	best.Restarts = restarts
	return best, nil
}

// lloyd is one seeded k-means run: random distinct-point initialization, then
// assign/update until assignments stop changing. A centroid that empties
// mid-run is reseeded to the point farthest from its centroid; a cluster
// still empty at convergence fails the restart.
func lloyd(rows [][]float64, k int, rng *rand.Rand) (*KMeansResult, error) {
	n := len(rows)
	dims := len(rows[0])

	centroids := make([][]float64, k)
	for i, idx := range rng.Perm(n)[:k] {
		centroids[i] = append([]float64(nil), rows[idx]...)
	}

	assign := make([]int, n)
	counts := make([]int, k)
	iterations := 0

	for iter := 0; iter < maxLloydIterations; iter++ {
		iterations = iter + 1
		changed := false

		for i, row := range rows {
			bestC, bestD := 0, math.Inf(1)
			for c, cent := range centroids {
				if d := sqDist(row, cent); d < bestD {
					bestC, bestD = c, d
				}
			}
			if assign[i] != bestC || iter == 0 {
				if iter > 0 {
					changed = true
				}
				assign[i] = bestC
			}
		}
		if iter > 0 && !changed {
			break
		}

		for c := range counts {
			counts[c] = 0
		}
		for c := range centroids {
			for j := 0; j < dims; j++ {
				centroids[c][j] = 0
			}
		}
		for i, row := range rows {
			c := assign[i]
			counts[c]++
			for j, v := range row {
				centroids[c][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Reseed to the point farthest from its current centroid.
				centroids[c] = append([]float64(nil), rows[farthestPoint(rows, centroids, assign)]...)
				continue
			}
			for j := 0; j < dims; j++ {
				centroids[c][j] /= float64(counts[c])
			}
		}
	}

	for c := range counts {
		counts[c] = 0
	}
	inertia := 0.0
	for i, row := range rows {
		counts[assign[i]]++
		inertia += sqDist(row, centroids[assign[i]])
	}
	for c, cnt := range counts {
		if cnt == 0 {
			return nil, fmt.Errorf("%w: cluster %d", ErrEmptyCluster, c)
		}
	}

	return &KMeansResult{
		Centroids:   centroids,
		Assignments: assign,
		Inertia:     inertia,
		Iterations:  iterations,
	}, nil
}

func farthestPoint(rows, centroids [][]float64, assign []int) int {
	worst, worstD := 0, -1.0
	for i, row := range rows {
		if d := sqDist(row, centroids[assign[i]]); d > worstD {
			worst, worstD = i, d
		}
	}
	return worst
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for j := range a {
		d := a[j] - b[j]
		sum += d * d
	}
	return sum
}
