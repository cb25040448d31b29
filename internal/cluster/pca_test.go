package cluster

import (
	"errors"
	"math"
	"testing"
)

// planarRows embeds 2-D points (a, b) as (a, b, a, b), so all variance lives
// in two components and pairwise distances survive the projection exactly up
// to a common scale.
func planarRows() [][]float64 {
	pts := [][2]float64{
		{0, 0},
		{5, 0},
		{0, 5},
		{5, 5},
		{2.4, 2.5},
		{2.6, 2.5},
		{1, 4},
		{4, 1},
	}
	rows := make([][]float64, len(pts))
	for i, p := range pts {
		rows[i] = []float64{p[0], p[1], p[0], p[1]}
	}
	return rows
}

func nearestPair(dist func(i, j int) float64, n int) [2]int {
	best := [2]int{0, 1}
	bestD := math.Inf(1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if d := dist(i, j); d < bestD {
				best, bestD = [2]int{i, j}, d
			}
		}
	}
	return best
}

func TestProject2DPreservesNeighbors(t *testing.T) {
	rows := planarRows()

	proj, ratios, err := Project2D(rows)
	if err != nil {
		t.Fatalf("Project2D: %v", err)
	}
	if len(proj) != len(rows) {
		t.Fatalf("got %d projections, want %d", len(proj), len(rows))
	}

	// All variance is planar, so two components explain everything.
	if total := ratios[0] + ratios[1]; math.Abs(total-1) > 1e-9 {
		t.Errorf("explained variance: got %v, want 1", total)
	}
	if ratios[0] < ratios[1] {
		t.Errorf("ratios out of order: %v < %v", ratios[0], ratios[1])
	}

	orig := nearestPair(func(i, j int) float64 { return sqDist(rows[i], rows[j]) }, len(rows))
	projected := nearestPair(func(i, j int) float64 {
		d1 := proj[i].PC1 - proj[j].PC1
		d2 := proj[i].PC2 - proj[j].PC2
		return d1*d1 + d2*d2
	}, len(proj))

	if orig != projected {
		t.Errorf("nearest pair changed: %v in feature space, %v after projection", orig, projected)
	}
}

func TestProject2DDeterministic(t *testing.T) {
	rows := threeBlobs(5)

	first, _, err := Project2D(rows)
	if err != nil {
		t.Fatalf("Project2D: %v", err)
	}
	second, _, err := Project2D(rows)
	if err != nil {
		t.Fatalf("Project2D: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("projection %d differs between identical runs", i)
		}
	}
}

func TestProject2DErrors(t *testing.T) {
	if _, _, err := Project2D(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("got %v, want ErrInsufficientData for no rows", err)
	}
	one := [][]float64{{1}, {2}, {3}}
	if _, _, err := Project2D(one); !errors.Is(err, ErrInsufficientFeatures) {
		t.Errorf("got %v, want ErrInsufficientFeatures for 1 feature", err)
	}
	two := [][]float64{{1, 2}, {3, 4}}
	if _, _, err := Project2D(two); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("got %v, want ErrInsufficientData for 2 rows", err)
	}
}
