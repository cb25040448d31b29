package cluster

import (
	"fmt"
)

// minElbowImprovement is the relative WSS improvement a step must reach to
// count as an elbow candidate.
const minElbowImprovement = 0.01

// KSweepPoint records the clustering quality at one candidate k.
type KSweepPoint struct {
	K   int     `json:"k"`
	WSS float64 `json:"wss"` // within-cluster sum of squares of the best restart
}

// SelectK chooses a cluster count from [kMin, kMax] by the elbow rule:
// run k-means at each candidate k and recommend the k whose step from k-1
// yields the largest relative WSS drop (WSS[k-1]-WSS[k])/WSS[k-1], ignoring
// steps improving by less than 1%; ties go to the smaller k, and if no step
// clears the threshold the recommendation is kMin. Each candidate uses the
// same seed and restart count, so the sweep is deterministic for fixed
// inputs.
func SelectK(rows [][]float64, kMin, kMax, restarts int, seed int64) (int, []KSweepPoint, error) {
	if kMin < 2 || kMax < kMin {
		return 0, nil, fmt.Errorf("cluster: invalid k range [%d, %d]", kMin, kMax)
	}
	if len(rows) < kMax {
		return 0, nil, fmt.Errorf("%w: %d rows for k range up to %d", ErrInsufficientData, len(rows), kMax)
	}

	// Include k-1 below the range so the first candidate has a drop to
	// measure against.
	sweep := make([]KSweepPoint, 0, kMax-kMin+2)
	for k := kMin - 1; k <= kMax; k++ {
		if k < 1 {
			continue
		}
		res, err := KMeans(rows, k, restarts, seed)
		if err != nil {
			return 0, nil, fmt.Errorf("k sweep at k=%d: %w", k, err)
		}
		sweep = append(sweep, KSweepPoint{K: k, WSS: res.Inertia})
	}

	recommended := kMin
	bestDrop := 0.0
	for i := 1; i < len(sweep); i++ {
		if sweep[i].K < kMin {
			continue
		}
		prev := sweep[i-1].WSS
		if prev <= 0 {
			continue
		}
		drop := (prev - sweep[i].WSS) / prev
		if drop >= minElbowImprovement && drop > bestDrop {
			bestDrop = drop
			recommended = sweep[i].K
		}
	}

	return recommended, sweep, nil
}
