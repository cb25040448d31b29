package cluster

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Assignment ties one retained streamer to its cluster and 2-D projection.
// Cluster ids are 1-based and stable only within a single pipeline run.
type Assignment struct {
	StreamerID int     `json:"streamer_id"`
	ClusterID  int     `json:"cluster_id"`
	PC1        float64 `json:"pc1"`
	PC2        float64 `json:"pc2"`
}

// Summary describes one cluster by the means of its members on the original
// (unstandardized) features plus the follower-gain outcome. Recomputed each
// run, never persisted independently.
type Summary struct {
	ClusterID        int                `json:"cluster_id"`
	Label            string             `json:"label"`
	FeatureMeans     map[string]float64 `json:"feature_means"`
	MeanFollowerGain float64            `json:"mean_follower_gain"`
	MemberCount      int                `json:"member_count"`
}

// Summarize computes per-cluster summaries from the fitted assignments and
// the original feature rows. followerGain is the outcome per retained row;
// it is reported alongside but was not a clustering feature.
func Summarize(res *KMeansResult, featureNames []string, original [][]float64, followerGain []float64) ([]Summary, error) {
	if len(original) != len(res.Assignments) || len(followerGain) != len(res.Assignments) {
		return nil, fmt.Errorf("cluster: summary inputs misaligned: %d assignments, %d rows, %d outcomes",
			len(res.Assignments), len(original), len(followerGain))
	}

	summaries := make([]Summary, res.K)
	sums := make([][]float64, res.K)
	gains := make([]float64, res.K)
	for c := 0; c < res.K; c++ {
		sums[c] = make([]float64, len(featureNames))
	}

	for i, c := range res.Assignments {
		summaries[c].MemberCount++
		gains[c] += followerGain[i]
		for j, v := range original[i] {
			sums[c][j] += v
		}
	}

	for c := 0; c < res.K; c++ {
		if summaries[c].MemberCount == 0 {
			return nil, fmt.Errorf("%w: cluster %d", ErrEmptyCluster, c+1)
		}
		n := float64(summaries[c].MemberCount)
		summaries[c].ClusterID = c + 1
		summaries[c].MeanFollowerGain = gains[c] / n
		summaries[c].FeatureMeans = make(map[string]float64, len(featureNames))
		for j, name := range featureNames {
			summaries[c].FeatureMeans[name] = sums[c][j] / n
		}
	}
	return summaries, nil
}

// featureTags maps feature names to the short words used in labels.
var featureTags = map[string]string{
	"avg_viewers_per_stream":    "audience",
	"avg_stream_duration_hours": "duration",
	"avg_games_per_stream":      "variety",
	"active_days_per_week":      "frequency",
}

// Label derives a human label for each cluster from how its feature means sit
// relative to the other clusters: the two most distinguishing features (by
// absolute z-score of the cluster mean across cluster means) are tagged
// high/low. Purely descriptive post-processing; never feeds the clustering
// objective.
func Label(summaries []Summary, featureNames []string) map[int]string {
	labels := make(map[int]string, len(summaries))
	if len(summaries) == 0 {
		return labels
	}
	if len(summaries) == 1 {
		labels[summaries[0].ClusterID] = "all streamers"
		return labels
	}

	// Distribution of each feature across cluster means.
	type spread struct{ mean, std float64 }
	spreads := make(map[string]spread, len(featureNames))
	col := make([]float64, len(summaries))
	for _, name := range featureNames {
		for i, s := range summaries {
			col[i] = s.FeatureMeans[name]
		}
		m, sd := stat.MeanStdDev(col, nil)
		spreads[name] = spread{mean: m, std: sd}
	}

	for _, s := range summaries {
		type scored struct {
			name string
			z    float64
		}
		scores := make([]scored, 0, len(featureNames))
		for _, name := range featureNames {
			sp := spreads[name]
			if sp.std == 0 {
				continue
			}
			scores = append(scores, scored{name: name, z: (s.FeatureMeans[name] - sp.mean) / sp.std})
		}
		sort.SliceStable(scores, func(i, j int) bool {
			ai, aj := abs(scores[i].z), abs(scores[j].z)
			if ai != aj {
				return ai > aj
			}
			return scores[i].name < scores[j].name
		})

		parts := make([]string, 0, 2)
		for _, sc := range scores {
			if len(parts) == 2 {
				break
			}
			dir := "high"
			if sc.z < 0 {
				dir = "low"
			}
			tag := featureTags[sc.name]
			if tag == "" {
				tag = sc.name
			}
			parts = append(parts, dir+"-"+tag)
		}
		if len(parts) == 0 {
			labels[s.ClusterID] = "undifferentiated"
			continue
		}
		labels[s.ClusterID] = strings.Join(parts, ", ")
	}
	return labels
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
