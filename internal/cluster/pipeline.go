// Package cluster partitions streamers into behavioral archetypes.
//
// The pipeline standardizes the behavioral features over the retained
// (complete) rows, picks a cluster count with an elbow heuristic on
// within-cluster sum of squares, runs seeded multi-restart k-means, projects
// the rows onto their top two principal components for inspection, and
// summarizes each cluster with descriptive statistics and a post-hoc label.
// The only randomness is k-means initialization, controlled entirely by the
// configured seed.
package cluster

import (
	"context"
	"fmt"
	"log/slog"

	"streamlytics/internal/dataset"
)

// Config controls a pipeline run.
type Config struct {
	KMin     int   `json:"k_min"`
	KMax     int   `json:"k_max"`
	Restarts int   `json:"restarts"`
	Seed     int64 `json:"seed"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{KMin: 2, KMax: 8, Restarts: 10, Seed: 42}
}

// Result is the full outcome of one pipeline run.
type Result struct {
	RecommendedK      int           `json:"recommended_k"`
	Sweep             []KSweepPoint `json:"sweep"`
	KMeans            *KMeansResult `json:"kmeans"`
	Assignments       []Assignment  `json:"assignments"`
	Summaries         []Summary     `json:"summaries"`
	ExplainedVariance [2]float64    `json:"explained_variance"`
	RetainedRows      int           `json:"retained_rows"`
	ExcludedRows      int           `json:"excluded_rows"`
	Scaler            *Scaler       `json:"scaler"`
}

// Pipeline clusters streamer profiles.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// NewPipeline creates a pipeline with the given configuration.
func NewPipeline(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KMin == 0 && cfg.KMax == 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Run executes the full pipeline over the snapshot. Profiles missing any
// clustering feature are excluded here only, not globally. A run either
// fully succeeds or returns an error with no partial result.
func (p *Pipeline) Run(ctx context.Context, profiles []dataset.StreamerProfile) (*Result, error) {
	featureNames := dataset.ClusterFeatureNames()
	if len(featureNames) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientFeatures, len(featureNames))
	}

	var retained []dataset.StreamerProfile
	for _, sp := range profiles {
		if sp.HasClusterFeatures() {
			retained = append(retained, sp)
		}
	}
	excluded := len(profiles) - len(retained)
	if len(retained) < p.cfg.KMax {
		return nil, fmt.Errorf("%w: %d retained rows for k up to %d",
			ErrInsufficientData, len(retained), p.cfg.KMax)
	}

	p.logger.InfoContext(ctx, "starting cluster pipeline",
		"retained", len(retained),
		"excluded", excluded,
		"features", len(featureNames),
		"k_range", fmt.Sprintf("[%d,%d]", p.cfg.KMin, p.cfg.KMax),
		"restarts", p.cfg.Restarts,
		"seed", p.cfg.Seed,
	)

	original := make([][]float64, len(retained))
	outcome := make([]float64, len(retained))
	for i, sp := range retained {
		original[i] = sp.ClusterFeatures()
		outcome[i] = sp.FollowersGainedPerStream
	}

	scaler, err := FitScaler(original)
	if err != nil {
		return nil, err
	}
	standardized := scaler.Transform(original)

	k, sweep, err := SelectK(standardized, p.cfg.KMin, p.cfg.KMax, p.cfg.Restarts, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("select k: %w", err)
	}
	p.logger.DebugContext(ctx, "selected cluster count", "k", k)

	km, err := KMeans(standardized, k, p.cfg.Restarts, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("k-means fit: %w", err)
	}

	projections, explained, err := Project2D(standardized)
	if err != nil {
		return nil, fmt.Errorf("2d projection: %w", err)
	}

	summaries, err := Summarize(km, featureNames, original, outcome)
	if err != nil {
		return nil, err
	}
	labels := Label(summaries, featureNames)
	for i := range summaries {
		summaries[i].Label = labels[summaries[i].ClusterID]
	}

	assignments := make([]Assignment, len(retained))
	for i, sp := range retained {
		assignments[i] = Assignment{
			StreamerID: sp.ID,
			ClusterID:  km.Assignments[i] + 1,
			PC1:        projections[i].PC1,
			PC2:        projections[i].PC2,
		}
	}

	p.logger.InfoContext(ctx, "cluster pipeline completed",
		"k", k,
		"inertia", km.Inertia,
		"pc1_variance", explained[0],
		"pc2_variance", explained[1],
	)

	return &Result{
		RecommendedK:      k,
		Sweep:             sweep,
		KMeans:            km,
		Assignments:       assignments,
		Summaries:         summaries,
		ExplainedVariance: explained,
		RetainedRows:      len(retained),
		ExcludedRows:      excluded,
		Scaler:            scaler,
	}, nil
}
