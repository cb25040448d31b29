// Package analysis coordinates the three analytics engines over one set of
// loaded records: counterfactual trend baselines at the configured event
// dates, the mixed-effects regression of follower growth, and the behavioral
// clustering pipeline. The engines are independent and run concurrently; a
// run either completes with a full report or fails. Retrying clustering with
// a different seed, or a baseline with a relaxed cutoff, is the caller's
// policy, not this package's.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"streamlytics/internal/cluster"
	"streamlytics/internal/dataset"
	"streamlytics/internal/mixedmodel"
	"streamlytics/internal/trend"
)

// ResponseField is the regression outcome.
const ResponseField = "followers_gained_per_stream"

// GroupField is the random-intercept grouping factor.
const GroupField = "most_streamed_game"

// Config drives one analysis run.
type Config struct {
	BaselineCutoff time.Time
	EventDates     []time.Time

	// Categories with fewer pre-cutoff points than this are skipped in the
	// per-category baseline pass.
	MinCategoryPoints int

	MarginalGridSize int

	Mixed   mixedmodel.Options
	Cluster cluster.Config
}

// DefaultConfig returns orchestrator defaults; cutoff and event dates must
// still be set by the caller.
func DefaultConfig() Config {
	return Config{
		MinCategoryPoints: 3,
		MarginalGridSize:  20,
		Mixed:             mixedmodel.DefaultOptions(),
		Cluster:           cluster.DefaultConfig(),
	}
}

// EventDeviation is the counterfactual comparison at one event date.
type EventDeviation struct {
	Date         time.Time `json:"date"`
	Actual       float64   `json:"actual"`
	Predicted    float64   `json:"predicted"`
	DeviationPct float64   `json:"deviation_pct"`
}

// BaselineReport is one fitted global baseline plus its event deviations.
type BaselineReport struct {
	Metric trend.Metric         `json:"metric"`
	Model  *trend.BaselineModel `json:"model"`
	Events []EventDeviation     `json:"events"`
}

// CategoryDeviation is a per-category counterfactual comparison at one event
// date.
type CategoryDeviation struct {
	Category     string    `json:"category"`
	Date         time.Time `json:"date"`
	Actual       float64   `json:"actual"`
	Predicted    float64   `json:"predicted"`
	DeviationPct float64   `json:"deviation_pct"`
}

// Report is the structured output of a full run. Values only; formatting and
// rendering belong to the presentation layer.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	Baselines          []BaselineReport    `json:"baselines"`
	CategoryDeviations []CategoryDeviation `json:"category_deviations"`

	Regression *mixedmodel.RegressionResult          `json:"regression"`
	NullModel  *mixedmodel.RegressionResult          `json:"null_model"`
	Marginals  map[string][]mixedmodel.MarginalPoint `json:"marginals"`

	Clusters *cluster.Result `json:"clusters"`
}

// Run executes the three engines over the loaded records.
func Run(ctx context.Context, global []dataset.TimePoint, categories []dataset.CategoryTimePoint, streamers []dataset.StreamerProfile, cfg Config, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaselineCutoff.IsZero() {
		return nil, errors.New("analysis: baseline cutoff not set")
	}
	if len(cfg.EventDates) == 0 {
		return nil, errors.New("analysis: no event dates configured")
	}
	if cfg.MinCategoryPoints <= 0 {
		cfg.MinCategoryPoints = DefaultConfig().MinCategoryPoints
	}
	if cfg.MarginalGridSize < 2 {
		cfg.MarginalGridSize = DefaultConfig().MarginalGridSize
	}

	report := &Report{
		RunID:       uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
	}
	logger = logger.With("run_id", report.RunID)

	start := time.Now()
	logger.InfoContext(ctx, "starting analysis run",
		"global_points", len(global),
		"category_points", len(categories),
		"streamers", len(streamers),
		"cutoff", cfg.BaselineCutoff.Format("2006-01"),
		"events", len(cfg.EventDates),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		baselines, categoryDevs, err := runBaselines(gctx, global, categories, cfg, logger)
		if err != nil {
			return fmt.Errorf("baseline engine: %w", err)
		}
		report.Baselines = baselines
		report.CategoryDeviations = categoryDevs
		return nil
	})

	g.Go(func() error {
		full, null, marginals, err := runRegression(gctx, streamers, cfg, logger)
		if err != nil {
			return fmt.Errorf("regression engine: %w", err)
		}
		report.Regression = full
		report.NullModel = null
		report.Marginals = marginals
		return nil
	})

	g.Go(func() error {
		res, err := cluster.NewPipeline(cfg.Cluster, logger).Run(gctx, streamers)
		if err != nil {
			return fmt.Errorf("cluster engine: %w", err)
		}
		report.Clusters = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "analysis run completed",
		"duration", time.Since(start),
		"baselines", len(report.Baselines),
		"category_deviations", len(report.CategoryDeviations),
		"clusters", report.Clusters.RecommendedK,
	)
	return report, nil
}

func runBaselines(ctx context.Context, global []dataset.TimePoint, categories []dataset.CategoryTimePoint, cfg Config, logger *slog.Logger) ([]BaselineReport, []CategoryDeviation, error) {
	var baselines []BaselineReport
	for _, metric := range []trend.Metric{trend.MetricHoursWatched, trend.MetricAvgConcurrentViewers} {
		model, err := trend.Fit(global, metric, cfg.BaselineCutoff, logger)
		if err != nil {
			return nil, nil, err
		}

		br := BaselineReport{Metric: metric, Model: model}
		for _, event := range cfg.EventDates {
			actual, ok := globalValue(global, metric, event)
			if !ok {
				logger.WarnContext(ctx, "event date missing from global panel",
					"metric", string(metric), "date", event.Format("2006-01"))
				continue
			}
			predicted := model.PredictAt(event)
			dev, err := trend.Deviation(actual, predicted)
			if err != nil {
				return nil, nil, err
			}
			br.Events = append(br.Events, EventDeviation{
				Date:         event,
				Actual:       actual,
				Predicted:    predicted,
				DeviationPct: dev,
			})
		}
		baselines = append(baselines, br)
	}

	categoryDevs, err := runCategoryBaselines(ctx, categories, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return baselines, categoryDevs, nil
}

// runCategoryBaselines repeats the counterfactual comparison per category.
// Categories with too short a pre-trend, or absent at an event date, are
// skipped rather than failing the run.
func runCategoryBaselines(ctx context.Context, categories []dataset.CategoryTimePoint, cfg Config, logger *slog.Logger) ([]CategoryDeviation, error) {
	series := make(map[string][]dataset.TimePoint)
	actuals := make(map[string]map[time.Time]float64)
	var order []string
	for _, cp := range categories {
		if _, seen := series[cp.Category]; !seen {
			order = append(order, cp.Category)
			actuals[cp.Category] = make(map[time.Time]float64)
		}
		series[cp.Category] = append(series[cp.Category], dataset.TimePoint{
			Date:         cp.Date,
			HoursWatched: cp.HoursWatched,
		})
		actuals[cp.Category][cp.Date] = cp.HoursWatched
	}

	var out []CategoryDeviation
	for _, cat := range order {
		points := series[cat]
		preCount := 0
		for _, tp := range points {
			if !tp.Date.After(cfg.BaselineCutoff) {
				preCount++
			}
		}
		if preCount < cfg.MinCategoryPoints {
			logger.DebugContext(ctx, "skipping category with short pre-trend",
				"category", cat, "pre_points", preCount)
			continue
		}

		model, err := trend.Fit(points, trend.MetricHoursWatched, cfg.BaselineCutoff, logger)
		if err != nil {
			if errors.Is(err, trend.ErrInsufficientData) {
				logger.DebugContext(ctx, "skipping category baseline", "category", cat, "error", err)
				continue
			}
			return nil, err
		}

		for _, event := range cfg.EventDates {
			actual, ok := actuals[cat][event]
			if !ok {
				continue
			}
			predicted := model.PredictAt(event)
			dev, err := trend.Deviation(actual, predicted)
			if err != nil {
				if errors.Is(err, trend.ErrZeroPrediction) {
					continue
				}
				return nil, err
			}
			out = append(out, CategoryDeviation{
				Category:     cat,
				Date:         event,
				Actual:       actual,
				Predicted:    predicted,
				DeviationPct: dev,
			})
		}
	}
	return out, nil
}

func runRegression(ctx context.Context, streamers []dataset.StreamerProfile, cfg Config, logger *slog.Logger) (*mixedmodel.RegressionResult, *mixedmodel.RegressionResult, map[string][]mixedmodel.MarginalPoint, error) {
	frame, err := buildFrame(streamers)
	if err != nil {
		return nil, nil, nil, err
	}
	predictors := dataset.ClusterFeatureNames()

	full, err := mixedmodel.Fit(frame, ResponseField, predictors, GroupField, cfg.Mixed, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("full model: %w", err)
	}

	null, err := mixedmodel.Fit(frame, ResponseField, nil, GroupField, cfg.Mixed, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("null model: %w", err)
	}
	logger.InfoContext(ctx, "intraclass correlation",
		"null_icc", null.ICC, "full_icc", full.ICC)

	marginals := make(map[string][]mixedmodel.MarginalPoint, len(predictors))
	for _, name := range predictors {
		grid := predictorGrid(streamers, name, cfg.MarginalGridSize)
		if len(grid) == 0 {
			continue
		}
		points, err := full.PredictMarginal(name, nil, grid, 0)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marginal sweep for %s: %w", name, err)
		}
		marginals[name] = points
	}
	return full, null, marginals, nil
}

func buildFrame(streamers []dataset.StreamerProfile) (*mixedmodel.Frame, error) {
	n := len(streamers)
	response := make([]float64, n)
	groups := make([]string, n)
	features := make(map[string][]float64)
	names := dataset.ClusterFeatureNames()
	for _, name := range names {
		features[name] = make([]float64, n)
	}

	for i, sp := range streamers {
		response[i] = sp.FollowersGainedPerStream
		groups[i] = sp.MostStreamedGame
		vec := sp.ClusterFeatures()
		for j, name := range names {
			features[name][i] = vec[j]
		}
	}

	frame := mixedmodel.NewFrame()
	if err := frame.AddNumeric(ResponseField, response); err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := frame.AddNumeric(name, features[name]); err != nil {
			return nil, err
		}
	}
	if err := frame.AddFactor(GroupField, groups); err != nil {
		return nil, err
	}
	return frame, nil
}

// predictorGrid spans a predictor's observed range with evenly spaced values.
func predictorGrid(streamers []dataset.StreamerProfile, name string, size int) []float64 {
	names := dataset.ClusterFeatureNames()
	idx := -1
	for j, n := range names {
		if n == name {
			idx = j
			break
		}
	}
	if idx < 0 {
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, sp := range streamers {
		v := sp.ClusterFeatures()[idx]
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if !(hi > lo) {
		return nil
	}

	grid := make([]float64, size)
	step := (hi - lo) / float64(size-1)
	for i := range grid {
		grid[i] = lo + float64(i)*step
	}
	return grid
}

func globalValue(global []dataset.TimePoint, metric trend.Metric, date time.Time) (float64, bool) {
	for _, tp := range global {
		if tp.Date.Equal(date) {
			if metric == trend.MetricAvgConcurrentViewers {
				return tp.AvgConcurrentViewers, true
			}
			return tp.HoursWatched, true
		}
	}
	return 0, false
}
