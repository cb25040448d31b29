package analysis

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlytics/internal/cluster"
	"streamlytics/internal/dataset"
	"streamlytics/internal/shared/testutil"
	"streamlytics/internal/trend"
)

func globalFixture() []dataset.TimePoint {
	// Flat pre-trend through 2020-02, then a shock month.
	var points []dataset.TimePoint
	for _, ym := range [][2]int{{2019, 10}, {2019, 11}, {2019, 12}, {2020, 1}, {2020, 2}} {
		points = append(points, dataset.TimePoint{
			Date:                 dataset.MonthStart(ym[0], ym[1]),
			HoursWatched:         100,
			AvgConcurrentViewers: 10,
		})
	}
	points = append(points, dataset.TimePoint{
		Date:                 dataset.MonthStart(2020, 3),
		HoursWatched:         150,
		AvgConcurrentViewers: 12,
	})
	return points
}

func categoryFixture() []dataset.CategoryTimePoint {
	var points []dataset.CategoryTimePoint
	for _, ym := range [][2]int{{2019, 10}, {2019, 11}, {2019, 12}, {2020, 1}, {2020, 2}} {
		points = append(points, dataset.CategoryTimePoint{
			Date:         dataset.MonthStart(ym[0], ym[1]),
			Category:     "Just Chatting",
			HoursWatched: 50,
		})
	}
	points = append(points, dataset.CategoryTimePoint{
		Date:         dataset.MonthStart(2020, 3),
		Category:     "Just Chatting",
		HoursWatched: 100,
	})
	// Too short a pre-trend; must be skipped, not fail the run.
	points = append(points,
		dataset.CategoryTimePoint{Date: dataset.MonthStart(2019, 12), Category: "Rare", HoursWatched: 5},
		dataset.CategoryTimePoint{Date: dataset.MonthStart(2020, 1), Category: "Rare", HoursWatched: 6},
	)
	return points
}

func streamerFixture() []dataset.StreamerProfile {
	type archetype struct {
		game                           string
		viewers, duration, games, days float64
		gainBase                       float64
	}
	archetypes := []archetype{
		{game: "Fortnite", viewers: 1200, duration: 9, games: 1.2, days: 6.5, gainBase: 400},
		{game: "Valorant", viewers: 60, duration: 3, games: 7.5, days: 2, gainBase: 25},
		{game: "Minecraft", viewers: 80, duration: 8.5, games: 1.5, days: 1, gainBase: 40},
	}
	rng := rand.New(rand.NewSource(3))

	var profiles []dataset.StreamerProfile
	id := 1
	for _, a := range archetypes {
		for i := 0; i < 8; i++ {
			profiles = append(profiles, dataset.StreamerProfile{
				ID:                       id,
				AvgViewersPerStream:      a.viewers * (1 + 0.05*rng.NormFloat64()),
				AvgStreamDurationHours:   a.duration + 0.2*rng.NormFloat64(),
				AvgGamesPerStream:        a.games + 0.1*rng.NormFloat64(),
				ActiveDaysPerWeek:        a.days + 0.2*rng.NormFloat64(),
				FollowersGainedPerStream: a.gainBase + 5*rng.NormFloat64(),
				TotalFollowers:           int64(100000 * id),
				MostStreamedGame:         a.game,
				MostActiveDay:            "Saturday",
				BestFollowerDay:          "Sunday",
			})
			id++
		}
	}
	return profiles
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaselineCutoff = dataset.MonthStart(2020, 2)
	cfg.EventDates = []time.Time{dataset.MonthStart(2020, 3), dataset.MonthStart(2020, 4)}
	cfg.Cluster = cluster.Config{KMin: 2, KMax: 4, Restarts: 5, Seed: 42}
	return cfg
}

func TestRun(t *testing.T) {
	handler := testutil.NewBufferedSlogHandler(t)

	report, err := Run(context.Background(), globalFixture(), categoryFixture(), streamerFixture(), testConfig(), handler.Logger())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.GeneratedAt.IsZero())

	// Both metrics get a baseline; 2020-04 is absent from the panel so only
	// the March event yields a deviation.
	require.Len(t, report.Baselines, 2)
	byMetric := map[trend.Metric]BaselineReport{}
	for _, br := range report.Baselines {
		byMetric[br.Metric] = br
	}
	hours := byMetric[trend.MetricHoursWatched]
	require.Len(t, hours.Events, 1)
	assert.InDelta(t, 50, hours.Events[0].DeviationPct, 1e-9)
	viewers := byMetric[trend.MetricAvgConcurrentViewers]
	require.Len(t, viewers.Events, 1)
	assert.InDelta(t, 20, viewers.Events[0].DeviationPct, 1e-9)
	assert.True(t, handler.HasMessage("event date missing from global panel"))

	// One category clears the pre-trend threshold, the other is skipped.
	require.Len(t, report.CategoryDeviations, 1)
	cd := report.CategoryDeviations[0]
	assert.Equal(t, "Just Chatting", cd.Category)
	assert.Equal(t, dataset.MonthStart(2020, 3), cd.Date)
	assert.InDelta(t, 100, cd.DeviationPct, 1e-9)

	require.NotNil(t, report.Regression)
	assert.Equal(t, ResponseField, report.Regression.Response)
	assert.Equal(t, 3, report.Regression.NumGroups)
	require.NotNil(t, report.NullModel)
	assert.GreaterOrEqual(t, report.NullModel.ICC, 0.0)
	assert.LessOrEqual(t, report.NullModel.ICC, 1.0)

	require.Len(t, report.Marginals, 4)
	for _, name := range dataset.ClusterFeatureNames() {
		points := report.Marginals[name]
		require.Len(t, points, DefaultConfig().MarginalGridSize, "marginal sweep for %s", name)
		for _, pt := range points {
			assert.Less(t, pt.Lower, pt.Upper)
		}
	}

	require.NotNil(t, report.Clusters)
	assert.Equal(t, 24, report.Clusters.RetainedRows)
	total := 0
	for _, s := range report.Clusters.Summaries {
		total += s.MemberCount
	}
	assert.Equal(t, report.Clusters.RetainedRows, total)
}

func TestRunValidatesConfig(t *testing.T) {
	handler := testutil.NewBufferedSlogHandler(t)
	global := globalFixture()
	categories := categoryFixture()
	streamers := streamerFixture()

	cfg := testConfig()
	cfg.BaselineCutoff = time.Time{}
	_, err := Run(context.Background(), global, categories, streamers, cfg, handler.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cutoff")

	cfg = testConfig()
	cfg.EventDates = nil
	_, err = Run(context.Background(), global, categories, streamers, cfg, handler.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event dates")
}

func TestRunFailsWhenAnEngineFails(t *testing.T) {
	handler := testutil.NewBufferedSlogHandler(t)

	// A one-point global panel cannot support a baseline fit.
	short := globalFixture()[:1]
	_, err := Run(context.Background(), short, categoryFixture(), streamerFixture(), testConfig(), handler.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline engine")
}

func TestPredictorGrid(t *testing.T) {
	streamers := streamerFixture()
	grid := predictorGrid(streamers, "avg_viewers_per_stream", 10)
	require.Len(t, grid, 10)
	for i := 1; i < len(grid); i++ {
		assert.Greater(t, grid[i], grid[i-1])
	}
	assert.Nil(t, predictorGrid(streamers, "not_a_feature", 10))
	assert.Nil(t, predictorGrid(nil, "avg_viewers_per_stream", 10))
}

func TestConfigDefaultsApplied(t *testing.T) {
	cfg := testConfig()
	cfg.MinCategoryPoints = 0
	cfg.MarginalGridSize = 0

	report, err := Run(context.Background(), globalFixture(), categoryFixture(), streamerFixture(), cfg, testutil.NewBufferedSlogHandler(t).Logger())
	require.NoError(t, err)
	for name, points := range report.Marginals {
		assert.Len(t, points, DefaultConfig().MarginalGridSize, "marginal sweep for %s", name)
	}
}
