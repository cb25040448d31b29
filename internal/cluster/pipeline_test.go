package cluster

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"streamlytics/internal/dataset"
	"streamlytics/internal/shared/testutil"
)

// snapshotFixture builds three behavioral archetypes of six streamers each,
// plus two profiles with missing values that clustering must skip.
func snapshotFixture() []dataset.StreamerProfile {
	archetypes := []dataset.StreamerProfile{
		{AvgViewersPerStream: 1200, AvgStreamDurationHours: 9, AvgGamesPerStream: 1.2, ActiveDaysPerWeek: 6.5, FollowersGainedPerStream: 400},
		{AvgViewersPerStream: 60, AvgStreamDurationHours: 3, AvgGamesPerStream: 7.5, ActiveDaysPerWeek: 2, FollowersGainedPerStream: 20},
		{AvgViewersPerStream: 80, AvgStreamDurationHours: 8.5, AvgGamesPerStream: 1.5, ActiveDaysPerWeek: 1, FollowersGainedPerStream: 35},
	}

	var profiles []dataset.StreamerProfile
	id := 1
	for _, base := range archetypes {
		for i := 0; i < 6; i++ {
			sp := base
			sp.ID = id
			jitter := float64(i) * 0.01
			sp.AvgViewersPerStream *= 1 + jitter
			sp.AvgStreamDurationHours += jitter
			sp.AvgGamesPerStream += jitter
			sp.ActiveDaysPerWeek += jitter
			profiles = append(profiles, sp)
			id++
		}
	}

	profiles = append(profiles,
		dataset.StreamerProfile{ID: id, AvgViewersPerStream: math.NaN(), AvgStreamDurationHours: 5, AvgGamesPerStream: 2, ActiveDaysPerWeek: 3, FollowersGainedPerStream: 10},
		dataset.StreamerProfile{ID: id + 1, AvgViewersPerStream: 100, AvgStreamDurationHours: 5, AvgGamesPerStream: 2, ActiveDaysPerWeek: 3, FollowersGainedPerStream: math.NaN()},
	)
	return profiles
}

func TestPipelineRun(t *testing.T) {
	handler := testutil.NewBufferedSlogHandler(t)
	cfg := Config{KMin: 2, KMax: 4, Restarts: 8, Seed: 42}
	p := NewPipeline(cfg, handler.Logger())

	res, err := p.Run(context.Background(), snapshotFixture())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.RetainedRows != 18 {
		t.Errorf("retained: got %d, want 18", res.RetainedRows)
	}
	if res.ExcludedRows != 2 {
		t.Errorf("excluded: got %d, want 2", res.ExcludedRows)
	}
	if res.RecommendedK != 3 {
		t.Errorf("recommended k: got %d, want 3", res.RecommendedK)
	}
	if len(res.Assignments) != res.RetainedRows {
		t.Fatalf("got %d assignments for %d retained rows", len(res.Assignments), res.RetainedRows)
	}

	total := 0
	for _, s := range res.Summaries {
		if s.MemberCount < 1 {
			t.Errorf("cluster %d: %d members, want >= 1", s.ClusterID, s.MemberCount)
		}
		if s.Label == "" {
			t.Errorf("cluster %d: empty label", s.ClusterID)
		}
		total += s.MemberCount
	}
	if total != res.RetainedRows {
		t.Errorf("member counts sum to %d, want %d", total, res.RetainedRows)
	}

	for _, a := range res.Assignments {
		if a.ClusterID < 1 || a.ClusterID > res.RecommendedK {
			t.Errorf("streamer %d: cluster id %d out of [1, %d]", a.StreamerID, a.ClusterID, res.RecommendedK)
		}
	}

	// Each archetype block of six must land in one cluster.
	for b := 0; b < 3; b++ {
		want := res.Assignments[b*6].ClusterID
		for i := b*6 + 1; i < (b+1)*6; i++ {
			if res.Assignments[i].ClusterID != want {
				t.Errorf("archetype %d split across clusters at row %d", b, i)
			}
		}
	}

	if res.Scaler == nil {
		t.Error("missing fitted scaler")
	}
	if res.ExplainedVariance[0] <= 0 {
		t.Errorf("PC1 explains %v of variance, want > 0", res.ExplainedVariance[0])
	}
	if !handler.HasMessage("cluster pipeline completed") {
		t.Error("completion log record missing")
	}
}

func TestPipelineRunDeterministic(t *testing.T) {
	cfg := Config{KMin: 2, KMax: 4, Restarts: 5, Seed: 42}
	profiles := snapshotFixture()

	first, err := NewPipeline(cfg, testutil.NewBufferedSlogHandler(t).Logger()).Run(context.Background(), profiles)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := NewPipeline(cfg, testutil.NewBufferedSlogHandler(t).Logger()).Run(context.Background(), profiles)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !reflect.DeepEqual(first.Assignments, second.Assignments) {
		t.Error("assignments differ between identical runs")
	}
	if !reflect.DeepEqual(first.Summaries, second.Summaries) {
		t.Error("summaries differ between identical runs")
	}
}

func TestPipelineRunInsufficientRows(t *testing.T) {
	cfg := Config{KMin: 2, KMax: 8, Restarts: 3, Seed: 42}
	p := NewPipeline(cfg, testutil.NewBufferedSlogHandler(t).Logger())

	_, err := p.Run(context.Background(), snapshotFixture()[:5])
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("got %v, want ErrInsufficientData", err)
	}
}
