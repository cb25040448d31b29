package dataset

import (
	"math"
	"time"
)

// TimePoint is one month of platform-wide engagement.
// Dates are normalized to the first of the month, UTC.
type TimePoint struct {
	Date                 time.Time `json:"date"`
	HoursWatched         float64   `json:"hours_watched"`
	AvgConcurrentViewers float64   `json:"avg_concurrent_viewers"`
}

// IsValid checks if the time point data is valid
func (tp TimePoint) IsValid() bool {
	return !tp.Date.IsZero() && tp.HoursWatched >= 0 && tp.AvgConcurrentViewers >= 0 &&
		!math.IsNaN(tp.HoursWatched) && !math.IsNaN(tp.AvgConcurrentViewers)
}

// CategoryTimePoint is one month of engagement for a single content category.
// The same date appears once per top category that month.
type CategoryTimePoint struct {
	Date         time.Time `json:"date"`
	Category     string    `json:"category"`
	HoursWatched float64   `json:"hours_watched"`
}

// IsValid checks if the category time point data is valid
func (cp CategoryTimePoint) IsValid() bool {
	return !cp.Date.IsZero() && cp.Category != "" &&
		cp.HoursWatched >= 0 && !math.IsNaN(cp.HoursWatched)
}

// StreamerProfile is a cross-sectional snapshot of one top-performing streamer.
// Numeric fields that were missing in the source data are NaN; such rows are
// excluded from clustering but remain usable everywhere else.
type StreamerProfile struct {
	ID                       int     `json:"id"`
	AvgViewersPerStream      float64 `json:"avg_viewers_per_stream"`
	AvgStreamDurationHours   float64 `json:"avg_stream_duration_hours"`
	AvgGamesPerStream        float64 `json:"avg_games_per_stream"`
	FollowersGainedPerStream float64 `json:"followers_gained_per_stream"`
	TotalFollowers           int64   `json:"total_followers"`
	ActiveDaysPerWeek        float64 `json:"active_days_per_week"`
	MostStreamedGame         string  `json:"most_streamed_game"`
	MostActiveDay            string  `json:"most_active_day"`
	BestFollowerDay          string  `json:"best_follower_day"`
}

// IsValid checks if the profile passes basic range checks
func (sp StreamerProfile) IsValid() bool {
	return sp.ID >= 0 && sp.TotalFollowers >= 0 &&
		(math.IsNaN(sp.ActiveDaysPerWeek) || (sp.ActiveDaysPerWeek >= 0 && sp.ActiveDaysPerWeek <= 7)) &&
		(math.IsNaN(sp.AvgViewersPerStream) || sp.AvgViewersPerStream >= 0) &&
		(math.IsNaN(sp.AvgStreamDurationHours) || sp.AvgStreamDurationHours > 0) &&
		(math.IsNaN(sp.AvgGamesPerStream) || sp.AvgGamesPerStream > 0)
}

// ClusterFeatureNames lists the behavioral features used for clustering,
// in the order ClusterFeatures returns them.
func ClusterFeatureNames() []string {
	return []string{
		"avg_viewers_per_stream",
		"avg_stream_duration_hours",
		"avg_games_per_stream",
		"active_days_per_week",
	}
}

// ClusterFeatures returns the profile's clustering feature vector.
func (sp StreamerProfile) ClusterFeatures() []float64 {
	return []float64{
		sp.AvgViewersPerStream,
		sp.AvgStreamDurationHours,
		sp.AvgGamesPerStream,
		sp.ActiveDaysPerWeek,
	}
}

// HasClusterFeatures reports whether every clustering feature and the
// follower-gain outcome are present (non-NaN).
func (sp StreamerProfile) HasClusterFeatures() bool {
	for _, v := range sp.ClusterFeatures() {
		if math.IsNaN(v) {
			return false
		}
	}
	return !math.IsNaN(sp.FollowersGainedPerStream)
}

// MonthStart normalizes a year and month to the first of that month, UTC.
func MonthStart(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}
