// Package trend fits counterfactual baselines for monthly engagement series.
//
// A baseline is an ordinary least squares line fitted only on observations at
// or before a cutoff date, with the date treated as a month ordinal. Predicting
// past the cutoff extrapolates that line: the result is a counterfactual
// ("what the metric would have been absent the shock"), not a forecast, so
// callers should only query dates reasonably close to the cutoff.
package trend

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"streamlytics/internal/dataset"
)

var (
	// ErrInsufficientData is returned when fewer than two baseline points
	// survive the cutoff filter, or when the baseline dates are not strictly
	// increasing.
	ErrInsufficientData = errors.New("trend: insufficient baseline data")

	// ErrZeroPrediction is returned when a deviation is requested against a
	// predicted value of exactly zero.
	ErrZeroPrediction = errors.New("trend: predicted value is zero")
)

// Metric selects which engagement series a baseline is fitted on.
type Metric string

const (
	MetricHoursWatched         Metric = "hours_watched"
	MetricAvgConcurrentViewers Metric = "avg_concurrent_viewers"
)

func (m Metric) value(tp dataset.TimePoint) float64 {
	if m == MetricAvgConcurrentViewers {
		return tp.AvgConcurrentViewers
	}
	return tp.HoursWatched
}

// BaselineModel is a fitted pre-cutoff trend line. The time axis is months
// since the first baseline observation.
type BaselineModel struct {
	Metric    Metric    `json:"metric"`
	Cutoff    time.Time `json:"cutoff"`
	Origin    time.Time `json:"origin"`
	Intercept float64   `json:"intercept"`
	Slope     float64   `json:"slope"` // per month
	NumPoints int       `json:"num_points"`
	RSquared  float64   `json:"r_squared"`
}

// Fit restricts points to dates at or before cutoff and regresses the chosen
// metric on the month ordinal.
func Fit(points []dataset.TimePoint, metric Metric, cutoff time.Time, logger *slog.Logger) (*BaselineModel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var baseline []dataset.TimePoint
	for _, tp := range points {
		if !tp.Date.After(cutoff) {
			baseline = append(baseline, tp)
		}
	}

	if len(baseline) < 2 {
		return nil, fmt.Errorf("%w: %d points at or before %s (need 2)",
			ErrInsufficientData, len(baseline), cutoff.Format("2006-01"))
	}
	for i := 1; i < len(baseline); i++ {
		if !baseline[i].Date.After(baseline[i-1].Date) {
			return nil, fmt.Errorf("%w: dates not strictly increasing at index %d",
				ErrInsufficientData, i)
		}
	}

	origin := baseline[0].Date
	xs := make([]float64, len(baseline))
	ys := make([]float64, len(baseline))
	for i, tp := range baseline {
		xs[i] = float64(monthsSince(origin, tp.Date))
		ys[i] = metric.value(tp)
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)

	logger.Debug("fitted trend baseline",
		"metric", string(metric),
		"cutoff", cutoff.Format("2006-01"),
		"points", len(baseline),
		"slope_per_month", beta,
		"r_squared", r2,
	)

	return &BaselineModel{
		Metric:    metric,
		Cutoff:    cutoff,
		Origin:    origin,
		Intercept: alpha,
		Slope:     beta,
		NumPoints: len(baseline),
		RSquared:  r2,
	}, nil
}

// PredictAt evaluates the fitted line at a single date. Dates past the cutoff
// extrapolate the pre-trend.
func (m *BaselineModel) PredictAt(date time.Time) float64 {
	return m.Intercept + m.Slope*float64(monthsSince(m.Origin, date))
}

// Predict evaluates the fitted line at each query date.
func (m *BaselineModel) Predict(dates []time.Time) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(dates))
	for _, d := range dates {
		out[d] = m.PredictAt(d)
	}
	return out
}

// Deviation returns the percent deviation of an actual value from a predicted
// one: (actual - predicted) / predicted * 100.
func Deviation(actual, predicted float64) (float64, error) {
	if predicted == 0 {
		return 0, ErrZeroPrediction
	}
	return (actual - predicted) / predicted * 100, nil
}

// monthsSince counts calendar months from origin to date. Both are assumed
// month-start normalized.
func monthsSince(origin, date time.Time) int {
	return (date.Year()-origin.Year())*12 + int(date.Month()) - int(origin.Month())
}
