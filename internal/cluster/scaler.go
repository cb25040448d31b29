package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Scaler rescales feature columns to zero mean and unit variance. The fitted
// parameters are kept so any later projection reuses the same transform.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// FitScaler computes per-column mean and standard deviation over the given
// rows. A constant column gets standard deviation 1 so it maps to all zeros
// instead of dividing by zero.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cluster: no rows to fit scaler on")
	}
	dims := len(rows[0])

	col := make([]float64, len(rows))
	s := &Scaler{
		Means: make([]float64, dims),
		Stds:  make([]float64, dims),
	}
	for j := 0; j < dims; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || len(rows) == 1 {
			std = 1
		}
		s.Means[j] = mean
		s.Stds[j] = std
	}
	return s, nil
}

// Transform standardizes rows with the fitted parameters.
func (s *Scaler) Transform(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.TransformRow(row)
	}
	return out
}

// TransformRow standardizes a single row.
func (s *Scaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out
}
