package cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Projection is a row's coordinates in the top two principal components.
type Projection struct {
	PC1 float64 `json:"pc1"`
	PC2 float64 `json:"pc2"`
}

// Project2D reduces standardized rows to their top two principal components
// via eigendecomposition of the feature covariance matrix. It is purely for
// inspection and never feeds back into cluster assignments. The returned
// ratios are each component's share of total variance.
//
// Component signs are normalized so the largest-magnitude loading of each
// component is positive, keeping projections reproducible across runs.
func Project2D(rows [][]float64) ([]Projection, [2]float64, error) {
	var ratios [2]float64
	if len(rows) == 0 {
		return nil, ratios, fmt.Errorf("%w: no rows", ErrInsufficientData)
	}
	dims := len(rows[0])
	if dims < 2 {
		return nil, ratios, fmt.Errorf("%w: got %d", ErrInsufficientFeatures, dims)
	}
	if len(rows) < 3 {
		return nil, ratios, fmt.Errorf("%w: %d rows for PCA", ErrInsufficientData, len(rows))
	}

	data := mat.NewDense(len(rows), dims, nil)
	for i, row := range rows {
		data.SetRow(i, row)
	}

	cov := mat.NewSymDense(dims, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, ratios, fmt.Errorf("cluster: covariance eigendecomposition failed")
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// gonum orders eigenvalues ascending; the top two components are the
	// last two columns.
	total := 0.0
	for _, v := range values {
		if v > 0 {
			total += v
		}
	}
	pcCols := [2]int{dims - 1, dims - 2}
	for c, col := range pcCols {
		if total > 0 && values[col] > 0 {
			ratios[c] = values[col] / total
		}
	}

	axes := make([][]float64, 2)
	for c, col := range pcCols {
		axis := make([]float64, dims)
		maxAbs, maxIdx := 0.0, 0
		for j := 0; j < dims; j++ {
			axis[j] = vectors.At(j, col)
			if a := math.Abs(axis[j]); a > maxAbs {
				maxAbs, maxIdx = a, j
			}
		}
		if axis[maxIdx] < 0 {
			for j := range axis {
				axis[j] = -axis[j]
			}
		}
		axes[c] = axis
	}

	// Rows are standardized, but center on the sample mean anyway so the
	// projection is exact for any input.
	means := make([]float64, dims)
	for _, row := range rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(rows))
	}

	out := make([]Projection, len(rows))
	for i, row := range rows {
		var pc [2]float64
		for c := 0; c < 2; c++ {
			for j, v := range row {
				pc[c] += (v - means[j]) * axes[c][j]
			}
		}
		out[i] = Projection{PC1: pc[0], PC2: pc[1]}
	}
	return out, ratios, nil
}
