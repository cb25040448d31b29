package mixedmodel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MarginalPoint is one point on a marginal-effect curve: the predicted
// population-level response (random intercept at its zero mean) with a
// confidence band from fixed-effect parameter uncertainty.
type MarginalPoint struct {
	Value     float64 `json:"value"`
	Predicted float64 `json:"predicted"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
}

// PredictMarginal sweeps one predictor across grid while holding every other
// predictor at fixedAt[name], defaulting to its training mean. The band is a
// Wald interval at the given confidence level (0 means 0.95) propagated
// through cov(β̂).
func (r *RegressionResult) PredictMarginal(varying string, fixedAt map[string]float64, grid []float64, confidence float64) ([]MarginalPoint, error) {
	idx := -1
	for j, name := range r.predictorNames {
		if name == varying {
			idx = j
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("mixedmodel: %q is not a fixed predictor of this model", varying)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("mixedmodel: empty prediction grid")
	}
	if confidence <= 0 {
		confidence = 0.95
	}
	if confidence >= 1 {
		return nil, fmt.Errorf("mixedmodel: confidence level %v out of range", confidence)
	}

	p := len(r.predictorNames) + 1
	x := make([]float64, p)
	x[0] = 1
	for j, name := range r.predictorNames {
		if v, ok := fixedAt[name]; ok {
			x[j+1] = v
		} else {
			x[j+1] = r.predictorMeans[name]
		}
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + confidence/2)

	points := make([]MarginalPoint, len(grid))
	for i, v := range grid {
		x[idx+1] = v
		xv := mat.NewVecDense(p, x)

		pred := 0.0
		for j, e := range r.Effects {
			pred += e.Coefficient * x[j]
		}

		var tmp mat.VecDense
		tmp.MulVec(r.covBeta, xv)
		se := math.Sqrt(mat.Dot(xv, &tmp))

		points[i] = MarginalPoint{
			Value:     v,
			Predicted: pred,
			Lower:     pred - z*se,
			Upper:     pred + z*se,
		}
	}
	return points, nil
}
