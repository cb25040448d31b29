// Package mixedmodel estimates linear mixed models with a single
// random-intercept grouping factor:
//
//	response = Xβ + b[group] + e,  b ~ N(0, τ²),  e ~ N(0, σ²)
//
// Estimation is restricted maximum likelihood, profiled over the variance
// ratio θ = τ²/σ². Because the marginal covariance is block diagonal with
// blocks I + θJ per group, all cross-products reduce to per-group sums and no
// n×n matrix is ever formed. At θ = 0 the generalized least squares step is
// exactly ordinary least squares, so the degenerate no-heterogeneity case
// reproduces closed-form OLS coefficients.
package mixedmodel

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrSingularDesign is returned when the fixed-effect design matrix is
	// rank-deficient, e.g. a predictor is constant or collinear.
	ErrSingularDesign = errors.New("mixedmodel: singular fixed-effect design")

	// ErrConvergence is returned when the REML optimizer exhausts its
	// iteration budget before the bracket shrinks below tolerance.
	ErrConvergence = errors.New("mixedmodel: optimizer did not converge")

	// ErrInsufficientData is returned when there are too few complete rows
	// to estimate the requested model.
	ErrInsufficientData = errors.New("mixedmodel: insufficient data")
)

// InterceptName is the name reported for the fixed intercept.
const InterceptName = "(Intercept)"

// Options bound the REML optimizer.
type Options struct {
	MaxIter  int     // iteration budget for the θ search
	Tol      float64 // relative bracket tolerance on θ
	ThetaMax float64 // upper bound of the θ search range
}

// DefaultOptions returns the estimator defaults.
func DefaultOptions() Options {
	return Options{
		MaxIter:  200,
		Tol:      1e-9,
		ThetaMax: 1e6,
	}
}

// FixedEffect is one estimated fixed-effect coefficient. PValue is the Wald
// normal-approximation two-sided p-value, the standard large-sample choice
// for linear mixed models.
type FixedEffect struct {
	Name        string  `json:"name"`
	Coefficient float64 `json:"coefficient"`
	StdErr      float64 `json:"std_err"`
	PValue      float64 `json:"p_value"`
}

// RegressionResult holds a fitted model. ICC = τ²/(τ²+σ²) is the fraction of
// outcome variance attributable to grouping-factor heterogeneity.
type RegressionResult struct {
	Response string        `json:"response"`
	Group    string        `json:"group"`
	Effects  []FixedEffect `json:"effects"` // intercept first, then fixed predictors in call order

	RandomInterceptVariance float64 `json:"random_intercept_variance"` // τ²
	ResidualVariance        float64 `json:"residual_variance"`         // σ²
	ICC                     float64 `json:"icc"`

	NumObs     int `json:"num_obs"`
	NumGroups  int `json:"num_groups"`
	Iterations int `json:"iterations"`

	predictorNames []string
	predictorMeans map[string]float64
	covBeta        *mat.SymDense
}

// Effect returns the estimate for a named term.
func (r *RegressionResult) Effect(name string) (FixedEffect, bool) {
	for _, e := range r.Effects {
		if e.Name == name {
			return e, true
		}
	}
	return FixedEffect{}, false
}

// Fit estimates the model. Passing no fixed predictors fits the null model
// (intercept plus random intercept only), whose ICC is the intraclass
// correlation of the response. Rows with a NaN response or predictor are
// dropped before fitting.
func Fit(f *Frame, response string, fixed []string, group string, opts Options, logger *slog.Logger) (*RegressionResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxIter <= 0 {
		opts = DefaultOptions()
	}
	if opts.Tol <= 0 {
		opts.Tol = DefaultOptions().Tol
	}
	if opts.ThetaMax <= 0 {
		opts.ThetaMax = DefaultOptions().ThetaMax
	}

	y, err := f.numericCol(response)
	if err != nil {
		return nil, err
	}
	groups, err := f.factorCol(group)
	if err != nil {
		return nil, err
	}
	predictors := make([][]float64, len(fixed))
	for i, name := range fixed {
		col, err := f.numericCol(name)
		if err != nil {
			return nil, err
		}
		predictors[i] = col
	}

	// Complete-case filter.
	var keep []int
	for i := range y {
		if math.IsNaN(y[i]) || groups[i] == "" {
			continue
		}
		ok := true
		for _, col := range predictors {
			if math.IsNaN(col[i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}

	p := len(fixed) + 1
	n := len(keep)
	if n < p+2 {
		return nil, fmt.Errorf("%w: %d complete rows for %d parameters", ErrInsufficientData, n, p)
	}
	if dropped := len(y) - n; dropped > 0 {
		logger.Debug("dropped incomplete rows", "response", response, "dropped", dropped, "kept", n)
	}

	// Design matrix with leading intercept column.
	X := mat.NewDense(n, p, nil)
	yv := make([]float64, n)
	grp := make([]string, n)
	for r, i := range keep {
		X.Set(r, 0, 1)
		for j, col := range predictors {
			X.Set(r, j+1, col[i])
		}
		yv[r] = y[i]
		grp[r] = groups[i]
	}

	if err := checkRank(X); err != nil {
		return nil, err
	}

	prof, err := newProfile(X, yv, grp)
	if err != nil {
		return nil, err
	}

	theta, iters, err := minimizeREML(prof, opts)
	if err != nil {
		return nil, err
	}

	sol, err := prof.solve(theta)
	if err != nil {
		return nil, err
	}

	sigma2 := sol.rss / float64(n-p)
	tau2 := theta * sigma2
	icc := 0.0
	if tau2+sigma2 > 0 {
		icc = tau2 / (tau2 + sigma2)
	}

	// cov(β̂) = σ̂² (XᵀV⁻¹X)⁻¹
	covBeta := mat.NewSymDense(p, nil)
	if err := sol.chol.InverseTo(covBeta); err != nil {
		return nil, fmt.Errorf("%w: covariance inversion failed", ErrSingularDesign)
	}
	covBeta.ScaleSym(sigma2, covBeta)

	std := distuv.Normal{Mu: 0, Sigma: 1}
	names := append([]string{InterceptName}, fixed...)
	effects := make([]FixedEffect, p)
	for j := 0; j < p; j++ {
		se := math.Sqrt(covBeta.At(j, j))
		pv := 1.0
		if se > 0 {
			pv = 2 * std.Survival(math.Abs(sol.beta[j])/se)
		}
		effects[j] = FixedEffect{
			Name:        names[j],
			Coefficient: sol.beta[j],
			StdErr:      se,
			PValue:      pv,
		}
	}

	means := make(map[string]float64, len(fixed))
	for j, name := range fixed {
		sum := 0.0
		for r := 0; r < n; r++ {
			sum += X.At(r, j+1)
		}
		means[name] = sum / float64(n)
	}

	logger.Info("fitted mixed model",
		"response", response,
		"fixed", len(fixed),
		"group", group,
		"num_obs", n,
		"num_groups", prof.numGroups(),
		"tau2", tau2,
		"sigma2", sigma2,
		"icc", icc,
		"iterations", iters,
	)

	return &RegressionResult{
		Response:                response,
		Group:                   group,
		Effects:                 effects,
		RandomInterceptVariance: tau2,
		ResidualVariance:        sigma2,
		ICC:                     icc,
		NumObs:                  n,
		NumGroups:               prof.numGroups(),
		Iterations:              iters,
		predictorNames:          fixed,
		predictorMeans:          means,
		covBeta:                 covBeta,
	}, nil
}

// checkRank rejects rank-deficient design matrices before any estimation.
func checkRank(X *mat.Dense) error {
	n, p := X.Dims()
	var svd mat.SVD
	if !svd.Factorize(X, mat.SVDNone) {
		return fmt.Errorf("%w: SVD failed", ErrSingularDesign)
	}
	sv := svd.Values(nil)
	tol := float64(max(n, p)) * sv[0] * 1e-12
	rank := 0
	for _, s := range sv {
		if s > tol {
			rank++
		}
	}
	if rank < p {
		return fmt.Errorf("%w: rank %d < %d columns", ErrSingularDesign, rank, p)
	}
	return nil
}

// groupStats holds the per-group sufficient statistics the profiled
// criterion needs.
type groupStats struct {
	size int
	sx   []float64 // column sums of X within the group
	sy   float64   // sum of y within the group
}

// profile precomputes the sufficient statistics for the profiled REML
// criterion so each θ evaluation is O(groups × p²).
type profile struct {
	n, p   int
	xtx    *mat.SymDense
	xty    []float64
	yty    float64
	groups []groupStats
}

func newProfile(X *mat.Dense, y []float64, grp []string) (*profile, error) {
	n, p := X.Dims()

	xtx := mat.NewSymDense(p, nil)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			sum := 0.0
			for r := 0; r < n; r++ {
				sum += X.At(r, j) * X.At(r, k)
			}
			xtx.SetSym(j, k, sum)
		}
	}

	xty := make([]float64, p)
	yty := 0.0
	for r := 0; r < n; r++ {
		yty += y[r] * y[r]
		for j := 0; j < p; j++ {
			xty[j] += X.At(r, j) * y[r]
		}
	}

	byLevel := make(map[string]*groupStats)
	var levels []string
	for r := 0; r < n; r++ {
		gs, ok := byLevel[grp[r]]
		if !ok {
			gs = &groupStats{sx: make([]float64, p)}
			byLevel[grp[r]] = gs
			levels = append(levels, grp[r])
		}
		gs.size++
		gs.sy += y[r]
		for j := 0; j < p; j++ {
			gs.sx[j] += X.At(r, j)
		}
	}
	if len(byLevel) < 2 {
		return nil, fmt.Errorf("%w: grouping factor has %d level(s), need 2", ErrInsufficientData, len(byLevel))
	}

	sort.Strings(levels)
	groups := make([]groupStats, len(levels))
	for i, lv := range levels {
		groups[i] = *byLevel[lv]
	}

	return &profile{n: n, p: p, xtx: xtx, xty: xty, yty: yty, groups: groups}, nil
}

func (pr *profile) numGroups() int { return len(pr.groups) }

// solution is the GLS solve at a fixed θ.
type solution struct {
	beta []float64
	rss  float64 // rᵀV⁻¹r
	chol *mat.Cholesky
}

// solve computes β̂(θ) and the weighted residual sum of squares using the
// Woodbury reduction V_g⁻¹ = I − (θ/(1+n_gθ))J per group.
func (pr *profile) solve(theta float64) (*solution, error) {
	p := pr.p

	a := mat.NewSymDense(p, nil)
	a.CopySym(pr.xtx)
	b := make([]float64, p)
	copy(b, pr.xty)
	yvy := pr.yty

	for _, g := range pr.groups {
		w := theta / (1 + float64(g.size)*theta)
		for j := 0; j < p; j++ {
			for k := j; k < p; k++ {
				a.SetSym(j, k, a.At(j, k)-w*g.sx[j]*g.sx[k])
			}
			b[j] -= w * g.sx[j] * g.sy
		}
		yvy -= w * g.sy * g.sy
	}

	chol := &mat.Cholesky{}
	if !chol.Factorize(a) {
		return nil, fmt.Errorf("%w: normal equations not positive definite", ErrSingularDesign)
	}

	beta := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(beta, mat.NewVecDense(p, b)); err != nil {
		return nil, fmt.Errorf("%w: GLS solve failed", ErrSingularDesign)
	}

	rss := yvy
	for j := 0; j < p; j++ {
		rss -= b[j] * beta.AtVec(j)
	}
	if rss < 1e-300 {
		rss = 1e-300
	}

	out := make([]float64, p)
	copy(out, beta.RawVector().Data)
	return &solution{beta: out, rss: rss, chol: chol}, nil
}

// criterion is the profiled REML objective up to additive constants:
// log|V| + log|XᵀV⁻¹X| + (n-p)·log(rᵀV⁻¹r).
func (pr *profile) criterion(theta float64) (float64, error) {
	sol, err := pr.solve(theta)
	if err != nil {
		return math.Inf(1), err
	}
	logDetV := 0.0
	for _, g := range pr.groups {
		logDetV += math.Log(1 + float64(g.size)*theta)
	}
	return logDetV + sol.chol.LogDet() + float64(pr.n-pr.p)*math.Log(sol.rss), nil
}
