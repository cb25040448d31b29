package mixedmodel

import (
	"fmt"
	"math"
)

// invPhi is the golden-section reduction ratio.
const invPhi = 0.6180339887498949

// minimizeREML finds the θ ≥ 0 minimizing the profiled REML criterion. A
// coarse log-spaced scan brackets the minimum, then golden-section search
// refines it. Every criterion evaluation counts against opts.MaxIter; running
// out of budget before the bracket shrinks below opts.Tol is ErrConvergence.
// Estimates indistinguishable from the θ=0 boundary are clamped to exactly
// zero so the degenerate case reproduces OLS bit-for-bit.
func minimizeREML(pr *profile, opts Options) (theta float64, iters int, err error) {
	budget := opts.MaxIter

	eval := func(t float64) (float64, error) {
		if budget <= 0 {
			return 0, fmt.Errorf("%w: budget %d exhausted", ErrConvergence, opts.MaxIter)
		}
		budget--
		iters++
		c, err := pr.criterion(t)
		if err != nil {
			return 0, err
		}
		return c, nil
	}

	// Coarse scan: θ = 0 plus four points per decade up to ThetaMax.
	grid := []float64{0}
	for t := 1e-6; t <= opts.ThetaMax; t *= math.Sqrt(math.Sqrt(10)) {
		grid = append(grid, t)
	}

	best := 0
	bestCrit := math.Inf(1)
	crits := make([]float64, len(grid))
	for i, t := range grid {
		c, err := eval(t)
		if err != nil {
			return 0, iters, err
		}
		crits[i] = c
		if c < bestCrit {
			bestCrit = c
			best = i
		}
	}

	lo := 0.0
	if best > 0 {
		lo = grid[best-1]
	}
	hi := opts.ThetaMax
	if best < len(grid)-1 {
		hi = grid[best+1]
	}

	// Golden-section refinement within [lo, hi].
	a, b := lo, hi
	x1 := b - invPhi*(b-a)
	x2 := a + invPhi*(b-a)
	f1, err := eval(x1)
	if err != nil {
		return 0, iters, err
	}
	f2, err := eval(x2)
	if err != nil {
		return 0, iters, err
	}

	for b-a > opts.Tol*(1+a) {
		if f1 <= f2 {
			b, x2, f2 = x2, x1, f1
			x1 = b - invPhi*(b-a)
			if f1, err = eval(x1); err != nil {
				return 0, iters, err
			}
		} else {
			a, x1, f1 = x1, x2, f2
			x2 = a + invPhi*(b-a)
			if f2, err = eval(x2); err != nil {
				return 0, iters, err
			}
		}
	}

	theta = (a + b) / 2
	// Anything within the bracket tolerance of the θ=0 boundary is the
	// boundary.
	if theta <= opts.Tol {
		theta = 0
	}
	return theta, iters, nil
}
