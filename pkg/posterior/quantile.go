package posterior

import (
	"fmt"
	"math"
	"sort"

	"github.com/vjranagit/empe/pkg/types"
)

// Quantile computes the q quantiles of values. Without weights it is the
// linear-interpolation percentile. With weights the values are sorted and
// interpolated against a weighted empirical CDF built from the cumulative sum
// of all but the last sorted weight, normalized by that partial sum and
// prefixed with zero. Interval consumers are calibrated against this N-1
// point convention, so it must not be replaced by the full-N CDF.
func Quantile(values, q, weights []float64) ([]float64, error) {
	for _, p := range q {
		if !(p >= 0 && p <= 1) {
			return nil, fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidQuantile, p)
		}
	}
	if weights != nil && len(weights) != len(values) {
		return nil, fmt.Errorf("%w: len(values)=%d, len(weights)=%d", ErrDimensionMismatch, len(values), len(weights))
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("quantile: %w", ErrEmptyFilterResult)
	}

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})
	sorted := make([]float64, len(values))
	for i, idx := range order {
		sorted[i] = values[idx]
	}

	out := make([]float64, len(q))
	if weights == nil {
		for i, p := range q {
			out[i] = percentile(sorted, p)
		}
		return out, nil
	}

	if len(sorted) == 1 {
		for i := range out {
			out[i] = sorted[0]
		}
		return out, nil
	}

	cdf := make([]float64, len(sorted))
	var cum float64
	for i := 0; i < len(sorted)-1; i++ {
		cum += weights[order[i]]
		cdf[i+1] = cum
	}
	if !(cum > 0) || math.IsInf(cum, 0) {
		return nil, fmt.Errorf("%w: partial weight sum %v for weighted quantile", ErrDegenerateWeights, cum)
	}
	for i := range cdf {
		cdf[i] /= cum
	}

	for i, p := range q {
		out[i] = interp(p, cdf, sorted)
	}
	return out, nil
}

// Interval returns the credible interval spec bounds for values
func Interval(values, weights []float64, spec types.QuantileSpec) (float64, float64, error) {
	if err := spec.Validate(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidQuantile, err)
	}
	bounds, err := Quantile(values, []float64{spec.Low, spec.High}, weights)
	if err != nil {
		return 0, 0, fmt.Errorf("interval for %q: %w", spec.Param, err)
	}
	return bounds[0], bounds[1], nil
}

// percentile interpolates linearly between closest ranks of sorted
func percentile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// interp is piecewise-linear interpolation of x against the non-decreasing
// knots xp, clamped at both ends. For repeated knots the segment starting at
// the last knot <= x is used.
func interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if x >= xp[n-1] {
		return fp[n-1]
	}
	j := sort.Search(n, func(i int) bool { return xp[i] > x }) - 1
	if j < 0 {
		return fp[0]
	}
	slope := (fp[j+1] - fp[j]) / (xp[j+1] - xp[j])
	return fp[j] + slope*(x-xp[j])
}
