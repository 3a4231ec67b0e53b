package plotdata

import (
	"errors"
	"fmt"
	"math"

	"github.com/vjranagit/empe/pkg/posterior"
	"github.com/vjranagit/empe/pkg/types"
)

// ErrUnknownParameter is returned when a requested column is not in a header
var ErrUnknownParameter = errors.New("unknown parameter")

// CombinedName names the pooled view appended in combine mode
const CombinedName = "combined"

// Input is one sample set with its own filtering thresholds
type Input struct {
	Name    string
	Samples types.SampleSet

	// MinLogLikelihood keeps records with lnL above it. Takes precedence
	// over Fraction when set.
	MinLogLikelihood *float64

	// Fraction keeps the top fraction by likelihood; 0 and 1 keep all
	Fraction float64

	// MinWeight drops records whose normalized weight is not above it
	MinWeight float64
}

// Options selects the columns and views to prepare
type Options struct {
	Params  []string
	Combine bool
	Truths  []float64
}

// View is the column-selected, weighted data of one density layer
type View struct {
	Name    string
	Color   string
	Density bool
	Empty   bool
	Rows    [][]float64
	Weights []float64
	Summary Summary
}

// Summary describes the weights of a view
type Summary struct {
	Records      int     // records before filtering
	Kept         int     // records after all filters
	MedianWeight float64 // median normalized weight of the kept records
	ESS          float64 // effective sample size
}

// Result is everything a density renderer needs
type Result struct {
	Params []string
	Labels []string
	Truths []float64
	Views  []View
}

// Prepare filters, reweights and column-selects each input. Likelihood
// filtering runs before weights are computed, the minimum-weight cut runs on
// the normalized weights, and the survivors are renormalized.
func Prepare(inputs []Input, opts Options) (Result, error) {
	if len(opts.Params) == 0 {
		return Result{}, fmt.Errorf("no parameters selected")
	}
	if opts.Truths != nil && len(opts.Truths) != len(opts.Params) {
		return Result{}, fmt.Errorf("%w: %d truths for %d parameters", posterior.ErrDimensionMismatch, len(opts.Truths), len(opts.Params))
	}

	res := Result{
		Params: append([]string(nil), opts.Params...),
		Labels: Labels(opts.Params),
		Truths: opts.Truths,
	}

	for i, in := range inputs {
		v, err := prepareOne(in, opts.Params)
		if err != nil {
			return Result{}, fmt.Errorf("sample set %q: %w", in.Name, err)
		}
		v.Color = Color(i)
		v.Density = len(inputs) == 1
		res.Views = append(res.Views, v)
	}

	if opts.Combine && len(inputs) > 0 {
		pooled, err := combine(res.Views)
		if err != nil {
			return Result{}, err
		}
		pooled.Color = Color(len(inputs))
		pooled.Density = true
		res.Views = append(res.Views, pooled)
	}
	return res, nil
}

// FilterMode picks the likelihood filter of an input with cutoff taking
// precedence over fraction
func (in Input) FilterMode() posterior.Mode {
	switch {
	case in.MinLogLikelihood != nil:
		return posterior.MinLogLikelihood(*in.MinLogLikelihood)
	case in.Fraction != 0 && in.Fraction != 1:
		return posterior.Fraction(in.Fraction)
	}
	return posterior.NoFilter()
}

// Weigh runs the filter chain of one input and returns the survivors with
// their renormalized weights. An empty result is not an error; its Summary
// has Kept == 0.
func Weigh(in Input) (types.WeightedSampleSet, Summary, error) {
	sum := Summary{Records: in.Samples.Len()}

	kept, _, err := posterior.Filter(in.Samples, nil, in.FilterMode())
	if err != nil {
		return types.WeightedSampleSet{}, sum, err
	}
	if posterior.IsEmpty(kept) {
		return types.WeightedSampleSet{SampleSet: kept}, sum, nil
	}

	weights, err := posterior.ComputeWeights(kept)
	if err != nil {
		return types.WeightedSampleSet{}, sum, err
	}
	kept, weights, err = posterior.Filter(kept, weights, posterior.MinWeight(in.MinWeight))
	if err != nil {
		return types.WeightedSampleSet{}, sum, err
	}
	if posterior.IsEmpty(kept) {
		return types.WeightedSampleSet{SampleSet: kept}, sum, nil
	}
	if weights, err = posterior.Normalize(weights); err != nil {
		return types.WeightedSampleSet{}, sum, err
	}

	sum.Kept = kept.Len()
	sum.MedianWeight = median(weights)
	sum.ESS = posterior.EffectiveSampleSize(weights)
	return types.WeightedSampleSet{SampleSet: kept, Weights: weights}, sum, nil
}

func prepareOne(in Input, params []string) (View, error) {
	cols := make([]int, len(params))
	for i, name := range params {
		col, ok := in.Samples.Header.Index(name)
		if !ok {
			return View{}, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
		}
		cols[i] = col
	}

	weighted, sum, err := Weigh(in)
	if err != nil {
		return View{}, err
	}
	v := View{Name: in.Name, Summary: sum}
	if sum.Kept == 0 {
		v.Empty = true
		return v, nil
	}

	v.Rows = make([][]float64, weighted.Len())
	for i, r := range weighted.Records {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = r.Params[c]
		}
		v.Rows[i] = row
	}
	v.Weights = weighted.Weights
	return v, nil
}

// combine pools every view's rows with its own normalized weights, so each
// input carries equal total mass. This differs from reweighting the
// concatenated raw samples once, where higher-likelihood sets dominate.
func combine(views []View) (View, error) {
	pooled := View{Name: CombinedName}
	var weights []float64
	for _, v := range views {
		pooled.Summary.Records += v.Summary.Records
		pooled.Rows = append(pooled.Rows, v.Rows...)
		weights = append(weights, v.Weights...)
	}
	if len(pooled.Rows) == 0 {
		pooled.Empty = true
		return pooled, nil
	}
	w, err := posterior.Normalize(weights)
	if err != nil {
		return View{}, fmt.Errorf("combined view: %w", err)
	}
	pooled.Weights = w
	pooled.Summary.Kept = len(pooled.Rows)
	pooled.Summary.MedianWeight = median(w)
	pooled.Summary.ESS = posterior.EffectiveSampleSize(w)
	return pooled, nil
}

func median(x []float64) float64 {
	m, err := posterior.Quantile(x, []float64{0.5}, nil)
	if err != nil {
		return math.NaN()
	}
	return m[0]
}
