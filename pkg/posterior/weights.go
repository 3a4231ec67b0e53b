package posterior

import (
	"fmt"
	"math"

	"github.com/vjranagit/empe/pkg/types"
	"gonum.org/v1/gonum/floats"
)

// ComputeWeights converts (lnL, prior, proposal) triples into normalized
// importance weights. Log-likelihoods are shifted by their maximum before
// exponentiating so tightly clustered, large negative values do not
// underflow to zero. A zero proposal density yields a zero weight.
func ComputeWeights(set types.SampleSet) ([]float64, error) {
	n := set.Len()
	if n == 0 {
		return nil, ErrEmptySampleSet
	}

	lnL := set.LogLikelihoods()
	peak := floats.Max(lnL)
	if math.IsInf(peak, 0) || math.IsNaN(peak) {
		return nil, fmt.Errorf("%w: max log-likelihood over %d records is %v", ErrDegenerateWeights, n, peak)
	}

	weights := make([]float64, n)
	for i, r := range set.Records {
		if r.Proposal == 0 {
			continue
		}
		weights[i] = math.Exp(lnL[i]-peak) * r.Prior / r.Proposal
	}

	total := floats.Sum(weights)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: weight sum over %d records is %v", ErrDegenerateWeights, n, total)
	}
	floats.Scale(1/total, weights)

	return weights, nil
}

// Reweight attaches normalized importance weights to a sample set
func Reweight(set types.SampleSet) (types.WeightedSampleSet, error) {
	w, err := ComputeWeights(set)
	if err != nil {
		return types.WeightedSampleSet{}, err
	}
	return types.WeightedSampleSet{SampleSet: set, Weights: w}, nil
}

// Normalize returns a copy of weights scaled to sum to one. An empty slice
// is returned unchanged.
func Normalize(weights []float64) ([]float64, error) {
	if len(weights) == 0 {
		return []float64{}, nil
	}
	total := floats.Sum(weights)
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: weight sum over %d records is %v", ErrDegenerateWeights, len(weights), total)
	}
	out := append([]float64(nil), weights...)
	floats.Scale(1/total, out)
	return out, nil
}

// EffectiveSampleSize is Kish's 1/sum(w^2) for normalized weights
func EffectiveSampleSize(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	return 1 / floats.Dot(weights, weights)
}
