package posterior

import (
	"fmt"
	"math"
	"sort"

	"github.com/vjranagit/empe/pkg/types"
)

// FilterKind selects how Filter reduces a sample set
type FilterKind int

const (
	// FilterNone keeps every record
	FilterNone FilterKind = iota
	// LikelihoodCutoff keeps records with lnL > threshold
	LikelihoodCutoff
	// TopFraction keeps the ceil(threshold*N) highest-likelihood records
	TopFraction
	// WeightCutoff keeps records with weight > threshold
	WeightCutoff
)

func (k FilterKind) String() string {
	switch k {
	case FilterNone:
		return "none"
	case LikelihoodCutoff:
		return "likelihood-cutoff"
	case TopFraction:
		return "top-fraction"
	case WeightCutoff:
		return "weight-cutoff"
	}
	return fmt.Sprintf("FilterKind(%d)", int(k))
}

// Mode is one filter step
type Mode struct {
	Kind      FilterKind
	Threshold float64
}

// NoFilter keeps all records
func NoFilter() Mode { return Mode{Kind: FilterNone} }

// MinLogLikelihood keeps records strictly above minLnL
func MinLogLikelihood(minLnL float64) Mode {
	return Mode{Kind: LikelihoodCutoff, Threshold: minLnL}
}

// Fraction keeps the top frac of records ranked by likelihood
func Fraction(frac float64) Mode {
	return Mode{Kind: TopFraction, Threshold: frac}
}

// MinWeight keeps records whose weight is strictly above minWeight
func MinWeight(minWeight float64) Mode {
	return Mode{Kind: WeightCutoff, Threshold: minWeight}
}

// Filter reduces set according to mode. weights is optional for the
// likelihood based modes; when given it must be index-aligned with set and
// the kept weights are returned alongside the kept records, without
// renormalization. Kept records retain their relative order. An empty result
// is not an error.
func Filter(set types.SampleSet, weights []float64, mode Mode) (types.SampleSet, []float64, error) {
	if weights != nil && len(weights) != set.Len() {
		return types.SampleSet{}, nil, fmt.Errorf("%w: %d records, %d weights", ErrDimensionMismatch, set.Len(), len(weights))
	}

	var keep []int
	switch mode.Kind {
	case FilterNone:
		keep = make([]int, set.Len())
		for i := range keep {
			keep[i] = i
		}

	case LikelihoodCutoff:
		for i, r := range set.Records {
			if r.LogLikelihood > mode.Threshold {
				keep = append(keep, i)
			}
		}

	case TopFraction:
		var err error
		keep, err = topFraction(set, mode.Threshold)
		if err != nil {
			return types.SampleSet{}, nil, err
		}

	case WeightCutoff:
		if weights == nil {
			return types.SampleSet{}, nil, fmt.Errorf("%w: weight cutoff needs %d weights, got none", ErrDimensionMismatch, set.Len())
		}
		for i, w := range weights {
			if w > mode.Threshold {
				keep = append(keep, i)
			}
		}

	default:
		return types.SampleSet{}, nil, fmt.Errorf("%w: unknown filter kind %v", ErrInvalidThreshold, mode.Kind)
	}

	var keptWeights []float64
	if weights != nil {
		keptWeights = make([]float64, len(keep))
		for i, idx := range keep {
			keptWeights[i] = weights[idx]
		}
	}
	return set.Subset(keep), keptWeights, nil
}

// topFraction returns, in original order, the indices of the ceil(frac*N)
// records ranking highest in a stable ascending sort by lnL
func topFraction(set types.SampleSet, frac float64) ([]int, error) {
	if !(frac > 0 && frac <= 1) {
		return nil, fmt.Errorf("%w: fraction %v not in (0, 1]", ErrInvalidThreshold, frac)
	}
	n := set.Len()
	if n == 0 {
		return []int{}, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return set.Records[order[a]].LogLikelihood < set.Records[order[b]].LogLikelihood
	})

	// frac*n is nudged down so 0.3*10 does not round up to 4
	k := int(math.Ceil(frac*float64(n) - 1e-9))
	if k > n {
		k = n
	}

	kept := make([]bool, n)
	for _, idx := range order[n-k:] {
		kept[idx] = true
	}
	keep := make([]int, 0, k)
	for i, ok := range kept {
		if ok {
			keep = append(keep, i)
		}
	}
	return keep, nil
}

// IsEmpty reports whether filtering left nothing
func IsEmpty(set types.SampleSet) bool {
	return set.Len() == 0
}
