package posterior

import "errors"

var (
	// ErrDegenerateWeights is returned when no record carries positive weight
	ErrDegenerateWeights = errors.New("degenerate weights")

	// ErrDimensionMismatch is returned when values and weights differ in length
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidQuantile is returned for probabilities outside [0, 1]
	ErrInvalidQuantile = errors.New("invalid quantile")

	// ErrInvalidThreshold is returned for a filter threshold outside its domain
	ErrInvalidThreshold = errors.New("invalid filter threshold")

	// ErrEmptySampleSet is returned when weights are requested for no records
	ErrEmptySampleSet = errors.New("empty sample set")

	// ErrEmptyFilterResult marks a consumer that cannot work on zero records.
	// Filter itself never returns it.
	ErrEmptyFilterResult = errors.New("no records left after filtering")
)
