package posterior

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/empe/pkg/types"
)

// fiveRecordSet is lnL = -1..-5 with unit prior and proposal densities
func fiveRecordSet(t *testing.T) types.SampleSet {
	t.Helper()
	header := types.MustHeader("mej")
	var records []types.Record
	for i := 1; i <= 5; i++ {
		records = append(records, types.Record{
			LogLikelihood: -float64(i),
			Prior:         1,
			Proposal:      1,
			Params:        []float64{0.01 * float64(i)},
		})
	}
	set, err := types.NewSampleSet(header, records)
	require.NoError(t, err)
	return set
}

func randomSet(t testing.TB, n int, seed uint64) types.SampleSet {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed))
	header := types.MustHeader("mej", "vej")
	records := make([]types.Record, n)
	for i := range records {
		records[i] = types.Record{
			LogLikelihood: -50 - 10*rng.Float64(),
			Prior:         rng.Float64() + 0.1,
			Proposal:      rng.Float64() + 0.1,
			Params:        []float64{rng.Float64(), rng.Float64()},
		}
	}
	set, err := types.NewSampleSet(header, records)
	require.NoError(t, err)
	return set
}

func TestComputeWeightsSoftmax(t *testing.T) {
	w, err := ComputeWeights(fiveRecordSet(t))
	require.NoError(t, err)

	expected := []float64{0.636409, 0.234122, 0.086129, 0.031685, 0.011656}
	require.Len(t, w, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], w[i], 1e-5, "weight %d", i)
	}

	var sum float64
	for _, x := range w {
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestComputeWeightsSumToOne(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		w, err := ComputeWeights(randomSet(t, 200, seed))
		require.NoError(t, err)
		var sum float64
		for _, x := range w {
			assert.GreaterOrEqual(t, x, 0.0)
			sum += x
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestComputeWeightsShiftInvariant(t *testing.T) {
	set := randomSet(t, 100, 7)
	base, err := ComputeWeights(set)
	require.NoError(t, err)

	for _, shift := range []float64{-1e4, -700, 3, 1e3} {
		shifted := make([]types.Record, set.Len())
		for i, r := range set.Records {
			r.LogLikelihood += shift
			shifted[i] = r
		}
		w, err := ComputeWeights(types.SampleSet{Header: set.Header, Records: shifted})
		require.NoError(t, err)
		for i := range base {
			assert.InDelta(t, base[i], w[i], 1e-9, "shift %v index %d", shift, i)
		}
	}
}

func TestComputeWeightsStableForLargeNegative(t *testing.T) {
	set := fiveRecordSet(t)
	for i := range set.Records {
		set.Records[i].LogLikelihood -= 5000
	}
	w, err := ComputeWeights(set)
	require.NoError(t, err)
	assert.InDelta(t, 0.636409, w[0], 1e-5)
}

func TestComputeWeightsZeroProposal(t *testing.T) {
	set := fiveRecordSet(t)
	set.Records[0].Proposal = 0
	w, err := ComputeWeights(set)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w[0])
	assert.Greater(t, w[1], 0.0)

	set.Records[2].LogLikelihood = math.Inf(-1)
	w, err = ComputeWeights(set)
	require.NoError(t, err)
	assert.Equal(t, 0.0, w[2])
}

func TestComputeWeightsDegenerate(t *testing.T) {
	set := fiveRecordSet(t)
	for i := range set.Records {
		set.Records[i].Proposal = 0
	}
	_, err := ComputeWeights(set)
	assert.ErrorIs(t, err, ErrDegenerateWeights)

	set = fiveRecordSet(t)
	for i := range set.Records {
		set.Records[i].LogLikelihood = math.Inf(-1)
	}
	_, err = ComputeWeights(set)
	assert.ErrorIs(t, err, ErrDegenerateWeights)

	_, err = ComputeWeights(types.SampleSet{Header: types.MustHeader("mej")})
	assert.ErrorIs(t, err, ErrEmptySampleSet)
}

func TestReweightDoesNotMutateInput(t *testing.T) {
	set := fiveRecordSet(t)
	ws, err := Reweight(set)
	require.NoError(t, err)
	assert.Equal(t, -1.0, set.Records[0].LogLikelihood)
	assert.Len(t, ws.Weights, set.Len())
}

func TestEffectiveSampleSize(t *testing.T) {
	assert.InDelta(t, 4.0, EffectiveSampleSize([]float64{0.25, 0.25, 0.25, 0.25}), 1e-12)
	assert.InDelta(t, 1.0, EffectiveSampleSize([]float64{1, 0, 0}), 1e-12)
	assert.Equal(t, 0.0, EffectiveSampleSize(nil))
}

func TestFilterLikelihoodCutoff(t *testing.T) {
	set := fiveRecordSet(t)
	out, w, err := Filter(set, nil, MinLogLikelihood(-2.5))
	require.NoError(t, err)
	assert.Nil(t, w)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []float64{-1, -2}, out.LogLikelihoods())
}

func TestFilterTopFraction(t *testing.T) {
	set := fiveRecordSet(t)

	out, _, err := Filter(set, nil, Fraction(1.0))
	require.NoError(t, err)
	assert.Equal(t, set.LogLikelihoods(), out.LogLikelihoods())

	out, _, err = Filter(set, nil, Fraction(0.3))
	require.NoError(t, err)
	// ceil(0.3*5) = 2
	assert.Equal(t, []float64{-1, -2}, out.LogLikelihoods())

	_, _, err = Filter(set, nil, Fraction(0))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	_, _, err = Filter(set, nil, Fraction(1.5))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestFilterTopFractionPreservesOrderAndTies(t *testing.T) {
	header := types.MustHeader("x")
	lnL := []float64{-3, -1, -2, -1, -5, -1}
	records := make([]types.Record, len(lnL))
	for i, l := range lnL {
		records[i] = types.Record{LogLikelihood: l, Prior: 1, Proposal: 1, Params: []float64{float64(i)}}
	}
	set := types.SampleSet{Header: header, Records: records}

	// top 2 of the three tied -1 records are the last two in input order
	out, _, err := Filter(set, nil, Fraction(2.0/6.0))
	require.NoError(t, err)
	col, _ := out.Column("x")
	assert.Equal(t, []float64{3, 5}, col)

	out, _, err = Filter(set, nil, Fraction(0.5))
	require.NoError(t, err)
	col, _ = out.Column("x")
	assert.Equal(t, []float64{1, 3, 5}, col)
}

func TestFilterWeightCutoff(t *testing.T) {
	set := fiveRecordSet(t)
	w, err := ComputeWeights(set)
	require.NoError(t, err)

	out, kept, err := Filter(set, w, MinWeight(w[0]+1))
	require.NoError(t, err)
	assert.True(t, IsEmpty(out))
	assert.Empty(t, kept)

	out, kept, err = Filter(set, w, MinWeight(w[2]))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, w[:2], kept)

	zeroed := append([]float64(nil), w...)
	zeroed[4] = 0
	out, _, err = Filter(set, zeroed, MinWeight(0))
	require.NoError(t, err)
	assert.Equal(t, 4, out.Len())

	_, _, err = Filter(set, nil, MinWeight(0))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, _, err = Filter(set, w[:3], NoFilter())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFilterNoneIsIdentity(t *testing.T) {
	set := fiveRecordSet(t)
	w, _ := ComputeWeights(set)
	out, kept, err := Filter(set, w, NoFilter())
	require.NoError(t, err)
	assert.Equal(t, set.Records, out.Records)
	assert.Equal(t, w, kept)
}

func TestQuantileUnweighted(t *testing.T) {
	got, err := Quantile([]float64{1, 2, 3, 4, 5}, []float64{0.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.0}, got)

	got, err = Quantile([]float64{5, 1, 4, 2}, []float64{0, 0.25, 0.5, 1}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1.75, 3, 5}, got, 1e-12)
}

func TestQuantileUniformWeightsMatchUnweighted(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	values := make([]float64, 57)
	ones := make([]float64, len(values))
	for i := range values {
		values[i] = rng.NormFloat64()
		ones[i] = 1
	}
	q := []float64{0, 0.05, 0.4, 0.5, 0.6, 0.95, 1}

	plain, err := Quantile(values, q, nil)
	require.NoError(t, err)
	weighted, err := Quantile(values, q, ones)
	require.NoError(t, err)
	assert.InDeltaSlice(t, plain, weighted, 1e-12)

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	assert.Equal(t, lo, weighted[0])
	assert.Equal(t, hi, weighted[len(weighted)-1])
}

func TestQuantileDropsLastSortedWeight(t *testing.T) {
	values := []float64{3, 1, 2}

	// sorted weights [2, 1, w]; cdf = [0, 2/3, 1] for any w
	for _, last := range []float64{1, 100, 0} {
		got, err := Quantile(values, []float64{0.5, 0.8}, []float64{last, 2, 1})
		require.NoError(t, err)
		assert.InDelta(t, 1.75, got[0], 1e-12)
		assert.InDelta(t, 2.4, got[1], 1e-12)
	}
}

func TestQuantileRepeatedCDFKnots(t *testing.T) {
	// a zero weight on the smallest value makes cdf = [0, 0, 0.5, 1]
	got, err := Quantile([]float64{1, 2, 3, 4}, []float64{0, 0.25}, []float64{0, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got[0])
	assert.InDelta(t, 2.5, got[1], 1e-12)
}

func TestQuantileErrors(t *testing.T) {
	_, err := Quantile([]float64{1, 2}, []float64{1.2}, nil)
	assert.ErrorIs(t, err, ErrInvalidQuantile)
	_, err = Quantile([]float64{1, 2}, []float64{math.NaN()}, nil)
	assert.ErrorIs(t, err, ErrInvalidQuantile)
	_, err = Quantile([]float64{1, 2}, []float64{-0.1}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidQuantile)
	_, err = Quantile([]float64{1, 2}, []float64{0.5}, []float64{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = Quantile(nil, []float64{0.5}, nil)
	assert.ErrorIs(t, err, ErrEmptyFilterResult)
	_, err = Quantile([]float64{1, 2}, []float64{0.5}, []float64{0, 1})
	assert.ErrorIs(t, err, ErrDegenerateWeights)
}

func TestQuantileSingleValue(t *testing.T) {
	got, err := Quantile([]float64{7}, []float64{0, 0.5, 1}, []float64{0.3})
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 7}, got)
}

func TestInterval(t *testing.T) {
	lo, hi, err := Interval([]float64{1, 2, 3, 4, 5}, nil, types.QuantileSpec{Param: "mej", Low: 0.25, High: 0.75})
	require.NoError(t, err)
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 4.0, hi)

	_, _, err = Interval([]float64{1, 2}, nil, types.QuantileSpec{Param: "mej", Low: 0.7, High: 0.3})
	assert.ErrorIs(t, err, ErrInvalidQuantile)
}

func BenchmarkComputeWeights(b *testing.B) {
	set := randomSet(b, 50000, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ComputeWeights(set)
	}
}

func BenchmarkWeightedQuantile(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	values := make([]float64, 50000)
	weights := make([]float64, len(values))
	for i := range values {
		values[i] = rng.Float64()
		weights[i] = rng.Float64()
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Quantile(values, []float64{0.4, 0.6}, weights)
	}
}
