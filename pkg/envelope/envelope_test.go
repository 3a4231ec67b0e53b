package envelope

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/empe/pkg/models"
	"github.com/vjranagit/empe/pkg/posterior"
	"github.com/vjranagit/empe/pkg/types"
)

func weightedSet(t *testing.T, n int, spread float64) types.WeightedSampleSet {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	header := types.MustHeader("m0", "slope", "dist")
	records := make([]types.Record, n)
	for i := range records {
		records[i] = types.Record{
			LogLikelihood: -rng.Float64() * 5,
			Prior:         1,
			Proposal:      1,
			Params: []float64{
				-16 + spread*rng.NormFloat64(),
				2 + spread*rng.NormFloat64(),
				40 + 10*spread*rng.Float64(),
			},
		}
	}
	ws, err := posterior.Reweight(types.SampleSet{Header: header, Records: records})
	require.NoError(t, err)
	return ws
}

func TestGridGeometric(t *testing.T) {
	grid, err := Grid(1, 100, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 10, 100}, grid, 1e-9)

	grid, err = Grid(0.1, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1}, grid)

	grid, err = Grid(0.5, 20, 200)
	require.NoError(t, err)
	ratio := grid[1] / grid[0]
	for i := 2; i < len(grid); i++ {
		assert.InDelta(t, ratio, grid[i]/grid[i-1], 1e-9)
	}
}

func TestGridInvalidRange(t *testing.T) {
	for _, tc := range []struct{ tmin, tmax float64 }{{0, 10}, {-1, 10}, {5, 5}, {5, 1}} {
		_, err := Grid(tc.tmin, tc.tmax, 10)
		assert.ErrorIs(t, err, ErrInvalidTimeRange, "range [%v, %v]", tc.tmin, tc.tmax)
	}
}

func TestDistanceModulus(t *testing.T) {
	// 10 pc is the zero point
	assert.InDelta(t, 0.0, DistanceModulus(1e-5), 1e-12)
	assert.InDelta(t, 25.0, DistanceModulus(1), 1e-12)
	assert.InDelta(t, 33.010299956639813, DistanceModulus(40), 1e-9)
}

func TestSynthesizeDegenerateIntervals(t *testing.T) {
	header := types.MustHeader("m0", "slope", "dist")
	records := make([]types.Record, 10)
	for i := range records {
		records[i] = types.Record{LogLikelihood: -float64(i), Prior: 1, Proposal: 1, Params: []float64{-16, 2, 40}}
	}
	ws, err := posterior.Reweight(types.SampleSet{Header: header, Records: records})
	require.NoError(t, err)

	req := types.EnvelopeRequest{Model: models.PowerLawName, TMin: 1, TMax: 100, Band: "g", Points: 3, Draws: 5, Seed: 1}
	env, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)

	dm := DistanceModulus(40)
	expected := []float64{-16 + dm, -14 + dm, -12 + dm}
	assert.InDeltaSlice(t, expected, env.Min, 1e-9)
	assert.InDeltaSlice(t, expected, env.Max, 1e-9)
	assert.Equal(t, "g", env.Band)
	assert.Equal(t, 5, env.Draws)
}

func TestSynthesizeMinBelowMax(t *testing.T) {
	ws := weightedSet(t, 300, 0.5)
	req := types.EnvelopeRequest{TMin: 0.1, TMax: 20, Band: "r", Seed: 42}
	env, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)

	require.Len(t, env.Times, 200)
	require.Len(t, env.Min, 200)
	require.Len(t, env.Max, 200)
	assert.Equal(t, 100, env.Draws)
	for i := range env.Times {
		assert.LessOrEqual(t, env.Min[i], env.Max[i])
	}
}

func TestSynthesizeReproducibleAndWorkerInvariant(t *testing.T) {
	ws := weightedSet(t, 300, 0.5)
	req := types.EnvelopeRequest{TMin: 0.1, TMax: 20, Band: "i", Seed: 7, Draws: 64, Points: 50}

	serial, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)

	again, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)
	assert.Equal(t, serial, again)

	req.Workers = 4
	parallel, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)

	req.Seed = 8
	other, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)
	assert.NotEqual(t, serial.Min, other.Min)
}

func TestSynthesizeFixedOverrides(t *testing.T) {
	// dist is not sampled at all; the override supplies it
	header := types.MustHeader("m0", "slope")
	records := []types.Record{
		{LogLikelihood: -1, Prior: 1, Proposal: 1, Params: []float64{-15, 1}},
		{LogLikelihood: -1, Prior: 1, Proposal: 1, Params: []float64{-15, 1}},
	}
	ws, err := posterior.Reweight(types.SampleSet{Header: header, Records: records})
	require.NoError(t, err)

	req := types.EnvelopeRequest{
		TMin: 1, TMax: 10, Band: "g", Points: 2, Draws: 3,
		Fixed: map[string]float64{"dist": 1, "slope": 0},
	}
	env, err := Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 10}, env.Max, 1e-9)
	assert.InDeltaSlice(t, []float64{10, 10}, env.Min, 1e-9)
}

func TestSynthesizeMissingParameter(t *testing.T) {
	header := types.MustHeader("m0", "dist")
	records := []types.Record{{LogLikelihood: -1, Prior: 1, Proposal: 1, Params: []float64{-15, 40}}}
	ws, err := posterior.Reweight(types.SampleSet{Header: header, Records: records})
	require.NoError(t, err)

	req := types.EnvelopeRequest{TMin: 1, TMax: 10, Band: "g"}
	_, err = Synthesize(context.Background(), req, ws, models.NewPowerLaw())
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.Contains(t, err.Error(), "slope")
}

func TestSynthesizeInvalidInput(t *testing.T) {
	ws := weightedSet(t, 20, 0.1)

	_, err := Synthesize(context.Background(), types.EnvelopeRequest{TMin: 0, TMax: 10, Band: "g"}, ws, models.NewPowerLaw())
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
	_, err = Synthesize(context.Background(), types.EnvelopeRequest{TMin: 10, TMax: 1, Band: "g"}, ws, models.NewPowerLaw())
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	empty := types.WeightedSampleSet{SampleSet: types.SampleSet{Header: ws.Header}}
	_, err = Synthesize(context.Background(), types.EnvelopeRequest{TMin: 1, TMax: 10, Band: "g"}, empty, models.NewPowerLaw())
	assert.ErrorIs(t, err, posterior.ErrEmptyFilterResult)

	ws.Weights = ws.Weights[:5]
	_, err = Synthesize(context.Background(), types.EnvelopeRequest{TMin: 1, TMax: 10, Band: "g"}, ws, models.NewPowerLaw())
	assert.ErrorIs(t, err, posterior.ErrDimensionMismatch)
}

// shortModel returns one magnitude fewer than requested
type shortModel struct{ models.PowerLaw }

func (m *shortModel) Evaluate(t []float64, band string) ([]float64, []float64, error) {
	return make([]float64, len(t)-1), nil, nil
}

// failingModel rejects every configuration
type failingModel struct{ models.PowerLaw }

var errRejected = errors.New("rejected")

func (m *failingModel) SetParams(map[string]float64, float64, float64) error { return errRejected }

func TestSynthesizeModelErrors(t *testing.T) {
	ws := weightedSet(t, 20, 0.1)
	req := types.EnvelopeRequest{TMin: 1, TMax: 10, Band: "g", Draws: 4, Points: 5}

	_, err := Synthesize(context.Background(), req, ws, &shortModel{})
	assert.ErrorIs(t, err, ErrModelOutput)

	_, err = Synthesize(context.Background(), req, ws, &failingModel{})
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, err.Error(), "draw 0")
}

func TestSynthesizeCancelled(t *testing.T) {
	ws := weightedSet(t, 20, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := types.EnvelopeRequest{TMin: 1, TMax: 10, Band: "g"}
	_, err := Synthesize(ctx, req, ws, models.NewPowerLaw())
	assert.ErrorIs(t, err, context.Canceled)

	req.Workers = 3
	_, err = Synthesize(ctx, req, ws, models.NewPowerLaw())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPanels(t *testing.T) {
	ws := weightedSet(t, 50, 0.2)
	base := types.EnvelopeRequest{TMin: 0.5, TMax: 5, Points: 10, Draws: 10, Seed: 3}
	envs, err := Panels(context.Background(), base, []Panel{{Band: "g", Samples: ws}, {Band: "K", Samples: ws}}, models.NewPowerLaw())
	require.NoError(t, err)
	require.Len(t, envs, 2)

	// K is offset 1.4 mag fainter than g under identical draws
	for i := range envs[0].Times {
		assert.InDelta(t, envs[0].Min[i]+1.4, envs[1].Min[i], 1e-9)
	}

	_, err = Panels(context.Background(), base, []Panel{{Band: "u", Samples: ws}}, models.NewPowerLaw())
	assert.Error(t, err)
}

func TestConfigApply(t *testing.T) {
	req := DefaultConfig().Apply(types.EnvelopeRequest{})
	assert.Equal(t, 0.4, req.Low)
	assert.Equal(t, 0.6, req.High)
	assert.Equal(t, 100, req.Draws)
	assert.Equal(t, 200, req.Points)
	assert.Equal(t, 1, req.Workers)

	req = DefaultConfig().Apply(types.EnvelopeRequest{Low: 0.05, High: 0.95, Draws: 7})
	assert.Equal(t, 0.05, req.Low)
	assert.Equal(t, 7, req.Draws)
	assert.False(t, math.IsNaN(req.High))

	// a lone lower bound keeps the configured upper bound
	req = DefaultConfig().Apply(types.EnvelopeRequest{Low: 0.3})
	assert.Equal(t, 0.3, req.Low)
	assert.Equal(t, 0.6, req.High)
	require.NoError(t, types.QuantileSpec{Low: req.Low, High: req.High}.Validate())

	// an explicit zero lower bound survives when the upper one is given
	req = DefaultConfig().Apply(types.EnvelopeRequest{High: 0.9})
	assert.Equal(t, 0.0, req.Low)
	assert.Equal(t, 0.9, req.High)
}
