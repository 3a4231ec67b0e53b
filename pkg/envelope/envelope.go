package envelope

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vjranagit/empe/pkg/posterior"
	"github.com/vjranagit/empe/pkg/types"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrMissingParameter is returned when a model parameter is neither
	// sampled nor fixed
	ErrMissingParameter = errors.New("missing model parameter")

	// ErrInvalidTimeRange is returned for tmin <= 0 or tmax <= tmin
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrModelOutput is returned when a model yields an unusable curve
	ErrModelOutput = errors.New("invalid model output")
)

// DistanceParam is the luminosity distance in Mpc used for the distance
// modulus. It is required in addition to the model's own parameters.
const DistanceParam = "dist"

// Config holds the defaults applied to zero-valued request fields
type Config struct {
	Low     float64 // lower quantile of each free parameter's draw range
	High    float64 // upper quantile
	Draws   int
	Points  int
	Workers int
}

// DefaultConfig returns the 0.4/0.6 central band with 100 draws over a
// 200 point grid, evaluated serially
func DefaultConfig() Config {
	return Config{
		Low:     0.4,
		High:    0.6,
		Draws:   100,
		Points:  200,
		Workers: 1,
	}
}

// Apply fills unset request fields from the config. A zero High takes the
// configured upper quantile on its own; a zero Low is only replaced when High
// is unset too, since [0, High] is a valid draw range.
func (c Config) Apply(req types.EnvelopeRequest) types.EnvelopeRequest {
	if req.Low == 0 && req.High == 0 {
		req.Low = c.Low
	}
	if req.High == 0 {
		req.High = c.High
	}
	if req.Draws <= 0 {
		req.Draws = c.Draws
	}
	if req.Points <= 0 {
		req.Points = c.Points
	}
	if req.Workers <= 0 {
		req.Workers = c.Workers
	}
	return req
}

// Grid returns n log-spaced times over [tmin, tmax]
func Grid(tmin, tmax float64, n int) ([]float64, error) {
	if !(tmin > 0) || !(tmax > tmin) {
		return nil, fmt.Errorf("%w: [%v, %v]", ErrInvalidTimeRange, tmin, tmax)
	}
	if n < 1 {
		return nil, fmt.Errorf("grid needs at least one point, got %d", n)
	}
	if n == 1 {
		return []float64{tmin}, nil
	}
	return floats.LogSpan(make([]float64, n), tmin, tmax), nil
}

// DistanceModulus converts a distance in Mpc to m - M
func DistanceModulus(distMpc float64) float64 {
	return 5 * (math.Log10(distMpc*1e6) - 1)
}

// bound is the uniform draw range of one free parameter
type bound struct {
	name   string
	lo, hi float64
}

// Synthesize draws parameter vectors uniformly from per-parameter quantile
// ranges of samples, evaluates model at each draw on a log-spaced grid and
// reduces the apparent-magnitude curves to their per-time min and max.
// Coordinates are drawn independently, so joint correlations of the
// posterior are not reproduced.
func Synthesize(ctx context.Context, req types.EnvelopeRequest, samples types.WeightedSampleSet, model types.Model) (types.Envelope, error) {
	req = DefaultConfig().Apply(req)

	grid, err := Grid(req.TMin, req.TMax, req.Points)
	if err != nil {
		return types.Envelope{}, err
	}
	if samples.Len() == 0 {
		return types.Envelope{}, fmt.Errorf("envelope for band %q: %w", req.Band, posterior.ErrEmptyFilterResult)
	}
	if len(samples.Weights) != samples.Len() {
		return types.Envelope{}, fmt.Errorf("%w: %d records, %d weights", posterior.ErrDimensionMismatch, samples.Len(), len(samples.Weights))
	}

	bounds, err := drawRanges(req, samples, model.ParamNames())
	if err != nil {
		return types.Envelope{}, err
	}
	draws := drawParams(req, bounds)

	curves := make([][]float64, len(draws))
	if err := evaluate(ctx, req, model, draws, grid, curves); err != nil {
		return types.Envelope{}, err
	}

	env := types.Envelope{
		Model: req.Model,
		Band:  req.Band,
		Draws: req.Draws,
		Times: grid,
		Min:   append([]float64(nil), curves[0]...),
		Max:   append([]float64(nil), curves[0]...),
	}
	for _, curve := range curves[1:] {
		for i, v := range curve {
			env.Min[i] = math.Min(env.Min[i], v)
			env.Max[i] = math.Max(env.Max[i], v)
		}
	}
	return env, nil
}

// drawRanges resolves every required parameter to either a fixed value or a
// weighted quantile range of its sampled column
func drawRanges(req types.EnvelopeRequest, samples types.WeightedSampleSet, paramNames []string) ([]bound, error) {
	required := append(append([]string(nil), paramNames...), DistanceParam)
	seen := make(map[string]bool, len(required))

	var bounds []bound
	for _, name := range required {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, fixed := req.Fixed[name]; fixed {
			continue
		}
		col, ok := samples.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not sampled and not fixed", ErrMissingParameter, name)
		}
		lo, hi, err := posterior.Interval(col, samples.Weights, types.QuantileSpec{Param: name, Low: req.Low, High: req.High})
		if err != nil {
			return nil, err
		}
		bounds = append(bounds, bound{name: name, lo: lo, hi: hi})
	}
	return bounds, nil
}

// drawParams generates all draws up front from the seeded source so the
// result does not depend on how evaluation is scheduled
func drawParams(req types.EnvelopeRequest, bounds []bound) []map[string]float64 {
	rng := rand.New(rand.NewPCG(req.Seed, req.Seed^0x9e3779b97f4a7c15))
	draws := make([]map[string]float64, req.Draws)
	for d := range draws {
		params := make(map[string]float64, len(bounds)+len(req.Fixed))
		for _, b := range bounds {
			params[b.name] = b.lo + (b.hi-b.lo)*rng.Float64()
		}
		for name, v := range req.Fixed {
			params[name] = v
		}
		draws[d] = params
	}
	return draws
}

// evaluate fills curves[i] with the apparent magnitudes of draws[i]
func evaluate(ctx context.Context, req types.EnvelopeRequest, model types.Model, draws []map[string]float64, grid []float64, curves [][]float64) error {
	cloner, parallel := model.(types.Cloner)
	workers := req.Workers
	if workers > len(draws) {
		workers = len(draws)
	}
	if !parallel || workers <= 1 {
		for i, params := range draws {
			if err := ctx.Err(); err != nil {
				return err
			}
			curve, err := evaluateDraw(model, req, params, grid)
			if err != nil {
				return fmt.Errorf("draw %d: %w", i, err)
			}
			curves[i] = curve
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		m := cloner.Clone()
		g.Go(func() error {
			for i := w; i < len(draws); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				curve, err := evaluateDraw(m, req, draws[i], grid)
				if err != nil {
					return fmt.Errorf("draw %d: %w", i, err)
				}
				curves[i] = curve
			}
			return nil
		})
	}
	return g.Wait()
}

func evaluateDraw(m types.Model, req types.EnvelopeRequest, params map[string]float64, grid []float64) ([]float64, error) {
	dist := params[DistanceParam]
	if !(dist > 0) {
		return nil, fmt.Errorf("%w: distance %v Mpc", ErrModelOutput, dist)
	}
	if err := m.SetParams(params, req.TMin, req.TMax); err != nil {
		return nil, fmt.Errorf("set params: %w", err)
	}
	mag, _, err := m.Evaluate(grid, req.Band)
	if err != nil {
		return nil, fmt.Errorf("evaluate band %q: %w", req.Band, err)
	}
	if len(mag) != len(grid) {
		return nil, fmt.Errorf("%w: %d magnitudes for %d times", ErrModelOutput, len(mag), len(grid))
	}
	dm := DistanceModulus(dist)
	out := make([]float64, len(mag))
	for i, v := range mag {
		out[i] = v + dm
	}
	return out, nil
}

// Panel is one band of a multi-panel lightcurve figure
type Panel struct {
	Band    string
	Samples types.WeightedSampleSet
}

// Panels synthesizes one envelope per panel, sharing the request settings
// and model
func Panels(ctx context.Context, base types.EnvelopeRequest, panels []Panel, model types.Model) ([]types.Envelope, error) {
	out := make([]types.Envelope, 0, len(panels))
	for _, p := range panels {
		req := base
		req.Band = p.Band
		env, err := Synthesize(ctx, req, p.Samples, model)
		if err != nil {
			return nil, fmt.Errorf("panel %q: %w", p.Band, err)
		}
		out = append(out, env)
	}
	return out, nil
}
