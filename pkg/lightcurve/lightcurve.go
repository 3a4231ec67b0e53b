// Package lightcurve evaluates a model at a single parameter vector, either
// on a regular grid or at observed times.
package lightcurve

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/vjranagit/empe/pkg/posterior"
	"github.com/vjranagit/empe/pkg/types"
)

// GridPoints is the number of times a model curve is evaluated at
const GridPoints = 100

// ErrNoData is returned when a ratio is requested without observations
var ErrNoData = errors.New("no observed data")

// Curve is one band of model output, or of data divided by model
type Curve struct {
	Band   string
	Times  []float64
	Values []float64
}

// Bind zips values onto the model's parameter names
func Bind(model types.Model, values []float64) (map[string]float64, error) {
	names := model.ParamNames()
	if len(values) != len(names) {
		return nil, fmt.Errorf("%w: %d values for %d parameters", posterior.ErrDimensionMismatch, len(values), len(names))
	}
	params := make(map[string]float64, len(names))
	for i, n := range names {
		params[n] = values[i]
	}
	return params, nil
}

// Model evaluates model on a linear grid of GridPoints times in every band
func Model(model types.Model, params map[string]float64, bands []string, tmin, tmax float64) ([]Curve, error) {
	if !(tmin < tmax) {
		return nil, fmt.Errorf("invalid time range [%g, %g]", tmin, tmax)
	}
	if err := model.SetParams(params, tmin, tmax); err != nil {
		return nil, fmt.Errorf("failed to set model parameters: %w", err)
	}

	t := floats.Span(make([]float64, GridPoints), tmin, tmax)
	curves := make([]Curve, 0, len(bands))
	for _, b := range bands {
		mag, _, err := model.Evaluate(t, b)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", b, err)
		}
		curves = append(curves, Curve{Band: b, Times: t, Values: mag})
	}
	return curves, nil
}

// Ratio divides observed magnitudes by the model evaluated at the observed
// times. The model is configured once with the time span of all bands.
func Ratio(model types.Model, params map[string]float64, data map[string]types.LightCurve, bands []string) ([]Curve, error) {
	tmin, tmax := math.Inf(1), math.Inf(-1)
	for _, b := range bands {
		for _, p := range data[b] {
			tmin = math.Min(tmin, p.Time)
			tmax = math.Max(tmax, p.Time)
		}
	}
	if math.IsInf(tmin, 1) {
		return nil, ErrNoData
	}
	if err := model.SetParams(params, tmin, tmax); err != nil {
		return nil, fmt.Errorf("failed to set model parameters: %w", err)
	}

	curves := make([]Curve, 0, len(bands))
	for _, b := range bands {
		lc := data[b]
		t := lc.Times()
		mag, _, err := model.Evaluate(t, b)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", b, err)
		}
		if len(mag) != len(t) {
			return nil, fmt.Errorf("band %s: model returned %d values for %d times", b, len(mag), len(t))
		}
		obs := lc.Magnitudes()
		floats.Div(obs, mag)
		curves = append(curves, Curve{Band: b, Times: t, Values: obs})
	}
	return curves, nil
}

// Title is "model, name=value ..." with values rounded to four decimals
func Title(model string, names []string, params map[string]float64) string {
	var sb strings.Builder
	sb.WriteString(model)
	sb.WriteString(",")
	for _, n := range names {
		v := math.Round(params[n]*1e4) / 1e4
		sb.WriteString(" ")
		sb.WriteString(n)
		sb.WriteString("=")
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return sb.String()
}
