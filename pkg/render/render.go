// Package render draws envelopes, marginal densities and lightcurves as PNG
// charts.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/vjranagit/empe/pkg/lightcurve"
	"github.com/vjranagit/empe/pkg/plotdata"
	"github.com/vjranagit/empe/pkg/types"
)

// ErrNothingToDraw is returned when every series is empty
var ErrNothingToDraw = errors.New("nothing to draw")

// Size of a rendered chart in pixels
type Size struct {
	Width  int
	Height int
}

// DefaultSize is a square figure
var DefaultSize = Size{Width: 800, Height: 800}

// colors maps the palette names used by plotdata onto drawing colors
var colors = map[string]drawing.Color{
	"black":  chart.ColorBlack,
	"red":    {R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	"orange": {R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	"yellow": {R: 0xe6, G: 0xc2, B: 0x00, A: 0xff},
	"green":  {R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	"cyan":   {R: 0x17, G: 0xbe, B: 0xcf, A: 0xff},
	"blue":   {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	"purple": {R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	"gray":   {R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff},
}

func color(name string) drawing.Color {
	if c, ok := colors[name]; ok {
		return c
	}
	return chart.ColorBlack
}

// lineStyle draws a line without markers
func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 2,
		StrokeColor: col,
	}
}

// pointStyle renders points only (no connecting line)
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 0,
		StrokeColor: drawing.ColorTransparent,
		DotWidth:    4,
		DotColor:    col,
	}
}

// logTime formats a log10 axis value as the time it stands for
func logTime(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(math.Pow(10, f), 'g', 3, 64)
	}
	return ""
}

func log10All(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Log10(v)
	}
	return out
}

// bounds tracks the data range of a chart axis
type bounds struct {
	min, max float64
}

func newBounds() bounds {
	return bounds{min: math.Inf(1), max: math.Inf(-1)}
}

func (b *bounds) add(values ...float64) {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		b.min = math.Min(b.min, v)
		b.max = math.Max(b.max, v)
	}
}

func (b bounds) empty() bool {
	return b.min > b.max
}

// padded widens the range by frac on each side, or by 0.5 when it is a
// single value
func (b bounds) padded(frac float64, descending bool) *chart.ContinuousRange {
	lo, hi := b.min, b.max
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	} else {
		pad := (hi - lo) * frac
		lo, hi = lo-pad, hi+pad
	}
	return &chart.ContinuousRange{Min: lo, Max: hi, Descending: descending}
}

// dataSeries plots observed points of every band in order
func dataSeries(data map[string]types.LightCurve, bands []string, x, y *bounds) []chart.Series {
	var series []chart.Series
	for i, b := range bands {
		lc := data[b]
		if len(lc) == 0 {
			continue
		}
		xs := log10All(lc.Times())
		ys := lc.Magnitudes()
		x.add(xs...)
		y.add(ys...)
		series = append(series, chart.ContinuousSeries{
			Name:    b,
			XValues: xs,
			YValues: ys,
			Style:   pointStyle(color(plotdata.Color(i))),
		})
	}
	return series
}

func render(w io.Writer, ch chart.Chart) error {
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// Envelope draws the min and max curves of each envelope on a log time axis
// with magnitudes increasing downwards, overlaid with observed points when
// data is non-nil.
func Envelope(w io.Writer, envs []types.Envelope, data map[string]types.LightCurve, title string, size Size) error {
	x, y := newBounds(), newBounds()
	var series []chart.Series
	var bands []string

	for i, env := range envs {
		if len(env.Times) == 0 {
			continue
		}
		col := color(plotdata.Color(i))
		xs := log10All(env.Times)
		x.add(xs...)
		y.add(env.Min...)
		y.add(env.Max...)

		series = append(series,
			chart.ContinuousSeries{Name: env.Band + " min", XValues: xs, YValues: env.Min, Style: lineStyle(col)},
			chart.ContinuousSeries{Name: env.Band + " max", XValues: xs, YValues: env.Max, Style: lineStyle(col)},
		)
		bands = append(bands, env.Band)
	}
	series = append(series, dataSeries(data, bands, &x, &y)...)

	if x.empty() {
		return ErrNothingToDraw
	}

	return render(w, chart.Chart{
		Title:  title,
		Width:  size.Width,
		Height: size.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:           "Time (days)",
			Range:          x.padded(0.02, false),
			ValueFormatter: logTime,
		},
		YAxis: chart.YAxis{
			Name:  "AB Magnitude",
			Range: y.padded(0.05, true),
		},
		Series: series,
	})
}

// LightCurves draws model curves and observed points per band. In ratio mode
// curves hold data divided by model and are drawn as points on an upright
// axis.
func LightCurves(w io.Writer, curves []lightcurve.Curve, data map[string]types.LightCurve, ratio bool, title string, size Size) error {
	x, y := newBounds(), newBounds()
	var series []chart.Series

	bands := make([]string, len(curves))
	for i, c := range curves {
		bands[i] = c.Band
		xs := log10All(c.Times)
		x.add(xs...)
		y.add(c.Values...)

		col := color(plotdata.Color(i))
		style := lineStyle(col)
		name := c.Band
		if ratio {
			style = pointStyle(col)
		} else {
			name = c.Band + " [model]"
		}
		series = append(series, chart.ContinuousSeries{Name: name, XValues: xs, YValues: c.Values, Style: style})
	}
	if !ratio && data != nil {
		if len(bands) == 0 {
			for b := range data {
				bands = append(bands, b)
			}
		}
		series = append(series, dataSeries(data, bands, &x, &y)...)
	}

	if x.empty() {
		return ErrNothingToDraw
	}

	yName := "AB Magnitude"
	if ratio {
		yName = "Data / Model"
	}
	return render(w, chart.Chart{
		Title:  title,
		Width:  size.Width,
		Height: size.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:           "Time (days)",
			Range:          x.padded(0.02, false),
			ValueFormatter: logTime,
		},
		YAxis: chart.YAxis{
			Name:  yName,
			Range: y.padded(0.05, !ratio),
		},
		Series: series,
	})
}
