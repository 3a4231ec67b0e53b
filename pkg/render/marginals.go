package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sort"

	chart "github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/vjranagit/empe/pkg/plotdata"
)

// DefaultBins is the histogram resolution of a marginal panel
const DefaultBins = 20

// Histogram is a weighted 1D histogram over Edges, len(Edges) == len(Counts)+1
type Histogram struct {
	Edges  []float64
	Counts []float64
}

// WeightedHistogram bins x into n equal bins spanning [lo, hi]. Values
// outside the span are dropped. A zero-width span is widened to one unit.
func WeightedHistogram(x, weights []float64, lo, hi float64, n int) Histogram {
	if n < 1 {
		n = DefaultBins
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, n+1), lo, hi)

	type pair struct{ x, w float64 }
	pairs := make([]pair, 0, len(x))
	for i, v := range x {
		if v < lo || v > hi {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		pairs = append(pairs, pair{v, w})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

	xs := make([]float64, len(pairs))
	ws := make([]float64, len(pairs))
	for i, p := range pairs {
		xs[i], ws[i] = p.x, p.w
	}

	// stat.Histogram wants the last divider strictly above every value
	dividers := append([]float64(nil), edges...)
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, xs, ws)
	return Histogram{Edges: edges, Counts: counts}
}

// Density rescales counts so the histogram integrates to one
func (h Histogram) Density() Histogram {
	total := floats.Sum(h.Counts)
	out := Histogram{Edges: h.Edges, Counts: make([]float64, len(h.Counts))}
	if total == 0 {
		return out
	}
	for i, c := range h.Counts {
		out.Counts[i] = c / (total * (h.Edges[i+1] - h.Edges[i]))
	}
	return out
}

// steps traces the histogram outline
func (h Histogram) steps() (xs, ys []float64) {
	for i, c := range h.Counts {
		xs = append(xs, h.Edges[i], h.Edges[i+1])
		ys = append(ys, c, c)
	}
	return xs, ys
}

// columnRange spans column j across every non-empty view
func columnRange(res plotdata.Result, j int) bounds {
	b := newBounds()
	for _, v := range res.Views {
		for _, row := range v.Rows {
			b.add(row[j])
		}
	}
	return b
}

// marginal draws the histograms of column j of every view
func marginal(res plotdata.Result, j, bins int, size Size) (image.Image, error) {
	xb := columnRange(res, j)
	if xb.empty() {
		return nil, fmt.Errorf("parameter %q: %w", res.Params[j], ErrNothingToDraw)
	}
	yb := newBounds()
	yb.add(0)

	var series []chart.Series
	for _, v := range res.Views {
		if v.Empty {
			continue
		}
		col := make([]float64, len(v.Rows))
		for i, row := range v.Rows {
			col[i] = row[j]
		}
		h := WeightedHistogram(col, v.Weights, xb.min, xb.max, bins)
		if v.Density {
			h = h.Density()
		}
		xs, ys := h.steps()
		yb.add(ys...)
		series = append(series, chart.ContinuousSeries{
			Name:    v.Name,
			XValues: xs,
			YValues: ys,
			Style:   lineStyle(color(v.Color)),
		})
	}
	if res.Truths != nil && !math.IsNaN(res.Truths[j]) {
		t := res.Truths[j]
		xb.add(t)
		series = append(series, chart.ContinuousSeries{
			Name:    "truth",
			XValues: []float64{t, t},
			YValues: []float64{0, yb.max},
			Style:   chart.Style{StrokeWidth: 1, StrokeColor: color("gray"), StrokeDashArray: []float64{4, 4}},
		})
	}

	yName := "Weight"
	if len(res.Views) > 0 && res.Views[0].Density {
		yName = "Probability Density"
	}
	ch := chart.Chart{
		Width:  size.Width,
		Height: size.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis:  chart.XAxis{Name: res.Labels[j], Range: xb.padded(0.02, false)},
		YAxis:  chart.YAxis{Name: yName, Range: yb.padded(0.05, false)},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render parameter %q: %w", res.Params[j], err)
	}
	return png.Decode(&buf)
}

// Marginals draws one weighted histogram panel per selected parameter and
// tiles the panels into a near-square grid. Single-view results are drawn as
// densities, multi-view results as raw weights with the pooled view, if any,
// as a density.
func Marginals(w io.Writer, res plotdata.Result, bins int, panel Size) error {
	n := len(res.Params)
	if n == 0 {
		return ErrNothingToDraw
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	canvas := image.NewRGBA(image.Rect(0, 0, cols*panel.Width, rows*panel.Height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for j := 0; j < n; j++ {
		img, err := marginal(res, j, bins, panel)
		if err != nil {
			return err
		}
		at := image.Pt((j%cols)*panel.Width, (j/cols)*panel.Height)
		draw.Draw(canvas, img.Bounds().Add(at), img, img.Bounds().Min, draw.Src)
	}

	if err := png.Encode(w, canvas); err != nil {
		return fmt.Errorf("failed to encode marginals: %w", err)
	}
	return nil
}
