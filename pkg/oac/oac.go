// Package oac extracts per-band lightcurves from Open Astronomy Catalog
// photometry files.
package oac

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/vjranagit/empe/pkg/sampleio"
	"github.com/vjranagit/empe/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEventNotFound is returned when the file has no entry for the event
var ErrEventNotFound = errors.New("event not found")

// DefaultBands are the bands the catalog tools know about
var DefaultBands = []string{"g", "r", "i", "z", "y", "J", "H", "K"}

// Options controls which photometry is kept
type Options struct {
	// Event is the top-level key; ParseFile defaults it to the file name
	// up to the first dot
	Event string

	// T0 is subtracted from every time. When GPSTime is set T0 is a GPS
	// time and is converted to MJD first.
	T0      float64
	GPSTime bool

	Bands      []string
	Telescopes []string

	// TMax keeps points with shifted time strictly below it; zero means
	// unbounded. BandTMax tightens it per band.
	TMax     float64
	BandTMax map[string]float64

	// MaxPoints caps each band by sampling with replacement; zero keeps all
	MaxPoints int
	Seed      uint64
}

type event struct {
	Photometry []map[string]any `json:"photometry"`
}

// Parse reads an OAC JSON document and returns one lightcurve per requested
// band, in catalog order unless subsampled.
func Parse(r io.Reader, opts Options) (map[string]types.LightCurve, error) {
	var doc map[string]event
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	ev, ok := doc[opts.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEventNotFound, opts.Event)
	}

	t0 := opts.T0
	if opts.GPSTime {
		t0 = GPSToMJD(t0)
	}

	wanted := make(map[string]bool, len(opts.Bands))
	out := make(map[string]types.LightCurve, len(opts.Bands))
	for _, b := range opts.Bands {
		wanted[b] = true
		out[b] = types.LightCurve{}
	}
	var telescopes map[string]bool
	if len(opts.Telescopes) > 0 {
		telescopes = make(map[string]bool, len(opts.Telescopes))
		for _, t := range opts.Telescopes {
			telescopes[t] = true
		}
	}

	for i, entry := range ev.Photometry {
		band, _ := entry["band"].(string)
		if !wanted[band] || !keep(entry, telescopes) {
			continue
		}
		t, err := number(entry["time"])
		if err != nil {
			return nil, fmt.Errorf("photometry entry %d: time: %w", i, err)
		}
		mag, err := number(entry["magnitude"])
		if err != nil {
			return nil, fmt.Errorf("photometry entry %d: magnitude: %w", i, err)
		}
		emag, err := number(entry["e_magnitude"])
		if err != nil {
			return nil, fmt.Errorf("photometry entry %d: e_magnitude: %w", i, err)
		}

		t -= t0
		if t < opts.tmax(band) {
			out[band] = append(out[band], types.LightCurvePoint{Time: t, Magnitude: mag, MagnitudeError: emag})
		}
	}

	if opts.MaxPoints > 0 {
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		for _, b := range opts.Bands {
			out[b] = subsample(out[b], opts.MaxPoints, rng)
		}
	}
	return out, nil
}

// ParseFile parses path, taking the event name from the file name when
// opts.Event is empty
func ParseFile(path string, opts Options) (map[string]types.LightCurve, error) {
	if opts.Event == "" {
		opts.Event = EventName(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f, opts)
}

// EventName is the file name of path up to its first dot
func EventName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// Save writes every band to <dir>/<band>.txt
func Save(dir string, data map[string]types.LightCurve) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for band, lc := range data {
		if err := sampleio.WriteLightCurveFile(filepath.Join(dir, band+".txt"), lc); err != nil {
			return err
		}
	}
	return nil
}

func (o Options) tmax(band string) float64 {
	limit := o.TMax
	if limit == 0 {
		limit = math.Inf(1)
	}
	if bt, ok := o.BandTMax[band]; ok && bt < limit {
		limit = bt
	}
	return limit
}

// keep applies the catalog quality cuts: an error bar, a telescope and a
// source must be present, the entry must be a real observation, and the
// telescope must be allowed.
func keep(entry map[string]any, telescopes map[string]bool) bool {
	for _, k := range []string{"e_magnitude", "telescope", "source"} {
		if _, ok := entry[k]; !ok {
			return false
		}
	}
	if _, ok := entry["realization"]; ok {
		return false
	}
	if telescopes != nil {
		tel, _ := entry["telescope"].(string)
		return telescopes[tel]
	}
	return true
}

// number accepts the catalog's quoted numbers as well as bare ones
func number(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case nil:
		return 0, errors.New("missing")
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

// subsample draws n points with replacement and orders them by time
func subsample(lc types.LightCurve, n int, rng *rand.Rand) types.LightCurve {
	if len(lc) <= n {
		return lc
	}
	out := make(types.LightCurve, n)
	for i := range out {
		out[i] = lc[rng.IntN(len(lc))]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
