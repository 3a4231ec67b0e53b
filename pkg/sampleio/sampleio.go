package sampleio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vjranagit/empe/pkg/types"
)

var (
	// ErrMalformedHeader is returned when a sample file has no usable header
	ErrMalformedHeader = errors.New("malformed header")
	// ErrMalformedRow is returned when a row is not numeric or has the wrong width
	ErrMalformedRow = errors.New("malformed row")
)

// fixedColumns precede the parameter columns of every sample file
var fixedColumns = []string{"lnL", "p", "ps"}

// ReadSamples parses a whitespace-delimited sample file. The first non-blank
// line names the columns, optionally after a leading "#" token. The first
// three columns are lnL, prior and proposal.
func ReadSamples(r io.Reader) (types.SampleSet, error) {
	sc := newScanner(r)

	var header types.Header
	haveHeader := false
	var records []types.Record
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if !haveHeader {
			if fields[0] == "#" {
				fields = fields[1:]
			} else {
				fields[0] = strings.TrimPrefix(fields[0], "#")
			}
			if len(fields) < len(fixedColumns) {
				return types.SampleSet{}, fmt.Errorf("%w: line %d: need at least %d columns, got %d",
					ErrMalformedHeader, sc.line, len(fixedColumns), len(fields))
			}
			h, err := types.NewHeader(fields[len(fixedColumns):])
			if err != nil {
				return types.SampleSet{}, fmt.Errorf("%w: line %d: %v", ErrMalformedHeader, sc.line, err)
			}
			header = h
			haveHeader = true
			continue
		}

		want := len(fixedColumns) + header.Len()
		if len(fields) != want {
			return types.SampleSet{}, fmt.Errorf("%w: line %d: %d columns, header has %d",
				ErrMalformedRow, sc.line, len(fields), want)
		}
		vals, err := parseFloats(fields)
		if err != nil {
			return types.SampleSet{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, sc.line, err)
		}
		records = append(records, types.Record{
			LogLikelihood: vals[0],
			Prior:         vals[1],
			Proposal:      vals[2],
			Params:        vals[3:],
		})
	}
	if err := sc.Err(); err != nil {
		return types.SampleSet{}, fmt.Errorf("failed to read samples: %w", err)
	}
	if !haveHeader {
		return types.SampleSet{}, fmt.Errorf("%w: empty input", ErrMalformedHeader)
	}
	return types.NewSampleSet(header, records)
}

// ReadSampleFile opens and parses a sample file
func ReadSampleFile(path string) (types.SampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.SampleSet{}, fmt.Errorf("failed to open sample file: %w", err)
	}
	defer f.Close()

	set, err := ReadSamples(f)
	if err != nil {
		return types.SampleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// WriteSamples writes set in the format ReadSamples accepts
func WriteSamples(w io.Writer, set types.SampleSet) error {
	bw := bufio.NewWriter(w)
	cols := append([]string{"#"}, fixedColumns...)
	cols = append(cols, set.Header.Names()...)
	fmt.Fprintln(bw, strings.Join(cols, " "))

	row := make([]float64, 0, len(fixedColumns)+set.Header.Len())
	for _, r := range set.Records {
		row = append(row[:0], r.LogLikelihood, r.Prior, r.Proposal)
		row = append(row, r.Params...)
		writeRow(bw, row)
	}
	return bw.Flush()
}

// ReadLightCurve parses rows of [time, time error, magnitude, magnitude error]
func ReadLightCurve(r io.Reader) (types.LightCurve, error) {
	sc := newScanner(r)
	var lc types.LightCurve
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: line %d: want 4 columns, got %d", ErrMalformedRow, sc.line, len(fields))
		}
		v, err := parseFloats(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, sc.line, err)
		}
		lc = append(lc, types.LightCurvePoint{Time: v[0], TimeError: v[1], Magnitude: v[2], MagnitudeError: v[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lightcurve: %w", err)
	}
	return lc, nil
}

// ReadLightCurveFile opens and parses a lightcurve file
func ReadLightCurveFile(path string) (types.LightCurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lightcurve file: %w", err)
	}
	defer f.Close()

	lc, err := ReadLightCurve(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lc, nil
}

// ReadBands loads <dir>/<band>.txt for every band
func ReadBands(dir string, bands []string) (map[string]types.LightCurve, error) {
	out := make(map[string]types.LightCurve, len(bands))
	for _, b := range bands {
		lc, err := ReadLightCurveFile(filepath.Join(dir, b+".txt"))
		if err != nil {
			return nil, err
		}
		out[b] = lc
	}
	return out, nil
}

// WriteLightCurve writes one point per line
func WriteLightCurve(w io.Writer, lc types.LightCurve) error {
	bw := bufio.NewWriter(w)
	for _, p := range lc {
		writeRow(bw, []float64{p.Time, p.TimeError, p.Magnitude, p.MagnitudeError})
	}
	return bw.Flush()
}

// WriteLightCurveFile creates path and writes lc to it
func WriteLightCurveFile(path string, lc types.LightCurve) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create lightcurve file: %w", err)
	}
	if err := WriteLightCurve(f, lc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ReadValues parses every whitespace-separated float in r, across lines.
// Used for truth files and model parameter files.
func ReadValues(r io.Reader) ([]float64, error) {
	sc := newScanner(r)
	var out []float64
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		v, err := parseFloats(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, sc.line, err)
		}
		out = append(out, v...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read values: %w", err)
	}
	return out, nil
}

// ReadValuesFile opens and parses a values file
func ReadValuesFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open values file: %w", err)
	}
	defer f.Close()

	v, err := ReadValues(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func writeRow(w *bufio.Writer, row []float64) {
	for i, v := range row {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	w.WriteByte('\n')
}

// lineScanner tracks 1-based line numbers for error messages
type lineScanner struct {
	*bufio.Scanner
	line int
}

func newScanner(r io.Reader) *lineScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &lineScanner{Scanner: sc}
}

func (s *lineScanner) Scan() bool {
	ok := s.Scanner.Scan()
	if ok {
		s.line++
	}
	return ok
}
