package types

import (
	"fmt"
	"time"
)

// Header is the ordered list of parameter names of a sample set
type Header struct {
	names []string
	index map[string]int
}

// NewHeader builds a header and its name to column mapping
func NewHeader(names []string) (Header, error) {
	h := Header{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return Header{}, fmt.Errorf("empty parameter name at column %d", i)
		}
		if _, dup := h.index[name]; dup {
			return Header{}, fmt.Errorf("duplicate parameter name %q", name)
		}
		h.index[name] = i
	}
	return h, nil
}

// MustHeader is NewHeader for literals known to be valid
func MustHeader(names ...string) Header {
	h, err := NewHeader(names)
	if err != nil {
		panic(err)
	}
	return h
}

// Names returns a copy of the parameter names in column order
func (h Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Len returns the number of parameters
func (h Header) Len() int {
	return len(h.names)
}

// Index returns the parameter column of name
func (h Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

// Has reports whether name is a sampled parameter
func (h Header) Has(name string) bool {
	_, ok := h.index[name]
	return ok
}

// Record is one posterior sample
type Record struct {
	LogLikelihood float64
	Prior         float64
	Proposal      float64
	Params        []float64
}

// SampleSet is an ordered set of records sharing one header
type SampleSet struct {
	Header  Header
	Records []Record
}

// NewSampleSet validates that every record matches the header width
func NewSampleSet(header Header, records []Record) (SampleSet, error) {
	for i, r := range records {
		if len(r.Params) != header.Len() {
			return SampleSet{}, fmt.Errorf("record %d has %d params, header has %d", i, len(r.Params), header.Len())
		}
	}
	return SampleSet{Header: header, Records: records}, nil
}

// Len returns the number of records
func (s SampleSet) Len() int {
	return len(s.Records)
}

// LogLikelihoods returns column 0
func (s SampleSet) LogLikelihoods() []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.LogLikelihood
	}
	return out
}

// Column returns the values of a named parameter
func (s SampleSet) Column(name string) ([]float64, bool) {
	col, ok := s.Header.Index(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Params[col]
	}
	return out, true
}

// Subset returns a new set holding the records at indices, in that order.
// Records are shared, not copied; sample sets are never mutated in place.
func (s SampleSet) Subset(indices []int) SampleSet {
	records := make([]Record, len(indices))
	for i, idx := range indices {
		records[i] = s.Records[idx]
	}
	return SampleSet{Header: s.Header, Records: records}
}

// WeightedSampleSet pairs a sample set with index-aligned importance weights
type WeightedSampleSet struct {
	SampleSet
	Weights []float64
}

// QuantileSpec bounds a credible interval of one parameter
type QuantileSpec struct {
	Param string
	Low   float64
	High  float64
}

// Validate checks 0 <= Low <= High <= 1
func (q QuantileSpec) Validate() error {
	if !(q.Low >= 0 && q.High <= 1 && q.Low <= q.High) {
		return fmt.Errorf("quantile bounds for %q must satisfy 0 <= low <= high <= 1, got [%g, %g]", q.Param, q.Low, q.High)
	}
	return nil
}

// EnvelopeRequest describes one lightcurve envelope to synthesize
type EnvelopeRequest struct {
	Model   string
	TMin    float64
	TMax    float64
	Band    string
	Draws   int
	Points  int
	Fixed   map[string]float64
	Low     float64
	High    float64
	Seed    uint64
	Workers int
}

// Envelope is the per-time min/max apparent magnitude across model draws
type Envelope struct {
	Model string    `json:"model"`
	Band  string    `json:"band"`
	Draws int       `json:"draws"`
	Times []float64 `json:"times"`
	Min   []float64 `json:"min"`
	Max   []float64 `json:"max"`
}

// RunMeta describes an archived sample set
type RunMeta struct {
	ID      string            `json:"id"`
	Event   string            `json:"event,omitempty"`
	Model   string            `json:"model,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Params  []string          `json:"params"`
	Records int               `json:"records"`
	Created time.Time         `json:"created"`
}

// LightCurvePoint is one photometric observation
type LightCurvePoint struct {
	Time           float64
	TimeError      float64
	Magnitude      float64
	MagnitudeError float64
}

// LightCurve is an observed or simulated lightcurve in one band
type LightCurve []LightCurvePoint

// Times returns the time column
func (lc LightCurve) Times() []float64 {
	out := make([]float64, len(lc))
	for i, p := range lc {
		out[i] = p.Time
	}
	return out
}

// Magnitudes returns the magnitude column
func (lc LightCurve) Magnitudes() []float64 {
	out := make([]float64, len(lc))
	for i, p := range lc {
		out[i] = p.Magnitude
	}
	return out
}

// Model is an emission model evaluated at configured parameters
type Model interface {
	// ParamNames lists the parameters SetParams expects
	ParamNames() []string

	// SetParams configures the model for the given time bounds
	SetParams(params map[string]float64, tmin, tmax float64) error

	// Evaluate returns absolute magnitudes at t and an auxiliary series
	Evaluate(t []float64, band string) (mag []float64, aux []float64, err error)
}

// Cloner is implemented by models that can be evaluated concurrently
type Cloner interface {
	Clone() Model
}
