package models

import (
	"fmt"
	"math"

	"github.com/vjranagit/empe/pkg/types"
)

// PowerLawName is the registry identifier of PowerLaw
const PowerLawName = "powerlaw"

// bandOffsets shifts the reference magnitude per photometric band
var bandOffsets = map[string]float64{
	"g": 0.0,
	"r": 0.3,
	"i": 0.5,
	"z": 0.7,
	"y": 0.8,
	"J": 1.0,
	"H": 1.2,
	"K": 1.4,
}

// PowerLaw is an analytic reference model whose absolute magnitude fades
// linearly in log time: M(t) = m0 + slope*log10(t) + offset(band).
type PowerLaw struct {
	m0    float64
	slope float64
	tmin  float64
	tmax  float64
	set   bool
}

// NewPowerLaw returns an unconfigured PowerLaw
func NewPowerLaw() *PowerLaw {
	return &PowerLaw{}
}

// ParamNames implements types.Model
func (m *PowerLaw) ParamNames() []string {
	return []string{"m0", "slope"}
}

// SetParams implements types.Model
func (m *PowerLaw) SetParams(params map[string]float64, tmin, tmax float64) error {
	m0, ok := params["m0"]
	if !ok {
		return fmt.Errorf("powerlaw: missing parameter m0")
	}
	slope, ok := params["slope"]
	if !ok {
		return fmt.Errorf("powerlaw: missing parameter slope")
	}
	m.m0, m.slope, m.tmin, m.tmax, m.set = m0, slope, tmin, tmax, true
	return nil
}

// Evaluate implements types.Model. The auxiliary series is the per-point
// magnitude uncertainty, zero for this noiseless model.
func (m *PowerLaw) Evaluate(t []float64, band string) ([]float64, []float64, error) {
	if !m.set {
		return nil, nil, fmt.Errorf("powerlaw: evaluate before SetParams")
	}
	offset, ok := bandOffsets[band]
	if !ok {
		return nil, nil, fmt.Errorf("powerlaw: unsupported band %q", band)
	}
	mag := make([]float64, len(t))
	for i, ti := range t {
		if ti <= 0 {
			return nil, nil, fmt.Errorf("powerlaw: non-positive time %v", ti)
		}
		mag[i] = m.m0 + m.slope*math.Log10(ti) + offset
	}
	return mag, make([]float64, len(t)), nil
}

// Clone implements types.Cloner
func (m *PowerLaw) Clone() types.Model {
	c := *m
	return &c
}
