package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/envelope"
	"github.com/vjranagit/empe/pkg/models"
	"github.com/vjranagit/empe/pkg/oac"
	"github.com/vjranagit/empe/pkg/plotdata"
	"github.com/vjranagit/empe/pkg/render"
	"github.com/vjranagit/empe/pkg/sampleio"
	"github.com/vjranagit/empe/pkg/types"
)

var (
	lcFilters filterFlags
	lcModel   string
	lcBands   []string
	lcTMin    float64
	lcTMax    float64
	lcDraws   int
	lcPoints  int
	lcLow     float64
	lcHigh    float64
	lcSeed    uint64
	lcWorkers int
	lcFixed   map[string]string
	lcData    string
	lcFiles   []string
	lcTitle   string
	lcOut     string
)

// lcCmd synthesizes lightcurve envelopes from a posterior
var lcCmd = &cobra.Command{
	Use:   "lc <samples>...",
	Short: "Plot lightcurve envelopes drawn from the posterior",
	Long: `Draws parameter vectors uniformly between weighted quantiles of each free
parameter, evaluates the model in every band and plots the per-time minimum
and maximum apparent magnitude, optionally with observed photometry.

Either one sample file is shared by every band, or one sample file is given
per band, in the order of --bands.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLC,
}

func init() {
	lcFilters.register(lcCmd)
	f := lcCmd.Flags()
	f.StringVarP(&lcModel, "model", "m", models.PowerLawName, "Emission model")
	f.StringSliceVarP(&lcBands, "bands", "b", oac.DefaultBands, "Bands to plot")
	f.Float64Var(&lcTMin, "tmin", 0.5, "First time of the grid in days")
	f.Float64Var(&lcTMax, "tmax", 20, "Last time of the grid in days")
	f.IntVar(&lcDraws, "draws", 0, "Parameter draws per band (default from config)")
	f.IntVar(&lcPoints, "points", 0, "Grid points (default from config)")
	f.Float64Var(&lcLow, "low", 0, "Lower quantile of the draw range (default from config)")
	f.Float64Var(&lcHigh, "high", 0, "Upper quantile of the draw range (default from config)")
	f.Uint64Var(&lcSeed, "seed", 0, "Random seed (default from config)")
	f.IntVar(&lcWorkers, "workers", 0, "Concurrent model evaluations (default from config)")
	f.StringToStringVar(&lcFixed, "fixed", nil, "Fixed parameter values, name=value")
	f.StringVar(&lcData, "data", "", "Directory of observed <band>.txt lightcurves")
	f.StringSliceVar(&lcFiles, "data-file", nil, "Observed lightcurve file per band, in the order of --bands (overrides --data)")
	f.StringVar(&lcTitle, "title", "", "Plot title")
	f.StringVarP(&lcOut, "out", "o", "lc.png", "Output PNG")
}

func runLC(cmd *cobra.Command, args []string) error {
	model, err := models.NewRegistry().New(lcModel)
	if err != nil {
		return err
	}
	fixed, err := parseFloatMap(lcFixed)
	if err != nil {
		return err
	}

	if len(args) != 1 && len(args) != len(lcBands) {
		return fmt.Errorf("%d sample files for %d bands: give one file or one per band", len(args), len(lcBands))
	}
	if len(lcFiles) > 0 && len(lcFiles) != len(lcBands) {
		return fmt.Errorf("%d data files for %d bands", len(lcFiles), len(lcBands))
	}

	// a single file is weighed once and shared by every band
	weighed := make(map[string]types.WeightedSampleSet, len(args))
	panels := make([]envelope.Panel, len(lcBands))
	for i, b := range lcBands {
		path := args[0]
		if len(args) > 1 {
			path = args[i]
		}
		ws, ok := weighed[path]
		if !ok {
			in, err := lcFilters.input(cmd, path)
			if err != nil {
				return err
			}
			var sum plotdata.Summary
			if ws, sum, err = plotdata.Weigh(in); err != nil {
				return fmt.Errorf("failed to weigh %s: %w", path, err)
			}
			logger.Info("Weighed samples",
				zap.String("file", path),
				zap.Int("kept", sum.Kept),
				zap.Float64("ess", sum.ESS))
			weighed[path] = ws
		}
		panels[i] = envelope.Panel{Band: b, Samples: ws}
	}

	defaults := cfg.ToEnvelopeConfig()
	seed := cfg.Envelope.Seed
	if cmd.Flags().Changed("seed") {
		seed = lcSeed
	}
	low, high := defaults.Low, defaults.High
	if cmd.Flags().Changed("low") {
		low = lcLow
	}
	if cmd.Flags().Changed("high") {
		high = lcHigh
	}
	req := defaults.Apply(types.EnvelopeRequest{
		Model:   lcModel,
		TMin:    lcTMin,
		TMax:    lcTMax,
		Draws:   lcDraws,
		Points:  lcPoints,
		Low:     low,
		High:    high,
		Seed:    seed,
		Workers: lcWorkers,
		Fixed:   fixed,
	})

	envs, err := envelope.Panels(cmd.Context(), req, panels, model)
	if err != nil {
		return err
	}
	for _, env := range envs {
		logger.Debug("Synthesized envelope",
			zap.String("band", env.Band),
			zap.Int("draws", env.Draws),
			zap.Int("points", len(env.Times)))
	}

	data, err := lcObservations()
	if err != nil {
		return err
	}

	return writePNG(lcOut, func(f *os.File) error {
		return render.Envelope(f, envs, data, lcTitle, render.DefaultSize)
	})
}

// lcObservations reads the per-band data files, or the band files of the
// data directory, or nothing
func lcObservations() (map[string]types.LightCurve, error) {
	if len(lcFiles) > 0 {
		data := make(map[string]types.LightCurve, len(lcFiles))
		for i, path := range lcFiles {
			lc, err := sampleio.ReadLightCurveFile(path)
			if err != nil {
				return nil, err
			}
			data[lcBands[i]] = lc
		}
		return data, nil
	}
	if lcData != "" {
		return sampleio.ReadBands(lcData, lcBands)
	}
	return nil, nil
}

// parseFloatMap converts name=value flags into float values
func parseFloatMap(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		out[name] = f
	}
	return out, nil
}

// writePNG creates path and hands it to draw
func writePNG(path string, draw func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := draw(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("Wrote plot", zap.String("path", path))
	return nil
}
