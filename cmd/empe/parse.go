package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/oac"
)

var (
	parseOpts  oac.Options
	parseOut   string
	parseTMax  map[string]string
	parseBands []string
)

// parseJSONCmd extracts per-band lightcurves from a catalog file
var parseJSONCmd = &cobra.Command{
	Use:   "parse-json <catalog.json>",
	Short: "Extract per-band lightcurves from an Open Astronomy Catalog file",
	Args:  cobra.ExactArgs(1),
	RunE:  runParseJSON,
}

func init() {
	f := parseJSONCmd.Flags()
	f.StringVar(&parseOpts.Event, "event", "", "Event key (default: file name up to the first dot)")
	f.Float64Var(&parseOpts.T0, "t0", 0, "Reference time subtracted from every observation")
	f.BoolVar(&parseOpts.GPSTime, "gps", false, "Interpret --t0 as a GPS time")
	f.StringSliceVarP(&parseBands, "bands", "b", oac.DefaultBands, "Bands to extract")
	f.StringSliceVar(&parseOpts.Telescopes, "telescope", nil, "Keep only these telescopes")
	f.Float64Var(&parseOpts.TMax, "tmax", 0, "Keep points earlier than this many days after t0 (0 keeps all)")
	f.StringToStringVar(&parseTMax, "band-tmax", nil, "Per-band tmax, band=days")
	f.IntVar(&parseOpts.MaxPoints, "max-points", 0, "Subsample each band to this many points (0 keeps all)")
	f.Uint64Var(&parseOpts.Seed, "seed", 1, "Subsampling seed")
	f.StringVarP(&parseOut, "out", "o", ".", "Output directory for <band>.txt files")
}

func runParseJSON(cmd *cobra.Command, args []string) error {
	bandTMax, err := parseFloatMap(parseTMax)
	if err != nil {
		return err
	}
	opts := parseOpts
	opts.Bands = parseBands
	opts.BandTMax = bandTMax

	data, err := oac.ParseFile(args[0], opts)
	if err != nil {
		return err
	}
	for _, b := range opts.Bands {
		logger.Info("Parsed band", zap.String("band", b), zap.Int("points", len(data[b])))
	}

	if err := oac.Save(parseOut, data); err != nil {
		return err
	}
	logger.Info("Wrote lightcurves", zap.String("dir", parseOut))
	return nil
}
