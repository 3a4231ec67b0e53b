package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/plotdata"
	"github.com/vjranagit/empe/pkg/render"
	"github.com/vjranagit/empe/pkg/sampleio"
)

var (
	cornerFilters filterFlags
	cornerParams  []string
	cornerNames   []string
	cornerTruths  string
	cornerCombine bool
	cornerBins    int
	cornerSize    int
	cornerOut     string
)

// cornerCmd draws the weighted marginals of one or more runs
var cornerCmd = &cobra.Command{
	Use:   "corner <samples>...",
	Short: "Plot weighted marginal densities of selected parameters",
	Long: `Filters and reweights each sample file, selects the requested parameter
columns and draws one weighted histogram per parameter. A single run is drawn
as a probability density; several runs are overlaid as raw weights, with an
optional pooled density.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCorner,
}

func init() {
	cornerFilters.register(cornerCmd)
	cornerCmd.Flags().StringSliceVarP(&cornerParams, "params", "p", nil, "Parameters to plot (required)")
	cornerCmd.Flags().StringSliceVar(&cornerNames, "name", nil, "Legend name of each sample file")
	cornerCmd.Flags().StringVar(&cornerTruths, "truths", "", "File of true parameter values, one per selected parameter")
	cornerCmd.Flags().BoolVar(&cornerCombine, "combine", false, "Add a pooled view of all runs")
	cornerCmd.Flags().IntVar(&cornerBins, "bins", render.DefaultBins, "Histogram bins per parameter")
	cornerCmd.Flags().IntVar(&cornerSize, "size", 480, "Panel size in pixels")
	cornerCmd.Flags().StringVarP(&cornerOut, "out", "o", "corner.png", "Output PNG")
	_ = cornerCmd.MarkFlagRequired("params")
}

func runCorner(cmd *cobra.Command, args []string) error {
	if len(cornerNames) > 0 && len(cornerNames) != len(args) {
		return fmt.Errorf("%d names for %d sample files", len(cornerNames), len(args))
	}

	inputs := make([]plotdata.Input, 0, len(args))
	for i, path := range args {
		in, err := cornerFilters.input(cmd, path)
		if err != nil {
			return err
		}
		if len(cornerNames) > 0 {
			in.Name = cornerNames[i]
		}
		inputs = append(inputs, in)
	}

	opts := plotdata.Options{Params: cornerParams, Combine: cornerCombine}
	if cornerTruths != "" {
		truths, err := sampleio.ReadValuesFile(cornerTruths)
		if err != nil {
			return err
		}
		opts.Truths = truths
	}

	res, err := plotdata.Prepare(inputs, opts)
	if err != nil {
		return err
	}
	for _, v := range res.Views {
		if v.Empty {
			logger.Warn("No samples survive the filters", zap.String("run", v.Name))
			continue
		}
		logger.Info("Prepared view",
			zap.String("run", v.Name),
			zap.String("color", v.Color),
			zap.Int("records", v.Summary.Records),
			zap.Int("kept", v.Summary.Kept),
			zap.Float64("median_weight", v.Summary.MedianWeight),
			zap.Float64("ess", v.Summary.ESS))
	}

	size := render.Size{Width: cornerSize, Height: cornerSize}
	return writePNG(cornerOut, func(f *os.File) error {
		return render.Marginals(f, res, cornerBins, size)
	})
}
