package main

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/plotdata"
	"github.com/vjranagit/empe/pkg/posterior"
	"github.com/vjranagit/empe/pkg/sampleio"
	"github.com/vjranagit/empe/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	weightsFilters   filterFlags
	weightsQuantiles []float64
	weightsOut       string
)

// weightsCmd reports the filtered weights and credible intervals of a run
var weightsCmd = &cobra.Command{
	Use:   "weights <samples>",
	Short: "Summarize importance weights and parameter quantiles",
	Args:  cobra.ExactArgs(1),
	RunE:  runWeights,
}

func init() {
	weightsFilters.register(weightsCmd)
	weightsCmd.Flags().Float64SliceVarP(&weightsQuantiles, "quantile", "q", []float64{0.05, 0.5, 0.95}, "Quantiles to report per parameter")
	weightsCmd.Flags().StringVarP(&weightsOut, "out", "o", "", "Write the surviving samples with a weight column to this file")
}

type weightsReport struct {
	Records      int                  `json:"records"`
	Kept         int                  `json:"kept"`
	MedianWeight float64              `json:"median_weight"`
	ESS          float64              `json:"ess"`
	Quantiles    []float64            `json:"quantiles,omitempty"`
	Params       map[string][]float64 `json:"params,omitempty"`
}

func runWeights(cmd *cobra.Command, args []string) error {
	in, err := weightsFilters.input(cmd, args[0])
	if err != nil {
		return err
	}
	weighted, sum, err := plotdata.Weigh(in)
	if err != nil {
		return fmt.Errorf("failed to weigh %s: %w", args[0], err)
	}
	logger.Info("Weighed samples",
		zap.String("file", args[0]),
		zap.String("filter", in.FilterMode().Kind.String()),
		zap.Int("records", sum.Records),
		zap.Int("kept", sum.Kept),
		zap.Float64("ess", sum.ESS))

	report := weightsReport{
		Records:      sum.Records,
		Kept:         sum.Kept,
		MedianWeight: sum.MedianWeight,
		ESS:          sum.ESS,
	}
	if sum.Kept > 0 {
		report.Quantiles = weightsQuantiles
		report.Params = make(map[string][]float64)
		for _, name := range weighted.Header.Names() {
			col, _ := weighted.Column(name)
			q, err := posterior.Quantile(col, weightsQuantiles, weighted.Weights)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", name, err)
			}
			report.Params[name] = q
		}
	}

	if weightsOut != "" {
		if err := writeWeighted(weightsOut, weighted); err != nil {
			return err
		}
		logger.Info("Wrote weighted samples", zap.String("path", weightsOut))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// writeWeighted stores the kept samples with their normalized weight as an
// extra trailing parameter column
func writeWeighted(path string, ws types.WeightedSampleSet) error {
	header, err := types.NewHeader(append(ws.Header.Names(), "weight"))
	if err != nil {
		return err
	}
	records := make([]types.Record, ws.Len())
	for i, r := range ws.Records {
		r.Params = append(append([]float64(nil), r.Params...), ws.Weights[i])
		records[i] = r
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := sampleio.WriteSamples(f, types.SampleSet{Header: header, Records: records}); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func readSamples(path string) (types.SampleSet, error) {
	set, err := sampleio.ReadSampleFile(path)
	if err != nil {
		return types.SampleSet{}, err
	}
	logger.Debug("Loaded samples",
		zap.String("file", path),
		zap.Int("records", set.Len()),
		zap.Strings("params", set.Header.Names()))
	return set, nil
}
