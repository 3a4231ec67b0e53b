// Command empe post-processes weighted Monte-Carlo posterior samples of
// transient emission models: importance weights, credible intervals,
// lightcurve envelopes and marginal density plots.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/internal/config"
	"github.com/vjranagit/empe/internal/logging"
	"github.com/vjranagit/empe/pkg/plotdata"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// Set up by PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "empe",
	Short:   "Post-process weighted posterior samples of emission models",
	Version: version,
	Long: `empe turns Monte-Carlo posterior samples into:
  - importance weights and credible intervals
  - lightcurve envelopes synthesized from the posterior
  - marginal density plots of selected parameters
and archives sample sets behind an HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger, err = logging.New(cfg.Logging.Level, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	rootCmd.AddCommand(
		weightsCmd,
		cornerCmd,
		lcCmd,
		lightcurvesCmd,
		parseJSONCmd,
		archiveCmd,
		serveCmd,
	)
}

// filterFlags are the per-run sample filters shared by several commands
type filterFlags struct {
	minLnL    float64
	fraction  float64
	minWeight float64
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.minLnL, "min-lnl", 0, "Keep samples with log-likelihood above this (overrides --fraction)")
	cmd.Flags().Float64Var(&f.fraction, "fraction", -1, "Keep the top fraction of samples by likelihood (default from config)")
	cmd.Flags().Float64Var(&f.minWeight, "min-weight", -1, "Drop samples whose normalized weight is not above this (default from config)")
}

// input reads a sample file and attaches the filters, falling back to the
// plot defaults of the configuration
func (f *filterFlags) input(cmd *cobra.Command, path string) (plotdata.Input, error) {
	set, err := readSamples(path)
	if err != nil {
		return plotdata.Input{}, err
	}
	in := plotdata.Input{
		Name:      path,
		Samples:   set,
		Fraction:  cfg.Plot.Fraction,
		MinWeight: cfg.Plot.MinWeight,
	}
	if cmd.Flags().Changed("min-lnl") {
		v := f.minLnL
		in.MinLogLikelihood = &v
	}
	if f.fraction >= 0 {
		in.Fraction = f.fraction
	}
	if f.minWeight >= 0 {
		in.MinWeight = f.minWeight
	}
	return in, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
