package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/empe/pkg/lightcurve"
	"github.com/vjranagit/empe/pkg/models"
	"github.com/vjranagit/empe/pkg/oac"
	"github.com/vjranagit/empe/pkg/render"
	"github.com/vjranagit/empe/pkg/sampleio"
	"github.com/vjranagit/empe/pkg/types"
)

var (
	curvesModel string
	curvesBands []string
	curvesTMin  float64
	curvesTMax  float64
	curvesData  string
	curvesRatio bool
	curvesOut   string
)

// lightcurvesCmd plots the model at one parameter vector
var lightcurvesCmd = &cobra.Command{
	Use:   "lightcurves <values>",
	Short: "Plot model lightcurves for a single parameter vector",
	Long: `Reads one parameter value per line, in the model's parameter order, and
plots the model in every band over observed photometry. With --ratio the
observed magnitudes are divided by the model at the observed times.`,
	Args: cobra.ExactArgs(1),
	RunE: runLightCurves,
}

func init() {
	f := lightcurvesCmd.Flags()
	f.StringVarP(&curvesModel, "model", "m", models.PowerLawName, "Emission model")
	f.StringSliceVarP(&curvesBands, "bands", "b", oac.DefaultBands, "Bands to plot")
	f.Float64Var(&curvesTMin, "tmin", 0.5, "First model time in days")
	f.Float64Var(&curvesTMax, "tmax", 20, "Last model time in days")
	f.StringVar(&curvesData, "data", "", "Directory of observed <band>.txt lightcurves")
	f.BoolVar(&curvesRatio, "ratio", false, "Plot data divided by model")
	f.StringVarP(&curvesOut, "out", "o", "lightcurves.png", "Output PNG")
}

func runLightCurves(cmd *cobra.Command, args []string) error {
	model, err := models.NewRegistry().New(curvesModel)
	if err != nil {
		return err
	}
	values, err := sampleio.ReadValuesFile(args[0])
	if err != nil {
		return err
	}
	params, err := lightcurve.Bind(model, values)
	if err != nil {
		return err
	}

	var data map[string]types.LightCurve
	if curvesData != "" {
		if data, err = sampleio.ReadBands(curvesData, curvesBands); err != nil {
			return err
		}
	}

	var curves []lightcurve.Curve
	if curvesRatio {
		if data == nil {
			return fmt.Errorf("--ratio needs --data: %w", lightcurve.ErrNoData)
		}
		curves, err = lightcurve.Ratio(model, params, data, curvesBands)
	} else {
		curves, err = lightcurve.Model(model, params, curvesBands, curvesTMin, curvesTMax)
	}
	if err != nil {
		return err
	}

	title := lightcurve.Title(curvesModel, model.ParamNames(), params)
	logger.Info("Evaluated model", zap.String("title", title), zap.Bool("ratio", curvesRatio))

	return writePNG(curvesOut, func(f *os.File) error {
		return render.LightCurves(f, curves, data, curvesRatio, title, render.DefaultSize)
	})
}
