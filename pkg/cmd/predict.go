package cmd

import (
	"fmt"
	"time"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/client"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
	"github.com/spf13/cobra"
)

var (
	predictURL     string
	predictTimeout time.Duration
	predictCar     client.Car

	PredictCmd = &cobra.Command{
		Use:   PredictCmdName,
		Short: PredictCmdShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := client.New(predictURL, predictTimeout).Predict(cmd.Context(), predictCar)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", price)
			return nil
		},
	}

	ModelCmd = &cobra.Command{
		Use:   ModelCmdName,
		Short: ModelCmdShort,
	}

	ModelInfoCmd = &cobra.Command{
		Use:   ModelInfoCmdName + " PATH",
		Short: ModelInfoCmdShort,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := model.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "features: %d\n", f.NFeatures)
			if len(f.FeatureNames) > 0 {
				fmt.Fprintf(out, "feature names: %v\n", f.FeatureNames)
			}
			fmt.Fprintf(out, "trees: %d\n", len(f.Trees))
			fmt.Fprintf(out, "nodes: %d\n", f.Nodes())
			return nil
		},
	}
)

func init() {
	flags := PredictCmd.Flags()
	flags.StringVar(&predictURL, "url", "http://localhost:5000", "base URL of the prediction server")
	flags.DurationVar(&predictTimeout, "timeout", 5*time.Second, "request timeout")
	flags.StringVar(&predictCar.Year, "year", "", "model year")
	flags.StringVar(&predictCar.Manufacturer, "manufacturer", "", "manufacturer, e.g. toyota")
	flags.StringVar(&predictCar.Model, "model", "", "model, e.g. corolla")
	flags.StringVar(&predictCar.Condition, "condition", "", "condition, e.g. good")
	flags.StringVar(&predictCar.Odometer, "odometer", "", "odometer reading")
	flags.StringVar(&predictCar.Transmission, "transmission", "", "transmission, e.g. automatic")
	flags.StringVar(&predictCar.PaintColor, "paint-color", "", "paint color")
	flags.StringVar(&predictCar.State, "state", "", "state, e.g. ca")
	for _, name := range []string{"year", "manufacturer", "model", "condition", "odometer", "transmission", "paint-color", "state"} {
		PredictCmd.MarkFlagRequired(name)
	}

	ModelCmd.AddCommand(ModelInfoCmd)
	RootCmd.AddCommand(PredictCmd, ModelCmd)
}
