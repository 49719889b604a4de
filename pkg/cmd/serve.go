package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/config"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/encoding"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/predict"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var RootCmd = &cobra.Command{
	Use:           RootCmdName,
	Short:         RootCmdShort,
	Long:          RootCmdLong,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {

	if err := RootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	ServeCmd.Flags().String("addr", "", "listen address (default :5000)")
	ServeCmd.Flags().String("model", "", "path to the model artifact")
	ServeCmd.Flags().String("encoder", "", "categorical encoder: per-request or vocabulary")
	ServeCmd.Flags().String("vocabulary", "", "path to the label vocabulary used by the vocabulary encoder")
	ServeCmd.Flags().String("log-level", "", "log level")

	RootCmd.AddCommand(ServeCmd)
}

var (
	ServeCmd = &cobra.Command{
		Use:   ServeCmdName,
		Short: ServeCmdShort,
		Long:  ServeCmdLong,
		RunE:  serveCmdFunc(),
	}
)

// bindServeFlags maps the serve flags onto config keys. Unset flags fall
// through to the environment and config file.
func bindServeFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		config.KeyServerAddress:  "addr",
		config.KeyModelPath:      "model",
		config.KeyEncoderMode:    "encoder",
		config.KeyVocabularyPath: "vocabulary",
		config.KeyLogLevel:       "log-level",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// newService loads the model and encoder once; both are shared by every request.
func newService(s config.Settings, m *metrics.Metrics) (*predict.Service, error) {
	forest, err := model.Load(s.ModelPath)
	if err != nil {
		return nil, err
	}
	if forest.NFeatures != dal.NumFeatures {
		return nil, fmt.Errorf("%w: model expects %d features, requests carry %d", model.ErrInvalidArtifact, forest.NFeatures, dal.NumFeatures)
	}
	log.Info().
		Str("model_path", s.ModelPath).
		Int("trees", len(forest.Trees)).
		Int("nodes", forest.Nodes()).
		Msg("model loaded")

	columns := make([]string, 0, len(dal.CategoricalIndices))
	for _, i := range dal.CategoricalIndices {
		columns = append(columns, dal.FeatureNames[i])
	}
	enc, err := encoding.New(s.EncoderMode, s.VocabularyPath, columns)
	if err != nil {
		return nil, err
	}
	if enc.Name() == encoding.ModePerRequest {
		log.Warn().Msg("categorical encoder is fit per request; codes are not stable across requests")
	}

	return predict.NewService(forest, predict.WithEncoder(enc), predict.WithMetrics(m)), nil
}

func serveCmdFunc() func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		if err := bindServeFlags(v, cmd); err != nil {
			return err
		}
		settings, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		settings.SetupLogging()

		log.Info().Msg("Started serve cmd")

		m := metrics.New()
		svc, err := newService(settings, m)
		if err != nil {
			return err
		}

		serve := server.NewHTTPServer(svc, server.Options{
			Addr:           settings.ServerAddress,
			AllowedOrigins: settings.AllowedOrigins,
			Metrics:        m,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", settings.ServerAddress).Msg("listening")
			if err := serve.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("Shutting down the server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
		defer cancel()
		return serve.Shutdown(shutdownCtx)
	}
}
