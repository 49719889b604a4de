// Package config loads the service settings from flags, the environment,
// an optional .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/encoding"
)

// Keys understood by Load. Environment variables use the CARPRICE_ prefix
// with dots replaced by underscores, e.g. CARPRICE_MODEL_PATH.
const (
	KeyServerAddress   = "server.address"
	KeyAllowedOrigins  = "server.allowed_origins"
	KeyShutdownTimeout = "server.shutdown_timeout"
	KeyModelPath       = "model.path"
	KeyEncoderMode     = "encoder.mode"
	KeyVocabularyPath  = "encoder.vocabulary_path"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
)

const envPrefix = "CARPRICE"

// Settings holds the resolved configuration.
type Settings struct {
	ServerAddress   string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	ModelPath       string
	EncoderMode     string
	VocabularyPath  string
	LogLevel        string
	LogFormat       string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerAddress, ":5000")
	v.SetDefault(KeyAllowedOrigins, []string{"*", "http://localhost:3000"})
	v.SetDefault(KeyShutdownTimeout, 10*time.Second)
	v.SetDefault(KeyModelPath, "random_forest_model.json")
	v.SetDefault(KeyEncoderMode, encoding.ModePerRequest)
	v.SetDefault(KeyVocabularyPath, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
}

// Load resolves the settings. Precedence, highest first: flags bound on v,
// environment (including the legacy SERVER_ADDRESS), .env file, config file,
// defaults. List values from the environment may be comma or space separated.
func Load(v *viper.Viper, configFile string) (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// the unprefixed name is kept for existing deployments; the prefixed one wins
	if err := v.BindEnv(KeyServerAddress, envPrefix+"_SERVER_ADDRESS", "SERVER_ADDRESS"); err != nil {
		return Settings{}, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	s := Settings{
		ServerAddress:   v.GetString(KeyServerAddress),
		AllowedOrigins:  splitList(v.GetStringSlice(KeyAllowedOrigins)),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		ModelPath:       v.GetString(KeyModelPath),
		EncoderMode:     v.GetString(KeyEncoderMode),
		VocabularyPath:  v.GetString(KeyVocabularyPath),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

// splitList also accepts comma separated entries, the usual form of a list
// in an environment variable.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings for values the service cannot start with.
func (s Settings) Validate() error {
	if s.ServerAddress == "" {
		return errors.New("server address is required")
	}
	if s.ModelPath == "" {
		return errors.New("model path is required")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", s.ShutdownTimeout)
	}
	switch s.EncoderMode {
	case encoding.ModePerRequest:
	case encoding.ModeVocabulary:
		if s.VocabularyPath == "" {
			return errors.New("encoder mode vocabulary requires encoder.vocabulary_path")
		}
	default:
		return fmt.Errorf("unknown encoder mode %q", s.EncoderMode)
	}
	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	if s.LogFormat != "json" && s.LogFormat != "console" {
		return fmt.Errorf("unknown log format %q", s.LogFormat)
	}
	return nil
}

// SetupLogging configures the global zerolog logger.
func (s Settings) SetupLogging() {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if s.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
