package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/observe"
)

const (
	serviceName    = "ble-audio-recorder"
	serviceVersion = "1.0.0"
)

type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "recorder",
		Short: "Record and enhance audio from a BLE microphone",
		Long: `Record PCM audio streamed by a BLE microphone through a UDP bridge, a
replayed WAV file or the local microphone, estimate the real sample rate and
run the configured enhancement chain.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRecordCommand(opts),
		newEnhanceCommand(opts),
		newAnalyzeCommand(opts),
		newRecordingsCommand(opts),
	)

	return cmd
}

// load reads the configuration, applies command-line overrides and builds
// the logger.
func (o *rootOptions) load(overrides ...func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, nil, err
		}
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	for _, apply := range overrides {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("config_path", o.ConfigPath),
		slog.String("source", cfg.Source.Kind),
		slog.String("rate_policy", cfg.Rate.Policy),
		slog.Int("stages", len(cfg.Chain.Stages)),
		slog.String("log_level", cfg.Logging.Level),
	)
	return cfg, logger, nil
}

// initTracing installs the trace provider when tracing is enabled. The
// returned function is always safe to call.
func initTracing(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: serviceVersion,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing", slog.String("error", err.Error()))
		return func() {}
	}
	logger.Debug("Tracing initialized", slog.String("service_name", cfg.ServiceName))

	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down tracing", slog.String("error", err.Error()))
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Logs go to stderr by default so the console summary on stdout stays clean.
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
