package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/capture"
	"github.com/skypro1111/ble-audio-recorder/internal/catalog"
	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/dsp"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
	"github.com/skypro1111/ble-audio-recorder/internal/pipeline"
	"github.com/skypro1111/ble-audio-recorder/internal/server"
	"github.com/skypro1111/ble-audio-recorder/internal/source"
)

type recordOptions struct {
	Duration   float64
	Source     string
	ReplayFile string
	OutputDir  string
	Live       bool
	JSON       bool
}

func newRecordCommand(root *rootOptions) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one session and write raw and enhanced WAV files",
		Example: `  recorder record --duration 10
  recorder record --source replay --replay-file capture.wav
  recorder record --config recorder.yaml --live`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("duration") {
					c.Recording.Duration = opts.Duration
				}
				if flags.Changed("source") {
					c.Source.Kind = opts.Source
				}
				if flags.Changed("replay-file") {
					c.Source.ReplayFile = opts.ReplayFile
					if !flags.Changed("source") {
						c.Source.Kind = config.SourceReplay
					}
				}
				if flags.Changed("output-dir") {
					c.Output.Directory = opts.OutputDir
				}
				if flags.Changed("live") {
					c.Recording.LivePitch = opts.Live
				}
			})
			if err != nil {
				return err
			}
			return runRecord(cmd, cfg, logger, opts)
		},
	}

	flags := cmd.Flags()
	flags.Float64VarP(&opts.Duration, "duration", "d", 0, "Recording duration in seconds")
	flags.StringVarP(&opts.Source, "source", "s", "", "Packet source (udp, replay or microphone)")
	flags.StringVar(&opts.ReplayFile, "replay-file", "", "WAV file to replay as the packet source")
	flags.StringVarP(&opts.OutputDir, "output-dir", "o", "", "Directory for the WAV files")
	flags.BoolVar(&opts.Live, "live", false, "Shift pitch while recording")
	flags.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")

	cmd.RegisterFlagCompletionFunc("source", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{config.SourceUDP, config.SourceReplay, config.SourceMicrophone}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runRecord(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, opts *recordOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer initTracing(ctx, cfg.Tracing, logger)()

	logger.Info("Recorder starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("source", cfg.Source.Kind),
		slog.Float64("duration", cfg.Recording.Duration),
		slog.String("rate_policy", cfg.Rate.Policy),
		slog.Bool("live_pitch", cfg.Recording.LivePitch),
	)

	appMetrics := metrics.NewMetrics(nil)

	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		var err error
		if cat, err = catalog.Open(cfg.Catalog.Path); err != nil {
			return err
		}
		defer cat.Close()
	}

	p, err := pipeline.New(pipeline.Options{
		Rate:          cfg.Rate.GetRatePolicy(),
		Stages:        cfg.Chain.Stages,
		ExternalPitch: cfg.Chain.ExternalPitch,
		Output:        cfg.Output,
		Catalog:       cat,
		Metrics:       appMetrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	src, streamRate, udp, err := openSource(cfg, logger, appMetrics)
	if err != nil {
		return err
	}

	captureOpts := capture.Options{
		QueueSize:  cfg.Recording.QueueSize,
		SampleHint: int(cfg.Recording.Duration * float64(streamRate)),
		Metrics:    appMetrics,
		Logger:     logger,
	}
	if cfg.Recording.LivePitch {
		factor, ok := p.PitchFactor()
		if !ok {
			logger.Warn("Live pitch requested but the chain has no pitch_shift stage, recording without it")
		} else {
			captureOpts.Live = true
			captureOpts.Streaming = dsp.StreamingConfig{
				Factor:            factor,
				Rate:              streamRate,
				BlockSize:         cfg.Recording.BlockSize,
				WarmupPassthrough: cfg.Recording.WarmupPassthrough,
				Logger:            logger,
			}
		}
	}
	recorder := capture.NewRecorder(captureOpts)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.HTTPServerOptions{
			Config:   cfg,
			Recorder: recorder,
			UDP:      udp,
			Catalog:  cat,
			Metrics:  appMetrics,
		})
		if err := httpServer.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if httpServer != nil {
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Stop(shutdownCtx)
		})
	}

	var result *pipeline.Result
	g.Go(func() error {
		defer close(done)

		rec, err := recorder.Record(gctx, src, cfg.Recording.GetDuration())
		if err != nil {
			return err
		}
		printSessionStats(cmd.OutOrStdout(), rec.Stats, opts.JSON)

		// An interrupted recording is still processed.
		result, err = p.Run(context.WithoutCancel(gctx), rec)
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Recording failed", slog.String("error", err.Error()))
		return err
	}

	return printResult(cmd.OutOrStdout(), result, opts.JSON)
}

// openSource builds the configured packet source and returns the rate its
// samples are nominally produced at. The UDP server is also returned for the
// HTTP API.
func openSource(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (source.Source, int, *server.UDPServer, error) {
	switch cfg.Source.Kind {
	case config.SourceUDP:
		udp := server.NewUDPServer(&cfg.Source, logger, m)
		return udp, cfg.Rate.Nominal, udp, nil

	case config.SourceReplay:
		samples, rate, err := audio.ReadWAVFile(cfg.Source.ReplayFile)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("replay source: %w", err)
		}
		replay, err := source.NewReplay(samples, rate, cfg.Source.PacketBytes, cfg.Source.GetPacketInterval(rate), logger)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("replay source: %w", err)
		}
		logger.Info("Replaying file",
			slog.String("path", cfg.Source.ReplayFile),
			slog.Int("rate", rate),
			slog.Int("packets", replay.Packets()),
		)
		return replay, rate, nil, nil

	case config.SourceMicrophone:
		return source.NewMicrophone(cfg.Source.MicrophoneRate, cfg.Source.FramesPerBuffer, logger), cfg.Source.MicrophoneRate, nil, nil
	}

	return nil, 0, nil, fmt.Errorf("unknown source kind '%s'", cfg.Source.Kind)
}
