package main

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/catalog"
	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/pipeline"
)

type enhanceOptions struct {
	OutputDir string
	JSON      bool
}

func newEnhanceCommand(root *rootOptions) *cobra.Command {
	opts := &enhanceOptions{}

	cmd := &cobra.Command{
		Use:   "enhance <wav>",
		Short: "Run the enhancement chain on an existing WAV file",
		Long: `Run the configured filter chain on a mono PCM-16 WAV file. The file's own
sample rate is used; no rate policy is applied.`,
		Example: `  recorder enhance ble_raw_20240301_123045.wav
  recorder enhance --config recorder.yaml -o out/ capture.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(func(c *config.Config) {
				if cmd.Flags().Changed("output-dir") {
					c.Output.Directory = opts.OutputDir
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			defer initTracing(ctx, cfg.Tracing, logger)()

			samples, rate, err := audio.ReadWAVFile(args[0])
			if err != nil {
				return err
			}

			var cat *catalog.Catalog
			if cfg.Catalog.Enabled {
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
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			id := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			logger.Info("Enhancing file",
				slog.String("path", args[0]),
				slog.Int("samples", len(samples)),
				slog.Int("rate", rate),
			)

			res, err := p.Enhance(ctx, id, samples, rate)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, opts.JSON)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputDir, "output-dir", "o", "", "Directory for the enhanced file")
	flags.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")

	return cmd
}
