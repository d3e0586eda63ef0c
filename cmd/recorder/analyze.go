package main

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/ble-audio-recorder/internal/analysis"
	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <wav>",
		Short: "Print level, spectrum and voice statistics of a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := root.load(); err != nil {
				return err
			}

			samples, rate, err := audio.ReadWAVFile(args[0])
			if err != nil {
				return err
			}
			report, err := analysis.Analyze(samples, rate)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			printReport(out, args[0], report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}
