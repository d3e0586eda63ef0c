package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skypro1111/ble-audio-recorder/internal/catalog"
)

type recordingsOptions struct {
	Limit int
	JSON  bool
}

func newRecordingsCommand(root *rootOptions) *cobra.Command {
	opts := &recordingsOptions{}

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List cataloged recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}

			cat, err := catalog.Open(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.List(cmd.Context(), opts.Limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No recordings found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tDURATION\tRATE\tPEAK\tDOMINANT\tDROPPED\tENHANCED")
			for _, e := range entries {
				rate := fmt.Sprintf("%d Hz", e.EffectiveRate)
				if e.Degraded {
					rate = color.YellowString("%s*", rate)
				}
				fmt.Fprintf(w, "%s\t%.2fs\t%s\t%d\t%.0f Hz\t%d\t%s\n",
					e.SessionID,
					e.Elapsed.Seconds(),
					rate,
					e.Peak,
					e.DominantHz,
					e.Dropped,
					e.EnhancedPath,
				)
			}
			return w.Flush()
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of recordings to list (0 for all)")
	flags.BoolVar(&opts.JSON, "json", false, "Print the recordings as JSON")

	return cmd
}
