package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ReviewHarvester/internal/app"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts of the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		application, err := app.New(ctx, cfg, logger, app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer application.Close()

		stats, err := application.Stats(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		fmt.Fprintf(out, "store:        %s\n", stats.Location)
		fmt.Fprintf(out, "total:        %d\n", stats.Total)
		fmt.Fprintf(out, "unclassified: %d\n", stats.Unclassified)
		fmt.Fprintf(out, "used:         %d\n", stats.Used)
		fmt.Fprintf(out, "newest:       %s\n", stats.Newest)
		fmt.Fprintf(out, "oldest:       %s\n", stats.Oldest)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}
