package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ReviewHarvester/internal/app"
)

var (
	runEvery        time.Duration
	runSkipClassify bool
	runMaxNew       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch new reviews, merge them into the store and label them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-new") {
			cfg.Ingest.MaxNewRecords = runMaxNew
		}
		if cmd.Flags().Changed("every") {
			cfg.Scheduler.Every = runEvery
		}

		ctx, cancel := signalContext()
		defer cancel()

		application, err := openApplication(ctx, cfg, logger, app.Options{SkipClassify: runSkipClassify})
		if err != nil {
			return err
		}
		defer application.Close()

		if cfg.Scheduler.Every > 0 {
			return application.RunEvery(ctx, cfg.Scheduler.Every)
		}

		summary, err := application.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "new_records_added=%d total_records=%d newly_classified=%d\n",
			summary.NewRecordsAdded, summary.TotalRecords, summary.NewlyClassified)
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&runEvery, "every", 0, "Run repeatedly at this interval until interrupted")
	runCmd.Flags().BoolVar(&runSkipClassify, "skip-classify", false, "Ingest and merge only")
	runCmd.Flags().IntVar(&runMaxNew, "max-new", 0, "Stop after this many new records (0 = unlimited)")
}
