package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ReviewHarvester/internal/app"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label stored reviews that have no labels yet, without fetching",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		if err := cfg.ValidateClassify(); err != nil {
			return err
		}
		application, err := app.New(ctx, cfg, logger, app.Options{})
		if err != nil {
			return err
		}
		defer application.Close()

		summary, err := application.Classify(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "newly_classified=%d failed=%d pending=%d\n",
			summary.NewlyClassified, summary.ClassifyFailed, summary.ClassifyPending)
		return nil
	},
}
