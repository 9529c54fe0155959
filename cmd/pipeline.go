package main

import (
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/stage"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Select catalog items to extract and write a batch descriptor",
	RunE: stageRunE(stage.Discover, func(*cobra.Command, []string) (stage.Request, error) {
		return stage.Request{}, nil
	}),
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Fetch catalog items and store their raw records in bronze storage",
	Long: "Fetches the items named by --ids, or every item of the discovery batch named by --batch " +
		"(\"latest\" selects the newest), and records each attempt in the state store.",
	RunE: stageRunE(stage.Extract, func(cmd *cobra.Command, _ []string) (stage.Request, error) {
		raw, _ := cmd.Flags().GetStringSlice("ids")
		batch, _ := cmd.Flags().GetString("batch")

		ids := make([]int64, 0, len(raw))
		for _, s := range raw {
			id, err := cast.ToInt64E(s)
			if err != nil {
				return stage.Request{}, err
			}
			ids = append(ids, id)
		}
		return stage.Request{GameIDs: ids, BatchKey: batch}, nil
	}),
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean one day of raw records into silver tables",
	RunE: stageRunE(stage.Clean, func(cmd *cobra.Command, _ []string) (stage.Request, error) {
		date, _ := cmd.Flags().GetString("date")
		keys, _ := cmd.Flags().GetStringSlice("keys")
		return stage.Request{Date: date, Keys: keys}, nil
	}),
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Build gold bridge and fact tables for one extraction day",
	RunE: stageRunE(stage.Transform, func(cmd *cobra.Command, _ []string) (stage.Request, error) {
		date, _ := cmd.Flags().GetString("date")
		return stage.Request{Date: date}, nil
	}),
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load silver and gold tables into the warehouse",
	RunE: stageRunE(stage.Load, func(*cobra.Command, []string) (stage.Request, error) {
		return stage.Request{}, nil
	}),
}

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Run data quality checks against warehouse tables",
	RunE: stageRunE(stage.Quality, func(cmd *cobra.Command, _ []string) (stage.Request, error) {
		table, _ := cmd.Flags().GetString("table")
		return stage.Request{Table: table}, nil
	}),
}

func init() {
	extractCmd.Flags().StringSlice("ids", nil, "comma-separated catalog item ids")
	extractCmd.Flags().String("batch", "", "discovery descriptor key, or \"latest\"")
	cleanCmd.Flags().String("date", "", "extraction day YYYY-MM-DD (default today UTC)")
	cleanCmd.Flags().StringSlice("keys", nil, "raw record keys to clean instead of a whole day")
	transformCmd.Flags().String("date", "", "extraction day YYYY-MM-DD (default today UTC)")
	qualityCmd.Flags().String("table", "", "table to check (default every table with rules)")

	rootCmd.AddCommand(discoverCmd, extractCmd, cleanCmd, transformCmd, loadCmd, qualityCmd)
}
