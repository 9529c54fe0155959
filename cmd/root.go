package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sommelier",
	Short: "Board game catalog ETL pipeline",
	Long: "Discovers catalog items, extracts them to bronze storage, cleans them into silver tables, " +
		"models gold bridge and fact tables, loads the warehouse and runs data quality checks.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
