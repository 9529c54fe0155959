package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/warehouse"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the state store and warehouse schemas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("state"); err != nil {
			return err
		}

		env := newStageEnv(cfg)
		defer env.Close()

		// Open migrates the state store.
		if _, err := env.state(ctx); err != nil {
			return err
		}
		zap.L().Info("state store migrated", zap.String("driver", cfg.State.Driver))

		if cfg.Warehouse.DatabaseURL == "" {
			zap.L().Info("no warehouse configured, skipping warehouse migrations")
			return nil
		}
		pool, err := env.pool(ctx)
		if err != nil {
			return err
		}
		schema := warehouse.SchemaOrDefault(cfg.Warehouse.Schema)
		if err := warehouse.Migrate(ctx, pool, schema); err != nil {
			return err
		}
		zap.L().Info("warehouse migrated", zap.String("schema", schema))
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and maintain the extraction state store",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <game-id>",
	Short: "Show every recorded attempt for a catalog item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := cast.ToInt64E(args[0])
		if err != nil {
			return eris.Wrapf(err, "state show: invalid id %q", args[0])
		}
		if err := cfg.Validate("state"); err != nil {
			return err
		}

		env := newStageEnv(cfg)
		defer env.Close()
		st, err := env.state(ctx)
		if err != nil {
			return err
		}

		recs, err := statestore.QueryAll(ctx, st, statestore.Query{
			Index: statestore.IndexItem,
			ID:    model.ItemKey(id),
		})
		if err != nil {
			return eris.Wrap(err, "state show")
		}
		if len(recs) == 0 {
			fmt.Fprintf(os.Stderr, "No state recorded for item %d.\n", id)
			return nil
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var stateSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete state records past their retention",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("state"); err != nil {
			return err
		}

		env := newStageEnv(cfg)
		defer env.Close()
		st, err := env.state(ctx)
		if err != nil {
			return err
		}

		n, err := st.DeleteExpired(ctx, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "state sweep")
		}
		zap.L().Info("expired state records deleted", zap.Int("deleted", n))
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent stage runs from the warehouse run log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("quality"); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		env := newStageEnv(cfg)
		defer env.Close()
		pool, err := env.pool(ctx)
		if err != nil {
			return err
		}

		runs, err := warehouse.NewRunLog(pool, cfg.Warehouse.Schema).List(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRuns(cmd, runs)
		return nil
	},
}

func formatRuns(cmd *cobra.Command, runs []warehouse.StageRun) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Stage, r.Status, r.StartedAt.Format(time.RFC3339), dur, truncate(r.Error, 60))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	runsCmd.Flags().Int("limit", 50, "maximum runs to list")

	stateCmd.AddCommand(stateShowCmd, stateSweepCmd)
	rootCmd.AddCommand(migrateCmd, stateCmd, runsCmd)
}
