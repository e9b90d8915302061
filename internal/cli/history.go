package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowatch/flowatch/internal/history"
)

var (
	historyLimit int
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history <workflow>",
	Short: "List recorded runs of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to list")
	historyCmd.Flags().DurationVar(&historyPrune, "prune-older-than", 0, "delete runs older than this before listing")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled; set history.enabled in the config")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	if historyPrune > 0 {
		if err := store.DeleteOlderThan(ctx, historyPrune); err != nil {
			return err
		}
	}

	records, err := store.List(ctx, args[0], historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No recorded runs for %s\n", args[0])
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %-10s  started %s  took %s\n",
			rec.InvocationID,
			rec.Outcome,
			rec.StartedAt.Local().Format(time.RFC3339),
			rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second),
		)

		names := make([]string, 0, len(rec.Statuses))
		for name := range rec.Statuses {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %-32s %s\n", name, rec.Statuses[name])
		}
	}
	return nil
}
