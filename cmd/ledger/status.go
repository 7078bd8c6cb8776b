package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/ledger/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local record counts and the last successful sync",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	counts, err := db.Counts(ctx)
	if err != nil {
		return err
	}
	last, err := db.LastSynced(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"path":        cfg.Database.Path,
			"backend":     cfg.Remote.Backend,
			"last_synced": last,
			"counts":      counts,
		})
	}

	fmt.Fprintf(out, "Database:    %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Backend:     %s\n", cfg.Remote.Backend)
	fmt.Fprintf(out, "Last synced: %s\n", formatSince(last))
	if counts.PendingChanges > 0 {
		fmt.Fprintf(out, "Pending:     %s %s awaiting sync\n",
			humanize.Comma(int64(counts.PendingChanges)), plural(counts.PendingChanges, "change", "changes"))
	}
	fmt.Fprintln(out)
	printCounts(out, counts)
	return nil
}
