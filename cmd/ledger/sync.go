package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/ledger/internal/store"
	ledgersync "github.com/hyperengineering/ledger/internal/sync"
	"github.com/hyperengineering/ledger/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync against the remote and exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := newOrchestrator(cfg, db)
	if err != nil {
		return err
	}

	res, err := orch.Sync(cmd.Context())
	if err != nil {
		slog.Error("sync failed", "component", "cli", "error", err)
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(w io.Writer, res *ledgersync.Result) {
	remote := "created"
	if res.RemoteFound {
		remote = "merged"
	}
	fmt.Fprintf(w, "Synced in %s (remote archive %s)\n",
		(time.Duration(res.DurationMS) * time.Millisecond).String(), remote)
	fmt.Fprintf(w, "Flushed %s pending %s\n",
		humanize.Comma(int64(res.Flushed)), plural(res.Flushed, "change", "changes"))

	if len(res.Merge) > 0 {
		colls := make([]string, 0, len(res.Merge))
		for c := range res.Merge {
			colls = append(colls, string(c))
		}
		sort.Strings(colls)

		tw := newTabWriter(w)
		fmt.Fprintln(tw, "COLLECTION\tREMOTE ONLY\tLOCAL ONLY\tLOCAL WINS\tREMOTE WINS")
		for _, c := range colls {
			t := res.Merge[types.Collection(c)]
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", c, t.RemoteOnly, t.LocalOnly, t.LocalWins, t.RemoteWins)
		}
		tw.Flush()
	}
	printCounts(w, res.Counts)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
