package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/ledger/internal/codec"
	"github.com/hyperengineering/ledger/internal/store"
	"github.com/hyperengineering/ledger/internal/worker"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Work with sync archives offline",
	Long:  "Export the local database as a sync archive, or inspect an archive without touching the local database.",
}

var archiveExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the local database to an archive file",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveExport,
}

var archiveInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Decode an archive file and show what it contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveInspect,
}

var archiveBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List local backup archives, newest last",
	Args:  cobra.NoArgs,
	RunE:  runArchiveBackups,
}

func init() {
	archiveCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	archiveCmd.AddCommand(archiveExportCmd)
	archiveCmd.AddCommand(archiveInspectCmd)
	archiveCmd.AddCommand(archiveBackupsCmd)
}

func runArchiveExport(cmd *cobra.Command, args []string) error {
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
	snap, err := db.ReadSnapshot(ctx)
	if err != nil {
		return err
	}
	data, err := codec.New(cfg.Database.TempDir).Encode(ctx, snap)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := os.WriteFile(args[0], data, 0o600); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"path":       args[0],
			"size_bytes": len(data),
			"counts":     snap.Counts(),
		})
	}
	fmt.Fprintf(out, "Wrote %s (%s)\n", args[0], humanize.Bytes(uint64(len(data))))
	return nil
}

func runArchiveInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	tempDir := ""
	if cfg, err := loadConfig(); err == nil {
		tempDir = cfg.Database.TempDir
	}
	snap, err := codec.New(tempDir).Decode(cmd.Context(), data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"path":        args[0],
			"size_bytes":  len(data),
			"exported_at": snap.ExportedAt,
			"has_profile": len(snap.Profile) > 0,
			"counts":      snap.Counts(),
		})
	}

	fmt.Fprintf(out, "Archive:  %s\n", args[0])
	fmt.Fprintf(out, "Size:     %s\n", humanize.Bytes(uint64(len(data))))
	fmt.Fprintf(out, "Exported: %s\n", formatSince(&snap.ExportedAt))
	fmt.Fprintf(out, "Profile:  %t\n", len(snap.Profile) > 0)
	fmt.Fprintln(out)
	printCounts(out, snap.Counts())
	return nil
}

type backupInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func runArchiveBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Backup.Dir == "" {
		return errors.New("backups are disabled: set LEDGER_BACKUP_DIR")
	}

	names, err := worker.Backups(cfg.Backup.Dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("list backups: %w", err)
	}

	backups := make([]backupInfo, 0, len(names))
	for _, name := range names {
		b := backupInfo{Name: name}
		if fi, err := os.Stat(filepath.Join(cfg.Backup.Dir, name)); err == nil {
			b.SizeBytes = fi.Size()
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "ledger-"), ".zip")
		if u, err := ulid.Parse(id); err == nil {
			b.CreatedAt = ulid.Time(u.Time()).UTC()
		}
		backups = append(backups, b)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"dir":     cfg.Backup.Dir,
			"backups": backups,
			"total":   len(backups),
		})
	}

	if len(backups) == 0 {
		fmt.Fprintln(out, "No backups found.")
		return nil
	}
	tw := newTabWriter(out)
	fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Name, humanize.Bytes(uint64(b.SizeBytes)), humanize.Time(b.CreatedAt))
	}
	tw.Flush()
	return nil
}
