package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/ledger/internal/types"
)

const (
	backupPrefix = "ledger-"
	backupSuffix = ".zip"
)

// SnapshotReader defines the store operation needed by the backup worker.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context) (types.Snapshot, error)
}

// Encoder turns a snapshot into archive bytes.
type Encoder interface {
	Encode(ctx context.Context, snap types.Snapshot) ([]byte, error)
}

// BackupWorker periodically writes the local dataset as an archive into a
// directory, keeping the newest keep files.
type BackupWorker struct {
	store    SnapshotReader
	enc      Encoder
	dir      string
	interval time.Duration
	keep     int

	// Now stamps backup names. Defaults to time.Now.
	Now func() time.Time
}

// NewBackupWorker creates a worker writing into dir every interval.
func NewBackupWorker(store SnapshotReader, enc Encoder, dir string, interval time.Duration, keep int) *BackupWorker {
	return &BackupWorker{
		store:    store,
		enc:      enc,
		dir:      dir,
		interval: interval,
		keep:     max(keep, 1),
		Now:      time.Now,
	}
}

// Run starts the worker loop. Writes a backup immediately on start,
// then on each interval. Respects context cancellation for graceful shutdown.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"dir", w.dir,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *BackupWorker) runOnce(ctx context.Context) {
	start := time.Now()
	path, size, err := w.Backup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup failed",
			"component", "worker",
			"worker", "backup",
			"action", "backup_failed",
			"error", err,
		)
		return
	}
	slog.Info("backup written",
		"component", "worker",
		"worker", "backup",
		"action", "backup_written",
		"path", path,
		"size", humanize.Bytes(uint64(size)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Backup writes one archive and prunes older ones. It returns the new
// file's path and size.
func (w *BackupWorker) Backup(ctx context.Context) (string, int, error) {
	snap, err := w.store.ReadSnapshot(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("read snapshot: %w", err)
	}
	data, err := w.enc.Encode(ctx, snap)
	if err != nil {
		return "", 0, fmt.Errorf("encode archive: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", 0, fmt.Errorf("create backup dir: %w", err)
	}
	id := ulid.MustNew(ulid.Timestamp(w.Now()), ulid.DefaultEntropy())
	path := filepath.Join(w.dir, backupPrefix+id.String()+backupSuffix)

	// Readers never see a partial archive.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", 0, fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("write backup: %w", err)
	}

	if err := w.prune(); err != nil {
		return path, len(data), fmt.Errorf("prune backups: %w", err)
	}
	return path, len(data), nil
}

// prune removes all but the newest keep backups. ULID names sort by time.
func (w *BackupWorker) prune() error {
	names, err := Backups(w.dir)
	if err != nil {
		return err
	}
	for len(names) > w.keep {
		if err := os.Remove(filepath.Join(w.dir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

// Backups lists backup file names in dir, oldest first.
func Backups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
