package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/ledger/internal/schema"
	"github.com/hyperengineering/ledger/internal/types"
	"github.com/hyperengineering/ledger/internal/validation"
)

const profileKey = "profile"

// SQLiteStore is the local, offline-first copy of the dataset.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		return nil, multierr.Append(fmt.Errorf("enable pragmas: %w", err), db.Close())
	}

	if err := RunMigrations(context.Background(), db); err != nil {
		return nil, multierr.Append(fmt.Errorf("run migrations: %w", err), db.Close())
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection, checkpointing the WAL first.
func (s *SQLiteStore) Close() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return multierr.Append(err, s.db.Close())
}

// ReadSnapshot reads every collection, the pending change log and the
// organisation profile in one read transaction.
func (s *SQLiteStore) ReadSnapshot(ctx context.Context) (types.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	snap, err := schema.ReadCollections(ctx, tx)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("read collections: %w", err)
	}

	if snap.SyncQueue, err = pendingSyncRecords(ctx, tx); err != nil {
		return types.Snapshot{}, err
	}

	profile, err := getSyncMeta(ctx, tx, profileKey)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return types.Snapshot{}, err
	default:
		snap.Profile = json.RawMessage(profile)
	}

	snap.ExportedAt = s.now().UTC()
	return snap, nil
}

// ApplySnapshot upserts every collection of snap in a single transaction.
// Either all rows are written or none are. A record whose stored row is
// strictly newer under the merge rule is left as stored, together with the
// items of such an order. The change log is not touched.
func (s *SQLiteStore) ApplySnapshot(ctx context.Context, snap types.Snapshot) error {
	if err := validation.CheckSnapshotIDs(snap); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	fresh, err := freshOnly(ctx, tx, snap)
	if err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	if err := schema.WriteCollections(ctx, tx, fresh); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}

	if len(snap.Profile) > 0 {
		if err := setSyncMeta(ctx, tx, profileKey, string(snap.Profile)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SetProfile replaces the organisation profile carried in archives.
func (s *SQLiteStore) SetProfile(ctx context.Context, profile json.RawMessage) error {
	if !json.Valid(profile) {
		return fmt.Errorf("set profile: invalid JSON")
	}
	return setSyncMeta(ctx, s.db, profileKey, string(profile))
}

// Counts returns live collection sizes and the pending change count.
func (s *SQLiteStore) Counts(ctx context.Context) (types.Counts, error) {
	var c types.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM customers),
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM sales_orders),
			(SELECT COUNT(*) FROM sales_order_items),
			(SELECT COUNT(*) FROM purchase_orders),
			(SELECT COUNT(*) FROM purchase_order_items),
			(SELECT COUNT(*) FROM sync_queue WHERE synced_at IS NULL)
	`).Scan(&c.Customers, &c.Products, &c.SalesOrders, &c.SalesOrderItems,
		&c.PurchaseOrders, &c.PurchaseOrderItems, &c.PendingChanges)
	if err != nil {
		return types.Counts{}, fmt.Errorf("count records: %w", err)
	}
	return c, nil
}
