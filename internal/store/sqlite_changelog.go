package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/ledger/internal/types"
)

const lastSyncedKey = "last_synced_at"

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// appendSyncRecord records a local mutation. It runs inside the mutation's
// transaction so the change log never lags the data.
func appendSyncRecord(ctx context.Context, tx execer, coll types.Collection, entityID string, at time.Time) error {
	rec := types.SyncRecord{
		ID:         ulid.Make().String(),
		EntityType: coll,
		EntityID:   entityID,
		Operation:  types.OperationUpsert,
		CreatedAt:  at.UTC(),
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity_type, entity_id, operation, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, string(rec.EntityType), rec.EntityID, rec.Operation, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append sync record: %w", err)
	}
	return nil
}

// PendingSyncRecords returns change-log entries not yet flushed, oldest first.
func (s *SQLiteStore) PendingSyncRecords(ctx context.Context) ([]types.SyncRecord, error) {
	return pendingSyncRecords(ctx, s.db)
}

func pendingSyncRecords(ctx context.Context, q queryRower) ([]types.SyncRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, created_at
		FROM sync_queue
		WHERE synced_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	records := make([]types.SyncRecord, 0)
	for rows.Next() {
		var r types.SyncRecord
		var entityType, createdAt string
		if err := rows.Scan(&r.ID, &entityType, &r.EntityID, &r.Operation, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		r.EntityType = types.Collection(entityType)

		var parseErr error
		if r.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("sync_queue: failed to parse created_at", "value", createdAt, "error", parseErr)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkSynced stamps exactly the given change-log entries as flushed.
// Entries already flushed keep their original timestamp.
func (s *SQLiteStore) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE sync_queue SET synced_at = ? WHERE id = ? AND synced_at IS NULL
	`)
	if err != nil {
		return fmt.Errorf("prepare mark synced: %w", err)
	}
	defer stmt.Close()

	syncedAt := at.UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, syncedAt, id); err != nil {
			return fmt.Errorf("mark %s synced: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LastSynced returns the time of the last fully successful sync, or nil.
func (s *SQLiteStore) LastSynced(ctx context.Context) (*time.Time, error) {
	value, err := getSyncMeta(ctx, s.db, lastSyncedKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lastSyncedKey, err)
	}
	return &t, nil
}

// SetLastSynced records the time of a fully successful sync.
func (s *SQLiteStore) SetLastSynced(ctx context.Context, at time.Time) error {
	return setSyncMeta(ctx, s.db, lastSyncedKey, at.UTC().Format(time.RFC3339Nano))
}

// GetRemoteID returns the cached remote id for key, or "" when unknown.
func (s *SQLiteStore) GetRemoteID(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT remote_id FROM remote_ids WHERE key = ?
	`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get remote id: %w", err)
	}
	return id, nil
}

// SetRemoteID caches a remote id. An empty id forgets the key.
func (s *SQLiteStore) SetRemoteID(ctx context.Context, key, id string) error {
	if id == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM remote_ids WHERE key = ?`, key); err != nil {
			return fmt.Errorf("clear remote id: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO remote_ids (key, remote_id, updated_at) VALUES (?, ?, ?)
	`, key, id, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set remote id: %w", err)
	}
	return nil
}

// getSyncMeta retrieves a sync metadata value by key.
func getSyncMeta(ctx context.Context, q queryRower, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

// setSyncMeta sets a sync metadata value.
func setSyncMeta(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}
