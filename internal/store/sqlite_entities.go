package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperengineering/ledger/internal/schema"
	"github.com/hyperengineering/ledger/internal/types"
)

// headed is a pointer to a top-level entity.
type headed[T any] interface {
	*T
	Head() *types.Header
}

// inTx runs fn in a transaction with a single mutation timestamp.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx, now time.Time) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx, s.now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// saveRecord upserts rec and appends its change-log entry. The id is
// generated when empty, created_at is kept from the stored row, and the
// version is one above the stored version. A caller-supplied non-zero
// version below the stored one is rejected with ErrStaleVersion.
func saveRecord[T any, P headed[T]](ctx context.Context, tx *sql.Tx, t schema.Table[T], coll types.Collection, rec P, now time.Time) error {
	h := rec.Head()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	ts := types.FormatTimestamp(now)

	var storedCreated string
	var storedVersion int64
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT created_at, version FROM %s WHERE id = ?", t.Name), h.ID,
	).Scan(&storedCreated, &storedVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if h.CreatedAt == "" {
			h.CreatedAt = ts
		}
		h.Version = max(h.Version, 0) + 1
	case err != nil:
		return fmt.Errorf("load %s %s: %w", t.Name, h.ID, err)
	default:
		if h.Version != 0 && h.Version < storedVersion {
			return fmt.Errorf("%s %s at version %d, got %d: %w", t.Name, h.ID, storedVersion, h.Version, ErrStaleVersion)
		}
		if storedCreated != "" {
			h.CreatedAt = storedCreated
		}
		h.Version = max(h.Version, storedVersion) + 1
	}
	h.UpdatedAt = ts

	if err := schema.Upsert(ctx, tx, t, []T{*rec}); err != nil {
		return err
	}
	return appendSyncRecord(ctx, tx, coll, h.ID, now)
}

// saveItems upserts order lines and appends one change-log entry per line.
func saveItems[T types.Record](ctx context.Context, tx *sql.Tx, t schema.Table[T], coll types.Collection, items []T, now time.Time) error {
	if err := schema.Upsert(ctx, tx, t, items); err != nil {
		return err
	}
	for _, it := range items {
		if err := appendSyncRecord(ctx, tx, coll, it.RecordID(), now); err != nil {
			return err
		}
	}
	return nil
}

// SaveCustomer records a local customer mutation.
func (s *SQLiteStore) SaveCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		return saveRecord(ctx, tx, schema.Customers, types.CollectionCustomers, &c, now)
	})
	if err != nil {
		return types.Customer{}, err
	}
	return c, nil
}

// SaveProduct records a local product mutation.
func (s *SQLiteStore) SaveProduct(ctx context.Context, p types.Product) (types.Product, error) {
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		return saveRecord(ctx, tx, schema.Products, types.CollectionProducts, &p, now)
	})
	if err != nil {
		return types.Product{}, err
	}
	return p, nil
}

// SaveSalesOrder records an order and its lines in one transaction. Lines
// are upserted; lines absent from items are left as they are.
func (s *SQLiteStore) SaveSalesOrder(ctx context.Context, o types.SalesOrder, items []types.SalesOrderItem) (types.SalesOrder, []types.SalesOrderItem, error) {
	items = append([]types.SalesOrderItem(nil), items...)
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		if err := saveRecord(ctx, tx, schema.SalesOrders, types.CollectionSalesOrders, &o, now); err != nil {
			return err
		}
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
			items[i].SalesOrderID = o.ID
		}
		return saveItems(ctx, tx, schema.SalesOrderItems, types.CollectionSalesOrderItems, items, now)
	})
	if err != nil {
		return types.SalesOrder{}, nil, err
	}
	return o, items, nil
}

// SavePurchaseOrder records an order and its lines in one transaction.
func (s *SQLiteStore) SavePurchaseOrder(ctx context.Context, o types.PurchaseOrder, items []types.PurchaseOrderItem) (types.PurchaseOrder, []types.PurchaseOrderItem, error) {
	items = append([]types.PurchaseOrderItem(nil), items...)
	err := s.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		if err := saveRecord(ctx, tx, schema.PurchaseOrders, types.CollectionPurchaseOrders, &o, now); err != nil {
			return err
		}
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
			items[i].PurchaseOrderID = o.ID
		}
		return saveItems(ctx, tx, schema.PurchaseOrderItems, types.CollectionPurchaseOrderItems, items, now)
	})
	if err != nil {
		return types.PurchaseOrder{}, nil, err
	}
	return o, items, nil
}
