package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/ledger/internal/merge"
	"github.com/hyperengineering/ledger/internal/schema"
	"github.com/hyperengineering/ledger/internal/types"
)

// storedHeaders returns the id, version and timestamps of every row in table.
func storedHeaders(ctx context.Context, q queryRower, table string) (map[string]types.Header, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT id, version, created_at, updated_at FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("query %s headers: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]types.Header)
	for rows.Next() {
		var h types.Header
		if err := rows.Scan(&h.ID, &h.Version, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s header: %w", table, err)
		}
		out[h.ID] = h
	}
	return out, rows.Err()
}

// withoutStale drops the records whose stored row strictly beats them under
// the merge rule. Such rows were written locally after the snapshot was
// read and must survive until the next sync. The ids of dropped records are
// returned.
func withoutStale[T types.Record](ctx context.Context, q queryRower, t schema.Table[T], recs []T) ([]T, map[string]bool, error) {
	if len(recs) == 0 {
		return recs, nil, nil
	}
	stored, err := storedHeaders(ctx, q, t.Name)
	if err != nil {
		return nil, nil, err
	}

	kept := make([]T, 0, len(recs))
	var dropped map[string]bool
	for _, rec := range recs {
		if h, ok := stored[rec.RecordID()]; ok && merge.Wins(h, rec) {
			if dropped == nil {
				dropped = make(map[string]bool)
			}
			dropped[rec.RecordID()] = true
			continue
		}
		kept = append(kept, rec)
	}
	return kept, dropped, nil
}

// itemsOf drops items belonging to a parent order that was itself dropped.
// Items carry no version, so they follow their order.
func itemsOf[T any](items []T, parent func(T) string, droppedOrders map[string]bool) []T {
	if len(droppedOrders) == 0 {
		return items
	}
	kept := make([]T, 0, len(items))
	for _, it := range items {
		if !droppedOrders[parent(it)] {
			kept = append(kept, it)
		}
	}
	return kept
}

// freshOnly returns snap minus every record the local store already holds
// a newer copy of.
func freshOnly(ctx context.Context, q queryRower, snap types.Snapshot) (types.Snapshot, error) {
	out := snap
	var err error
	var droppedCustomers, droppedProducts, droppedSales, droppedPurchases map[string]bool

	if out.Customers, droppedCustomers, err = withoutStale(ctx, q, schema.Customers, snap.Customers); err != nil {
		return out, err
	}
	if out.Products, droppedProducts, err = withoutStale(ctx, q, schema.Products, snap.Products); err != nil {
		return out, err
	}
	if out.SalesOrders, droppedSales, err = withoutStale(ctx, q, schema.SalesOrders, snap.SalesOrders); err != nil {
		return out, err
	}
	if out.PurchaseOrders, droppedPurchases, err = withoutStale(ctx, q, schema.PurchaseOrders, snap.PurchaseOrders); err != nil {
		return out, err
	}
	out.SalesOrderItems = itemsOf(snap.SalesOrderItems,
		func(i types.SalesOrderItem) string { return i.SalesOrderID }, droppedSales)
	out.PurchaseOrderItems = itemsOf(snap.PurchaseOrderItems,
		func(i types.PurchaseOrderItem) string { return i.PurchaseOrderID }, droppedPurchases)

	n := len(droppedCustomers) + len(droppedProducts) + len(droppedSales) + len(droppedPurchases)
	if n > 0 {
		slog.Info("kept newer local records over snapshot",
			"component", "store",
			"action", "apply_skip_stale",
			"records", n,
		)
	}
	return out, nil
}
