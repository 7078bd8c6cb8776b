package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hyperengineering/ledger/internal/types"
)

// Store defines the local dataset operations used by the sync engine, the
// HTTP surface and the CLI.
type Store interface {
	ReadSnapshot(ctx context.Context) (types.Snapshot, error)
	PendingSyncRecords(ctx context.Context) ([]types.SyncRecord, error)
	ApplySnapshot(ctx context.Context, snap types.Snapshot) error
	MarkSynced(ctx context.Context, ids []string, at time.Time) error
	LastSynced(ctx context.Context) (*time.Time, error)
	SetLastSynced(ctx context.Context, at time.Time) error

	GetRemoteID(ctx context.Context, key string) (string, error)
	SetRemoteID(ctx context.Context, key, id string) error

	SaveCustomer(ctx context.Context, c types.Customer) (types.Customer, error)
	SaveProduct(ctx context.Context, p types.Product) (types.Product, error)
	SaveSalesOrder(ctx context.Context, o types.SalesOrder, items []types.SalesOrderItem) (types.SalesOrder, []types.SalesOrderItem, error)
	SavePurchaseOrder(ctx context.Context, o types.PurchaseOrder, items []types.PurchaseOrderItem) (types.PurchaseOrder, []types.PurchaseOrderItem, error)
	SetProfile(ctx context.Context, profile json.RawMessage) error

	Counts(ctx context.Context) (types.Counts, error)
	Close() error
}
