package validation

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/ledger/internal/types"
)

// ErrInvalidSnapshot is returned when a snapshot breaks the id invariant.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// CheckSnapshotIDs reports the first empty or duplicated id in any collection.
func CheckSnapshotIDs(s types.Snapshot) error {
	if err := checkIDs(types.CollectionCustomers, s.Customers); err != nil {
		return err
	}
	if err := checkIDs(types.CollectionProducts, s.Products); err != nil {
		return err
	}
	if err := checkIDs(types.CollectionSalesOrders, s.SalesOrders); err != nil {
		return err
	}
	if err := checkIDs(types.CollectionSalesOrderItems, s.SalesOrderItems); err != nil {
		return err
	}
	if err := checkIDs(types.CollectionPurchaseOrders, s.PurchaseOrders); err != nil {
		return err
	}
	return checkIDs(types.CollectionPurchaseOrderItems, s.PurchaseOrderItems)
}

func checkIDs[T types.Record](coll types.Collection, recs []T) error {
	seen := make(map[string]struct{}, len(recs))
	for i, r := range recs {
		id := r.RecordID()
		if id == "" {
			return fmt.Errorf("%w: %s[%d] has an empty id", ErrInvalidSnapshot, coll, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s has duplicate id %q", ErrInvalidSnapshot, coll, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
