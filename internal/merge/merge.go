// Package merge combines a local and a remote snapshot into one, resolving
// records that share an id with a whole-record last-writer-wins rule.
//
// For each collection the result starts from the remote records and overlays
// the local ones. When both sides hold the same id the higher version wins.
// Equal versions fall back to the record timestamp: updatedAt, or createdAt
// when updatedAt is empty, parsed as epoch milliseconds with unparsable
// values counting as 0. An exact tie keeps the remote record. No id present
// on either side is ever dropped.
package merge

import (
	"time"

	"github.com/hyperengineering/ledger/internal/types"
)

// Tally counts how the records of one collection were resolved.
type Tally struct {
	RemoteOnly int `json:"remoteOnly"`
	LocalOnly  int `json:"localOnly"`
	LocalWins  int `json:"localWins"`
	RemoteWins int `json:"remoteWins"`
}

// Conflicts is the number of ids present on both sides.
func (t Tally) Conflicts() int {
	return t.LocalWins + t.RemoteWins
}

// Report holds one Tally per merged collection.
type Report map[types.Collection]Tally

// Conflicts is the number of colliding ids across all collections.
func (r Report) Conflicts() int {
	n := 0
	for _, t := range r {
		n += t.Conflicts()
	}
	return n
}

// Merge returns the merged snapshot stamped with the current time.
func Merge(local, remote types.Snapshot) types.Snapshot {
	merged, _ := MergeAt(local, remote, time.Now())
	return merged
}

// MergeAt is Merge with an explicit export time and a resolution report.
// Neither input is modified.
func MergeAt(local, remote types.Snapshot, now time.Time) (types.Snapshot, Report) {
	report := make(Report, 6)
	var out types.Snapshot

	out.Customers, report[types.CollectionCustomers] = collection(local.Customers, remote.Customers)
	out.Products, report[types.CollectionProducts] = collection(local.Products, remote.Products)
	out.SalesOrders, report[types.CollectionSalesOrders] = collection(local.SalesOrders, remote.SalesOrders)
	out.SalesOrderItems, report[types.CollectionSalesOrderItems] = collection(local.SalesOrderItems, remote.SalesOrderItems)
	out.PurchaseOrders, report[types.CollectionPurchaseOrders] = collection(local.PurchaseOrders, remote.PurchaseOrders)
	out.PurchaseOrderItems, report[types.CollectionPurchaseOrderItems] = collection(local.PurchaseOrderItems, remote.PurchaseOrderItems)

	// The change log is local bookkeeping; the remote copy never contributes.
	out.SyncQueue = append(make([]types.SyncRecord, 0, len(local.SyncQueue)), local.SyncQueue...)

	out.Profile = local.Profile
	if len(out.Profile) == 0 {
		out.Profile = remote.Profile
	}

	out.ExportedAt = now.UTC()
	return out, report
}

// collection merges one collection. Output order is remote order followed
// by ids only present locally, in local order.
func collection[T types.Record](local, remote []T) ([]T, Tally) {
	out := make([]T, 0, len(remote)+len(local))
	index := make(map[string]int, len(remote)+len(local))
	var tally Tally

	for _, r := range remote {
		id := r.RecordID()
		if i, ok := index[id]; ok {
			out[i] = r
			continue
		}
		index[id] = len(out)
		out = append(out, r)
	}
	seeded := len(out)

	for _, l := range local {
		id := l.RecordID()
		i, ok := index[id]
		if !ok {
			index[id] = len(out)
			out = append(out, l)
			tally.LocalOnly++
			continue
		}
		if Wins(l, out[i]) {
			out[i] = l
			tally.LocalWins++
		} else {
			tally.RemoteWins++
		}
	}

	tally.RemoteOnly = seeded - tally.Conflicts()
	return out, tally
}

// Wins reports whether candidate replaces existing. Ties go to existing.
func Wins(candidate, existing types.Record) bool {
	cv, ev := candidate.RecordVersion(), existing.RecordVersion()
	if cv != ev {
		return cv > ev
	}
	return Timestamp(candidate) > Timestamp(existing)
}

// Timestamp returns the comparison time of r in epoch milliseconds:
// updatedAt, else createdAt, else 0. Unparsable values are 0.
func Timestamp(r types.Record) int64 {
	updatedAt, createdAt := r.RecordTimestamps()
	raw := updatedAt
	if raw == "" {
		raw = createdAt
	}
	return parseMillis(raw)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseMillis(raw string) int64 {
	if raw == "" {
		return 0
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
