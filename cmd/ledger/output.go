package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hyperengineering/ledger/internal/types"
)

var jsonOutput bool

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSince renders t relative to now, or "never".
func formatSince(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", humanize.Time(*t), t.Local().Format("2006-01-02 15:04:05 MST"))
}

// printCounts writes one row per collection.
func printCounts(w io.Writer, c types.Counts) {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "COLLECTION\tRECORDS")
	rows := []struct {
		name string
		n    int
	}{
		{string(types.CollectionCustomers), c.Customers},
		{string(types.CollectionProducts), c.Products},
		{string(types.CollectionSalesOrders), c.SalesOrders},
		{string(types.CollectionSalesOrderItems), c.SalesOrderItems},
		{string(types.CollectionPurchaseOrders), c.PurchaseOrders},
		{string(types.CollectionPurchaseOrderItems), c.PurchaseOrderItems},
		{"pending changes", c.PendingChanges},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.name, humanize.Comma(int64(r.n)))
	}
	tw.Flush()
}
