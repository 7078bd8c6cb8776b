package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hyperengineering/ledger/internal/types"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// presentColumns returns the subset of wanted columns that exist in the
// named table. A missing table yields no columns.
func presentColumns(ctx context.Context, q Querier, table string, wanted []string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}

	existing := make(map[string]bool, len(cols))
	for _, c := range cols {
		existing[strings.ToLower(c.Text("name"))] = true
	}

	present := make([]string, 0, len(wanted))
	for _, w := range wanted {
		if existing[w] {
			present = append(present, w)
		}
	}
	return present, nil
}

// Load reads every row of t, tolerating missing tables and columns.
func Load[T any](ctx context.Context, q Querier, t Table[T]) ([]T, error) {
	cols, err := presentColumns(ctx, q, t.Name, t.ColumnNames())
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return []T{}, nil
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), t.Name))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.Name, err)
	}
	defer rows.Close()

	raw, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name, err)
	}

	out := make([]T, 0, len(raw))
	for _, r := range raw {
		out = append(out, t.Read(r))
	}
	return out, nil
}

// Upsert writes records with insert-or-update semantics keyed on the
// primary key, so repeated writes of overlapping ids never duplicate rows.
func Upsert[T any](ctx context.Context, e Execer, t Table[T], records []T) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := e.PrepareContext(ctx, t.UpsertSQL())
	if err != nil {
		return fmt.Errorf("prepare %s upsert: %w", t.Name, err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, t.Values(rec)...); err != nil {
			return fmt.Errorf("upsert %s row %d: %w", t.Name, i, err)
		}
	}
	return nil
}

// CreateTables creates every collection table if missing.
func CreateTables(ctx context.Context, e Execer) error {
	for _, stmt := range CreateStatements() {
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// WriteCollections upserts all six collections of snap. The change log and
// metadata are not written.
func WriteCollections(ctx context.Context, e Execer, snap types.Snapshot) error {
	if err := Upsert(ctx, e, Customers, snap.Customers); err != nil {
		return err
	}
	if err := Upsert(ctx, e, Products, snap.Products); err != nil {
		return err
	}
	if err := Upsert(ctx, e, SalesOrders, snap.SalesOrders); err != nil {
		return err
	}
	if err := Upsert(ctx, e, SalesOrderItems, snap.SalesOrderItems); err != nil {
		return err
	}
	if err := Upsert(ctx, e, PurchaseOrders, snap.PurchaseOrders); err != nil {
		return err
	}
	return Upsert(ctx, e, PurchaseOrderItems, snap.PurchaseOrderItems)
}

// ReadCollections loads all six collections into a Snapshot with an empty
// change log and zero ExportedAt.
func ReadCollections(ctx context.Context, q Querier) (types.Snapshot, error) {
	var snap types.Snapshot
	var err error

	if snap.Customers, err = Load(ctx, q, Customers); err != nil {
		return types.Snapshot{}, err
	}
	if snap.Products, err = Load(ctx, q, Products); err != nil {
		return types.Snapshot{}, err
	}
	if snap.SalesOrders, err = Load(ctx, q, SalesOrders); err != nil {
		return types.Snapshot{}, err
	}
	if snap.SalesOrderItems, err = Load(ctx, q, SalesOrderItems); err != nil {
		return types.Snapshot{}, err
	}
	if snap.PurchaseOrders, err = Load(ctx, q, PurchaseOrders); err != nil {
		return types.Snapshot{}, err
	}
	if snap.PurchaseOrderItems, err = Load(ctx, q, PurchaseOrderItems); err != nil {
		return types.Snapshot{}, err
	}
	snap.SyncQueue = []types.SyncRecord{}
	return snap, nil
}

// scanRows reads all rows into column-keyed maps.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[strings.ToLower(c)] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
