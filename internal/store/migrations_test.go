package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hyperengineering/ledger/internal/schema"
)

func openMigratedDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	return db
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table info %s: %v", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}

func TestRunMigrations_FreshDatabase(t *testing.T) {
	// Given: A fresh database with migrations applied
	db := openMigratedDB(t)

	// Then: Every table exists
	for _, table := range []string{
		"customers", "products", "sales_orders", "sales_order_items",
		"purchase_orders", "purchase_order_items", "sync_queue", "sync_meta", "remote_ids",
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestRunMigrations_ColumnsMatchArchiveSchema(t *testing.T) {
	// Given: A migrated database
	db := openMigratedDB(t)

	// Then: Each collection table has exactly the archive columns
	tables := map[string][]string{
		schema.Customers.Name:          schema.Customers.ColumnNames(),
		schema.Products.Name:           schema.Products.ColumnNames(),
		schema.SalesOrders.Name:        schema.SalesOrders.ColumnNames(),
		schema.SalesOrderItems.Name:    schema.SalesOrderItems.ColumnNames(),
		schema.PurchaseOrders.Name:     schema.PurchaseOrders.ColumnNames(),
		schema.PurchaseOrderItems.Name: schema.PurchaseOrderItems.ColumnNames(),
	}

	for table, want := range tables {
		got := tableColumns(t, db, table)
		sort.Strings(got)
		want = append([]string(nil), want...)
		sort.Strings(want)
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("%s columns:\n got %v\nwant %v", table, got, want)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	// Given: A database that has already been migrated
	db := openMigratedDB(t)

	if _, err := db.Exec(`INSERT INTO customers (id, name) VALUES ('c-1', 'Acme')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// When: RunMigrations is called again
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("second migration should be idempotent, got error: %v", err)
	}

	// Then: Existing data is preserved
	var name string
	if err := db.QueryRow(`SELECT name FROM customers WHERE id = 'c-1'`).Scan(&name); err != nil {
		t.Fatalf("data not preserved after migration: %v", err)
	}
	if name != "Acme" {
		t.Errorf("expected name 'Acme', got %q", name)
	}
}

func TestSchema_Indexes(t *testing.T) {
	db := openMigratedDB(t)

	for _, idx := range []string{
		"idx_products_sku",
		"idx_sales_order_items_order",
		"idx_purchase_order_items_order",
		"idx_sync_queue_pending",
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name=?`, idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func TestWALMode_Enabled(t *testing.T) {
	// Given: A new SQLiteStore
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	// Then: WAL mode is enabled
	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode 'wal', got %q", journalMode)
	}
}

func TestPragmas_Applied(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var busyTimeout int
	if err := store.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := store.db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("failed to query synchronous: %v", err)
	}
	if synchronous != 1 {
		t.Errorf("expected synchronous 1 (NORMAL), got %d", synchronous)
	}
}

func TestNewSQLiteStore_CreatesParentDirectories(t *testing.T) {
	// Given: A path with non-existent parent directories
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	// When: NewSQLiteStore is called
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store with nested path: %v", err)
	}
	defer store.Close()

	// Then: The database file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}
