package types

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for every record timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Collection names a synchronized collection.
type Collection string

const (
	CollectionCustomers          Collection = "customers"
	CollectionProducts           Collection = "products"
	CollectionSalesOrders        Collection = "salesOrders"
	CollectionSalesOrderItems    Collection = "salesOrderItems"
	CollectionPurchaseOrders     Collection = "purchaseOrders"
	CollectionPurchaseOrderItems Collection = "purchaseOrderItems"
	CollectionSyncQueue          Collection = "syncQueue"
)

// Record is the view of an entity the merge engine needs.
// Item entities report version 0 and no timestamps.
type Record interface {
	RecordID() string
	RecordVersion() int64
	RecordTimestamps() (updatedAt, createdAt string)
}

// Header carries the identity and versioning fields shared by every
// top-level entity.
type Header struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Version   int64  `json:"version"`
}

func (h Header) RecordID() string { return h.ID }
func (h Header) RecordVersion() int64 { return h.Version }
func (h Header) RecordTimestamps() (string, string) { return h.UpdatedAt, h.CreatedAt }

// Head returns the embedded header for in-place stamping.
func (h *Header) Head() *Header { return h }

// Customer is a buyer of goods.
type Customer struct {
	Header
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	TaxID   *string `json:"taxId,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

// Product is a stocked item.
type Product struct {
	Header
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	Barcode       *string `json:"barcode,omitempty"`
	Description   *string `json:"description,omitempty"`
	Unit          string  `json:"unit"`
	Price         float64 `json:"price"`
	Cost          float64 `json:"cost"`
	StockQuantity float64 `json:"stockQuantity"`
	ReorderLevel  float64 `json:"reorderLevel"`
	Active        bool    `json:"active"`
}

// SalesOrder is an order placed by a customer.
type SalesOrder struct {
	Header
	OrderNumber string  `json:"orderNumber"`
	CustomerID  *string `json:"customerId,omitempty"`
	Status      string  `json:"status"`
	OrderDate   string  `json:"orderDate"`
	DueDate     *string `json:"dueDate,omitempty"`
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
	Paid        bool    `json:"paid"`
	Notes       *string `json:"notes,omitempty"`
}

// SalesOrderItem is a line of a SalesOrder.
type SalesOrderItem struct {
	ID           string  `json:"id"`
	SalesOrderID string  `json:"salesOrderId"`
	ProductID    string  `json:"productId"`
	Description  *string `json:"description,omitempty"`
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
	Total        float64 `json:"total"`
}

func (i SalesOrderItem) RecordID() string { return i.ID }
func (i SalesOrderItem) RecordVersion() int64 { return 0 }
func (i SalesOrderItem) RecordTimestamps() (string, string) { return "", "" }

// PurchaseOrder is an order placed with a supplier.
type PurchaseOrder struct {
	Header
	OrderNumber  string  `json:"orderNumber"`
	SupplierName string  `json:"supplierName"`
	Status       string  `json:"status"`
	OrderDate    string  `json:"orderDate"`
	ExpectedDate *string `json:"expectedDate,omitempty"`
	Total        float64 `json:"total"`
	Received     bool    `json:"received"`
	Notes        *string `json:"notes,omitempty"`
}

// PurchaseOrderItem is a line of a PurchaseOrder.
type PurchaseOrderItem struct {
	ID              string  `json:"id"`
	PurchaseOrderID string  `json:"purchaseOrderId"`
	ProductID       string  `json:"productId"`
	Quantity        float64 `json:"quantity"`
	UnitCost        float64 `json:"unitCost"`
	Total           float64 `json:"total"`
}

func (i PurchaseOrderItem) RecordID() string { return i.ID }
func (i PurchaseOrderItem) RecordVersion() int64 { return 0 }
func (i PurchaseOrderItem) RecordTimestamps() (string, string) { return "", "" }

// Change-log operations
const (
	OperationUpsert = "upsert"
)

// SyncRecord is a change-log entry marking a local mutation.
// SyncedAt is nil while the entry is pending.
type SyncRecord struct {
	ID         string     `json:"id"`
	EntityType Collection `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Operation  string     `json:"operation"`
	CreatedAt  time.Time  `json:"createdAt"`
	SyncedAt   *time.Time `json:"syncedAt,omitempty"`
}

// Pending reports whether the entry has not yet been flushed.
func (r SyncRecord) Pending() bool {
	return r.SyncedAt == nil
}

// Snapshot is an immutable bundle of every collection at one point in time.
// Transformations return new Snapshots; slices are never mutated in place.
type Snapshot struct {
	Customers          []Customer          `json:"customers"`
	Products           []Product           `json:"products"`
	SalesOrders        []SalesOrder        `json:"salesOrders"`
	SalesOrderItems    []SalesOrderItem    `json:"salesOrderItems"`
	PurchaseOrders     []PurchaseOrder     `json:"purchaseOrders"`
	PurchaseOrderItems []PurchaseOrderItem `json:"purchaseOrderItems"`
	SyncQueue          []SyncRecord        `json:"syncQueue"`
	Profile            json.RawMessage     `json:"profile,omitempty"`
	ExportedAt         time.Time           `json:"exportedAt"`
}

// Counts returns the number of records per collection.
func (s Snapshot) Counts() Counts {
	return Counts{
		Customers:          len(s.Customers),
		Products:           len(s.Products),
		SalesOrders:        len(s.SalesOrders),
		SalesOrderItems:    len(s.SalesOrderItems),
		PurchaseOrders:     len(s.PurchaseOrders),
		PurchaseOrderItems: len(s.PurchaseOrderItems),
		PendingChanges:     countPending(s.SyncQueue),
	}
}

func countPending(queue []SyncRecord) int {
	n := 0
	for _, r := range queue {
		if r.Pending() {
			n++
		}
	}
	return n
}

// Counts summarises collection sizes for display.
type Counts struct {
	Customers          int `json:"customers"`
	Products           int `json:"products"`
	SalesOrders        int `json:"salesOrders"`
	SalesOrderItems    int `json:"salesOrderItems"`
	PurchaseOrders     int `json:"purchaseOrders"`
	PurchaseOrderItems int `json:"purchaseOrderItems"`
	PendingChanges     int `json:"pendingChanges"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	SyncState  string     `json:"sync_state"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
}
