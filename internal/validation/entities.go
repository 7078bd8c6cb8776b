package validation

import (
	"fmt"

	"github.com/hyperengineering/ledger/internal/types"
)

// Field limits for entity payloads.
const (
	MaxNameLength    = 200
	MaxShortLength   = 64
	MaxNotesLength   = 4000
	MaxItemsPerOrder = 500
)

// SalesOrderStatuses and PurchaseOrderStatuses are the accepted order states.
var (
	SalesOrderStatuses    = []string{"draft", "confirmed", "shipped", "completed", "cancelled"}
	PurchaseOrderStatuses = []string{"draft", "ordered", "received", "cancelled"}
)

func validateHeader(c *Collector, h types.Header) {
	c.Add(ValidateUUID("id", h.ID))
	ValidateText(c, "tenantId", h.TenantID, MaxShortLength)
}

// ValidateCustomer returns every problem with c.
func ValidateCustomer(cust types.Customer) []ValidationError {
	var c Collector
	validateHeader(&c, cust.Header)
	c.Add(ValidateRequired("name", cust.Name))
	ValidateText(&c, "name", cust.Name, MaxNameLength)
	ValidateOptionalText(&c, "email", cust.Email, MaxNameLength)
	ValidateOptionalText(&c, "phone", cust.Phone, MaxShortLength)
	ValidateOptionalText(&c, "address", cust.Address, MaxNotesLength)
	ValidateOptionalText(&c, "taxId", cust.TaxID, MaxShortLength)
	ValidateOptionalText(&c, "notes", cust.Notes, MaxNotesLength)
	return c.Errors()
}

// ValidateProduct returns every problem with p.
func ValidateProduct(p types.Product) []ValidationError {
	var c Collector
	validateHeader(&c, p.Header)
	c.Add(ValidateRequired("name", p.Name))
	ValidateText(&c, "name", p.Name, MaxNameLength)
	c.Add(ValidateRequired("sku", p.SKU))
	ValidateText(&c, "sku", p.SKU, MaxShortLength)
	ValidateOptionalText(&c, "barcode", p.Barcode, MaxShortLength)
	ValidateOptionalText(&c, "description", p.Description, MaxNotesLength)
	ValidateText(&c, "unit", p.Unit, MaxShortLength)
	c.Add(ValidateNonNegative("price", p.Price))
	c.Add(ValidateNonNegative("cost", p.Cost))
	c.Add(ValidateNonNegative("reorderLevel", p.ReorderLevel))
	return c.Errors()
}

// ValidateSalesOrder returns every problem with the order and its items.
func ValidateSalesOrder(o types.SalesOrder, items []types.SalesOrderItem) []ValidationError {
	var c Collector
	validateHeader(&c, o.Header)
	c.Add(ValidateRequired("orderNumber", o.OrderNumber))
	ValidateText(&c, "orderNumber", o.OrderNumber, MaxShortLength)
	if o.CustomerID != nil {
		c.Add(ValidateUUID("customerId", *o.CustomerID))
	}
	c.Add(ValidateEnum("status", o.Status, SalesOrderStatuses))
	c.Add(ValidateRequired("orderDate", o.OrderDate))
	ValidateText(&c, "orderDate", o.OrderDate, MaxShortLength)
	ValidateOptionalText(&c, "dueDate", o.DueDate, MaxShortLength)
	ValidateOptionalText(&c, "notes", o.Notes, MaxNotesLength)
	c.Add(ValidateNonNegative("subtotal", o.Subtotal))
	c.Add(ValidateNonNegative("tax", o.Tax))
	c.Add(ValidateNonNegative("discount", o.Discount))
	c.Add(ValidateNonNegative("total", o.Total))

	validateItemCount(&c, len(items))
	for i, it := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if it.ID != "" {
			c.Add(ValidateUUID(prefix+".id", it.ID))
		}
		c.Add(ValidateUUID(prefix+".productId", it.ProductID))
		ValidateOptionalText(&c, prefix+".description", it.Description, MaxNotesLength)
		c.Add(ValidateNonNegative(prefix+".quantity", it.Quantity))
		c.Add(ValidateNonNegative(prefix+".unitPrice", it.UnitPrice))
	}
	return c.Errors()
}

// ValidatePurchaseOrder returns every problem with the order and its items.
func ValidatePurchaseOrder(o types.PurchaseOrder, items []types.PurchaseOrderItem) []ValidationError {
	var c Collector
	validateHeader(&c, o.Header)
	c.Add(ValidateRequired("orderNumber", o.OrderNumber))
	ValidateText(&c, "orderNumber", o.OrderNumber, MaxShortLength)
	c.Add(ValidateRequired("supplierName", o.SupplierName))
	ValidateText(&c, "supplierName", o.SupplierName, MaxNameLength)
	c.Add(ValidateEnum("status", o.Status, PurchaseOrderStatuses))
	c.Add(ValidateRequired("orderDate", o.OrderDate))
	ValidateText(&c, "orderDate", o.OrderDate, MaxShortLength)
	ValidateOptionalText(&c, "expectedDate", o.ExpectedDate, MaxShortLength)
	ValidateOptionalText(&c, "notes", o.Notes, MaxNotesLength)
	c.Add(ValidateNonNegative("total", o.Total))

	validateItemCount(&c, len(items))
	for i, it := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if it.ID != "" {
			c.Add(ValidateUUID(prefix+".id", it.ID))
		}
		c.Add(ValidateUUID(prefix+".productId", it.ProductID))
		c.Add(ValidateNonNegative(prefix+".quantity", it.Quantity))
		c.Add(ValidateNonNegative(prefix+".unitCost", it.UnitCost))
	}
	return c.Errors()
}

func validateItemCount(c *Collector, n int) {
	if n > MaxItemsPerOrder {
		c.Add(&ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("exceeds maximum of %d items", MaxItemsPerOrder),
		})
	}
}
