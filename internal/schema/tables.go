package schema

import "github.com/hyperengineering/ledger/internal/types"

func headerColumns() []Column {
	return []Column{
		{"id", Text},
		{"tenant_id", Text},
		{"created_at", Text},
		{"updated_at", Text},
		{"version", Integer},
	}
}

func headerValues(h types.Header) []any {
	return []any{h.ID, h.TenantID, h.CreatedAt, h.UpdatedAt, h.Version}
}

func readHeader(r Row) types.Header {
	return types.Header{
		ID:        r.Text("id"),
		TenantID:  r.Text("tenant_id"),
		CreatedAt: r.Text("created_at"),
		UpdatedAt: r.Text("updated_at"),
		Version:   r.Int("version"),
	}
}

// Customers maps types.Customer.
var Customers = Table[types.Customer]{
	Name: "customers",
	Columns: append(headerColumns(),
		Column{"name", Text},
		Column{"email", NullableText},
		Column{"phone", NullableText},
		Column{"address", NullableText},
		Column{"tax_id", NullableText},
		Column{"notes", NullableText},
	),
	Values: func(c types.Customer) []any {
		return append(headerValues(c.Header),
			c.Name, optText(c.Email), optText(c.Phone), optText(c.Address), optText(c.TaxID), optText(c.Notes))
	},
	Read: func(r Row) types.Customer {
		return types.Customer{
			Header:  readHeader(r),
			Name:    r.Text("name"),
			Email:   r.OptText("email"),
			Phone:   r.OptText("phone"),
			Address: r.OptText("address"),
			TaxID:   r.OptText("tax_id"),
			Notes:   r.OptText("notes"),
		}
	},
}

// Products maps types.Product.
var Products = Table[types.Product]{
	Name: "products",
	Columns: append(headerColumns(),
		Column{"name", Text},
		Column{"sku", Text},
		Column{"barcode", NullableText},
		Column{"description", NullableText},
		Column{"unit", Text},
		Column{"price", Real},
		Column{"cost", Real},
		Column{"stock_quantity", Real},
		Column{"reorder_level", Real},
		Column{"active", Bool},
	),
	Values: func(p types.Product) []any {
		return append(headerValues(p.Header),
			p.Name, p.SKU, optText(p.Barcode), optText(p.Description), p.Unit,
			p.Price, p.Cost, p.StockQuantity, p.ReorderLevel, boolInt(p.Active))
	},
	Read: func(r Row) types.Product {
		return types.Product{
			Header:        readHeader(r),
			Name:          r.Text("name"),
			SKU:           r.Text("sku"),
			Barcode:       r.OptText("barcode"),
			Description:   r.OptText("description"),
			Unit:          r.Text("unit"),
			Price:         r.Real("price"),
			Cost:          r.Real("cost"),
			StockQuantity: r.Real("stock_quantity"),
			ReorderLevel:  r.Real("reorder_level"),
			Active:        r.Bool("active"),
		}
	},
}

// SalesOrders maps types.SalesOrder.
var SalesOrders = Table[types.SalesOrder]{
	Name: "sales_orders",
	Columns: append(headerColumns(),
		Column{"order_number", Text},
		Column{"customer_id", NullableText},
		Column{"status", Text},
		Column{"order_date", Text},
		Column{"due_date", NullableText},
		Column{"subtotal", Real},
		Column{"tax", Real},
		Column{"discount", Real},
		Column{"total", Real},
		Column{"paid", Bool},
		Column{"notes", NullableText},
	),
	Values: func(o types.SalesOrder) []any {
		return append(headerValues(o.Header),
			o.OrderNumber, optText(o.CustomerID), o.Status, o.OrderDate, optText(o.DueDate),
			o.Subtotal, o.Tax, o.Discount, o.Total, boolInt(o.Paid), optText(o.Notes))
	},
	Read: func(r Row) types.SalesOrder {
		return types.SalesOrder{
			Header:      readHeader(r),
			OrderNumber: r.Text("order_number"),
			CustomerID:  r.OptText("customer_id"),
			Status:      r.Text("status"),
			OrderDate:   r.Text("order_date"),
			DueDate:     r.OptText("due_date"),
			Subtotal:    r.Real("subtotal"),
			Tax:         r.Real("tax"),
			Discount:    r.Real("discount"),
			Total:       r.Real("total"),
			Paid:        r.Bool("paid"),
			Notes:       r.OptText("notes"),
		}
	},
}

// SalesOrderItems maps types.SalesOrderItem.
var SalesOrderItems = Table[types.SalesOrderItem]{
	Name: "sales_order_items",
	Columns: []Column{
		{"id", Text},
		{"sales_order_id", Text},
		{"product_id", Text},
		{"description", NullableText},
		{"quantity", Real},
		{"unit_price", Real},
		{"total", Real},
	},
	Values: func(i types.SalesOrderItem) []any {
		return []any{i.ID, i.SalesOrderID, i.ProductID, optText(i.Description), i.Quantity, i.UnitPrice, i.Total}
	},
	Read: func(r Row) types.SalesOrderItem {
		return types.SalesOrderItem{
			ID:           r.Text("id"),
			SalesOrderID: r.Text("sales_order_id"),
			ProductID:    r.Text("product_id"),
			Description:  r.OptText("description"),
			Quantity:     r.Real("quantity"),
			UnitPrice:    r.Real("unit_price"),
			Total:        r.Real("total"),
		}
	},
}

// PurchaseOrders maps types.PurchaseOrder.
var PurchaseOrders = Table[types.PurchaseOrder]{
	Name: "purchase_orders",
	Columns: append(headerColumns(),
		Column{"order_number", Text},
		Column{"supplier_name", Text},
		Column{"status", Text},
		Column{"order_date", Text},
		Column{"expected_date", NullableText},
		Column{"total", Real},
		Column{"received", Bool},
		Column{"notes", NullableText},
	),
	Values: func(o types.PurchaseOrder) []any {
		return append(headerValues(o.Header),
			o.OrderNumber, o.SupplierName, o.Status, o.OrderDate, optText(o.ExpectedDate),
			o.Total, boolInt(o.Received), optText(o.Notes))
	},
	Read: func(r Row) types.PurchaseOrder {
		return types.PurchaseOrder{
			Header:       readHeader(r),
			OrderNumber:  r.Text("order_number"),
			SupplierName: r.Text("supplier_name"),
			Status:       r.Text("status"),
			OrderDate:    r.Text("order_date"),
			ExpectedDate: r.OptText("expected_date"),
			Total:        r.Real("total"),
			Received:     r.Bool("received"),
			Notes:        r.OptText("notes"),
		}
	},
}

// PurchaseOrderItems maps types.PurchaseOrderItem.
var PurchaseOrderItems = Table[types.PurchaseOrderItem]{
	Name: "purchase_order_items",
	Columns: []Column{
		{"id", Text},
		{"purchase_order_id", Text},
		{"product_id", Text},
		{"quantity", Real},
		{"unit_cost", Real},
		{"total", Real},
	},
	Values: func(i types.PurchaseOrderItem) []any {
		return []any{i.ID, i.PurchaseOrderID, i.ProductID, i.Quantity, i.UnitCost, i.Total}
	},
	Read: func(r Row) types.PurchaseOrderItem {
		return types.PurchaseOrderItem{
			ID:              r.Text("id"),
			PurchaseOrderID: r.Text("purchase_order_id"),
			ProductID:       r.Text("product_id"),
			Quantity:        r.Real("quantity"),
			UnitCost:        r.Real("unit_cost"),
			Total:           r.Real("total"),
		}
	},
}

// CreateStatements returns the DDL for every collection table.
func CreateStatements() []string {
	return []string{
		Customers.CreateSQL(),
		Products.CreateSQL(),
		SalesOrders.CreateSQL(),
		SalesOrderItems.CreateSQL(),
		PurchaseOrders.CreateSQL(),
		PurchaseOrderItems.CreateSQL(),
	}
}
