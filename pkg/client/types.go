package client

import (
	"fmt"
	"strings"
	"time"

	ledgersync "github.com/hyperengineering/ledger/internal/sync"
	"github.com/hyperengineering/ledger/internal/types"
)

// Record types shared with the server.
type (
	Header            = types.Header
	Customer          = types.Customer
	Product           = types.Product
	SalesOrder        = types.SalesOrder
	SalesOrderItem    = types.SalesOrderItem
	PurchaseOrder     = types.PurchaseOrder
	PurchaseOrderItem = types.PurchaseOrderItem
	Counts            = types.Counts
	Health            = types.HealthResponse
	SyncResult        = ledgersync.Result
	SyncStatus        = ledgersync.Status
)

// Config holds the client configuration
type Config struct {
	BaseURL string        // Ledger service URL, e.g. http://localhost:8080
	APIKey  string        // API key for authentication
	Timeout time.Duration // Per-request timeout (default: 2 minutes)
}

// FieldError names one invalid field in a rejected record.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response decoded from its problem document.
type APIError struct {
	Status int          `json:"status"`
	Title  string       `json:"title"`
	Detail string       `json:"detail"`
	Errors []FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ledger: %d %s", e.Status, e.Title)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if len(e.Errors) > 0 {
		fields := make([]string, len(e.Errors))
		for i, fe := range e.Errors {
			fields[i] = fe.Field
		}
		msg += " (" + strings.Join(fields, ", ") + ")"
	}
	return msg
}
