package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/ledger/internal/store"
	ledgersync "github.com/hyperengineering/ledger/internal/sync"
	"github.com/hyperengineering/ledger/internal/types"
	"github.com/hyperengineering/ledger/internal/validation"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// Syncer runs and reports syncs. Implemented by ledgersync.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context) (*ledgersync.Result, error)
	Status(ctx context.Context) (ledgersync.Status, error)
}

// Trigger receives connectivity and visibility transitions.
// Implemented by worker.SyncTrigger.
type Trigger interface {
	SetOnline(online bool)
	SetVisible(visible bool)
}

// Handler implements the API handlers
type Handler struct {
	store   store.Store
	syncer  Syncer
	trigger Trigger
	apiKey  string
	version string
}

// NewHandler creates a new Handler. trigger may be nil when background
// sync is disabled.
func NewHandler(s store.Store, sy Syncer, trigger Trigger, apiKey, version string) *Handler {
	return &Handler{
		store:   s,
		syncer:  sy,
		trigger: trigger,
		apiKey:  apiKey,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// decodeBody decodes the JSON request body into dst, writing a problem
// response and returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncer.Status(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Local store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		SyncState:  string(st.State),
		LastSynced: st.LastSynced,
	})
}

// Counts handles GET /api/v1/counts
func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Counts(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PutProfile handles PUT /api/v1/profile
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var profile json.RawMessage
	if !decodeBody(w, r, &profile) {
		return
	}
	if err := h.store.SetProfile(r.Context(), profile); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID copies the {id} URL parameter into id, rejecting a body id that
// names a different record.
func pathID(w http.ResponseWriter, r *http.Request, id *string) bool {
	want := chi.URLParam(r, "id")
	if *id != "" && *id != want {
		WriteProblem(w, r, http.StatusBadRequest, "Body id does not match URL")
		return false
	}
	*id = want
	return true
}

// PutCustomer handles PUT /api/v1/customers/{id}
func (h *Handler) PutCustomer(w http.ResponseWriter, r *http.Request) {
	var c types.Customer
	if !decodeBody(w, r, &c) || !pathID(w, r, &c.ID) {
		return
	}
	if errs := validation.ValidateCustomer(c); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Customer contains invalid fields", errs)
		return
	}

	saved, err := h.store.SaveCustomer(r.Context(), c)
	if err != nil {
		logSaveFailure(types.CollectionCustomers, c.ID, err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// PutProduct handles PUT /api/v1/products/{id}
func (h *Handler) PutProduct(w http.ResponseWriter, r *http.Request) {
	var p types.Product
	if !decodeBody(w, r, &p) || !pathID(w, r, &p.ID) {
		return
	}
	if errs := validation.ValidateProduct(p); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Product contains invalid fields", errs)
		return
	}

	saved, err := h.store.SaveProduct(r.Context(), p)
	if err != nil {
		logSaveFailure(types.CollectionProducts, p.ID, err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// SalesOrderRequest is the body of PUT /api/v1/sales-orders/{id}.
type SalesOrderRequest struct {
	Order types.SalesOrder       `json:"order"`
	Items []types.SalesOrderItem `json:"items"`
}

// PutSalesOrder handles PUT /api/v1/sales-orders/{id}
func (h *Handler) PutSalesOrder(w http.ResponseWriter, r *http.Request) {
	var req SalesOrderRequest
	if !decodeBody(w, r, &req) || !pathID(w, r, &req.Order.ID) {
		return
	}
	if errs := validation.ValidateSalesOrder(req.Order, req.Items); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Sales order contains invalid fields", errs)
		return
	}

	order, items, err := h.store.SaveSalesOrder(r.Context(), req.Order, req.Items)
	if err != nil {
		logSaveFailure(types.CollectionSalesOrders, req.Order.ID, err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SalesOrderRequest{Order: order, Items: items})
}

// PurchaseOrderRequest is the body of PUT /api/v1/purchase-orders/{id}.
type PurchaseOrderRequest struct {
	Order types.PurchaseOrder       `json:"order"`
	Items []types.PurchaseOrderItem `json:"items"`
}

// PutPurchaseOrder handles PUT /api/v1/purchase-orders/{id}
func (h *Handler) PutPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req PurchaseOrderRequest
	if !decodeBody(w, r, &req) || !pathID(w, r, &req.Order.ID) {
		return
	}
	if errs := validation.ValidatePurchaseOrder(req.Order, req.Items); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Purchase order contains invalid fields", errs)
		return
	}

	order, items, err := h.store.SavePurchaseOrder(r.Context(), req.Order, req.Items)
	if err != nil {
		logSaveFailure(types.CollectionPurchaseOrders, req.Order.ID, err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseOrderRequest{Order: order, Items: items})
}

func logSaveFailure(coll types.Collection, id string, err error) {
	if errors.Is(err, store.ErrStaleVersion) {
		return
	}
	slog.Error("save failed",
		"component", "api",
		"action", "save_failed",
		"collection", string(coll),
		"id", id,
		"error", err,
	)
}
