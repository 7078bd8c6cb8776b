package api

import (
	"net/http"
)

// SyncNow handles POST /api/v1/sync. A request arriving while a sync is in
// flight waits for that sync and returns its result.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncer.Sync(r.Context())
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncer.Status(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ConnectivityEvent is the body of POST /api/v1/events/connectivity.
type ConnectivityEvent struct {
	Online *bool `json:"online"`
}

// VisibilityEvent is the body of POST /api/v1/events/visibility.
type VisibilityEvent struct {
	Visible *bool `json:"visible"`
}

// Connectivity handles POST /api/v1/events/connectivity
func (h *Handler) Connectivity(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Background sync is disabled")
		return
	}
	var ev ConnectivityEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.Online == nil {
		WriteProblem(w, r, http.StatusBadRequest, "online is required")
		return
	}
	h.trigger.SetOnline(*ev.Online)
	w.WriteHeader(http.StatusAccepted)
}

// Visibility handles POST /api/v1/events/visibility
func (h *Handler) Visibility(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Background sync is disabled")
		return
	}
	var ev VisibilityEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.Visible == nil {
		WriteProblem(w, r, http.StatusBadRequest, "visible is required")
		return
	}
	h.trigger.SetVisible(*ev.Visible)
	w.WriteHeader(http.StatusAccepted)
}
