package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/ledger/internal/codec"
	"github.com/hyperengineering/ledger/internal/credential"
	"github.com/hyperengineering/ledger/internal/remote"
	"github.com/hyperengineering/ledger/internal/store"
	"github.com/hyperengineering/ledger/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	uri   string
	title string
}

var problemTypes = map[int]problemType{
	http.StatusBadRequest:            {"https://ledger.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:          {"https://ledger.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:              {"https://ledger.dev/errors/not-found", "Not Found"},
	http.StatusConflict:              {"https://ledger.dev/errors/conflict", "Conflict"},
	http.StatusRequestEntityTooLarge: {"https://ledger.dev/errors/too-large", "Request Entity Too Large"},
	http.StatusUnprocessableEntity:   {"https://ledger.dev/errors/validation-error", "Validation Error"},
	http.StatusInternalServerError:   {"https://ledger.dev/errors/internal-error", "Internal Server Error"},
	http.StatusBadGateway:            {"https://ledger.dev/errors/remote-failure", "Remote Failure"},
	http.StatusServiceUnavailable:    {"https://ledger.dev/errors/service-unavailable", "Service Unavailable"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{"https://ledger.dev/errors/unknown", http.StatusText(status)}
	}
	return Problem{
		Type:     pt.uri,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func encodeProblem(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	encodeProblem(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors carries per-field validation failures.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 response listing every invalid field.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	encodeProblem(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

// MapStoreError converts local store errors to Problem Details responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrStaleVersion):
		WriteProblem(w, r, http.StatusConflict, "Record was modified; reload and retry")
	case errors.Is(err, validation.ErrInvalidSnapshot):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

// MapSyncError converts a failed sync to a Problem Details response.
// Remote failures are reported as 502 with the upstream status.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *remote.HTTPError
	switch {
	case errors.Is(err, credential.ErrNoCredential):
		WriteProblem(w, r, http.StatusServiceUnavailable, "No remote credential available")
	case errors.Is(err, codec.ErrArchiveInvalid):
		WriteProblem(w, r, http.StatusBadGateway, "Remote archive is invalid")
	case errors.As(err, &httpErr):
		WriteProblem(w, r, http.StatusBadGateway,
			fmt.Sprintf("Remote %s failed with status %d", httpErr.Op, httpErr.StatusCode))
	case errors.Is(err, validation.ErrInvalidSnapshot):
		WriteProblem(w, r, http.StatusBadGateway, "Merged snapshot is invalid")
	case remote.IsRetryable(err):
		WriteProblem(w, r, http.StatusBadGateway, "Remote unreachable")
	default:
		WriteProblem(w, r, http.StatusInternalServerError, "Sync failed")
	}
}
