package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const testAPIKey = "test-secret-key-12345"

// okHandler records whether it was reached.
func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

// captureJSONLogs routes slog into a buffer of JSON lines for the test.
func captureJSONLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

// --- Auth ---

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCalled bool
	}{
		{"valid token", "Bearer " + testAPIKey, http.StatusOK, true},
		{"missing header", "", http.StatusUnauthorized, false},
		{"wrong token", "Bearer nope", http.StatusUnauthorized, false},
		{"no bearer prefix", testAPIKey, http.StatusUnauthorized, false},
		{"lowercase scheme", "bearer " + testAPIKey, http.StatusUnauthorized, false},
		{"empty token", "Bearer ", http.StatusUnauthorized, false},
		{"whitespace token", "Bearer    ", http.StatusUnauthorized, false},
		{"token with trailing space", "Bearer " + testAPIKey + "  ", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureJSONLogs(t)
			next, called := okHandler()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/counts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			AuthMiddleware(testAPIKey)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if *called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", *called, tt.wantCalled)
			}
		})
	}
}

func TestAuthMiddleware_ProblemResponse(t *testing.T) {
	logs := captureJSONLogs(t)
	next, _ := okHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	req.Header.Set("Authorization", "Bearer guess")
	w := httptest.NewRecorder()
	AuthMiddleware(testAPIKey)(next).ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Status != http.StatusUnauthorized || p.Type != "https://ledger.dev/errors/unauthorized" || p.Instance != "/api/v1/sync" {
		t.Errorf("problem = %+v", p)
	}

	// The expected key never leaves the process.
	if strings.Contains(w.Body.String(), testAPIKey) || strings.Contains(logs.String(), testAPIKey) {
		t.Error("API key leaked into response or logs")
	}
	if entry := lastLogEntry(t, logs); entry["action"] != "auth_failed" {
		t.Errorf("log entry = %v, want auth_failed", entry)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearerabc", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("same", "same") {
		t.Error("equal strings compared unequal")
	}
	if constantTimeEqual("same", "diff") || constantTimeEqual("short", "longer") || constantTimeEqual("", "x") {
		t.Error("unequal strings compared equal")
	}
}

// --- Logging ---

func TestLogLevelForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusAccepted, slog.LevelInfo},
		{http.StatusNotModified, slog.LevelInfo},
		{http.StatusBadRequest, slog.LevelWarn},
		{http.StatusConflict, slog.LevelWarn},
		{http.StatusInternalServerError, slog.LevelError},
		{http.StatusBadGateway, slog.LevelError},
	}

	for _, tt := range tests {
		if got := logLevelForStatus(tt.status); got != tt.want {
			t.Errorf("logLevelForStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success", http.StatusOK, "INFO"},
		{"client error", http.StatusUnprocessableEntity, "WARN"},
		{"upstream failure", http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureJSONLogs(t)
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			h := chiMiddleware.RequestID(LoggingMiddleware(inner))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
			req.Header.Set("Authorization", "Bearer "+testAPIKey)
			req.RemoteAddr = "192.0.2.7:5000"
			h.ServeHTTP(httptest.NewRecorder(), req)

			entry := lastLogEntry(t, logs)
			if entry["msg"] != "request completed" || entry["level"] != tt.wantLevel {
				t.Errorf("entry = %v, want %s 'request completed'", entry, tt.wantLevel)
			}
			if entry["status"] != float64(tt.status) || entry["path"] != "/api/v1/sync" || entry["method"] != "POST" {
				t.Errorf("entry = %v", entry)
			}
			if entry["remote_addr"] != "192.0.2.7:5000" {
				t.Errorf("remote_addr = %v", entry["remote_addr"])
			}
			if id, _ := entry["request_id"].(string); id == "" {
				t.Error("request_id missing")
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("duration_ms missing")
			}
			if strings.Contains(logs.String(), testAPIKey) {
				t.Error("Authorization header leaked into logs")
			}
		})
	}
}

func TestGetRequestID_NoMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

// --- Recovery ---

func TestRecoveryMiddleware(t *testing.T) {
	logs := captureJSONLogs(t)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret-db-password in panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/counts", nil)
	w := httptest.NewRecorder()
	RecoveryMiddleware(inner).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret-db-password") {
		t.Error("panic value leaked into response")
	}
	if !strings.Contains(logs.String(), "secret-db-password") || !strings.Contains(logs.String(), "panic recovered") {
		t.Error("panic not logged")
	}
}

func TestRecoveryMiddleware_PassesThrough(t *testing.T) {
	next, called := okHandler()
	w := httptest.NewRecorder()
	RecoveryMiddleware(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !*called || w.Code != http.StatusOK {
		t.Errorf("called = %v, status = %d", *called, w.Code)
	}
}

// --- Body limit ---

func TestMaxBodyMiddleware(t *testing.T) {
	var readErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/profile", strings.NewReader(strings.Repeat("x", 64)))
	w := httptest.NewRecorder()
	MaxBodyMiddleware(16)(inner).ServeHTTP(w, req)

	var tooLarge *http.MaxBytesError
	if !errors.As(readErr, &tooLarge) {
		t.Errorf("read error = %v, want *http.MaxBytesError", readErr)
	}
}
