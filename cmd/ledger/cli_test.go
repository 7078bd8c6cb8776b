package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/ledger/internal/codec"
	"github.com/hyperengineering/ledger/internal/config"
	"github.com/hyperengineering/ledger/internal/credential"
	"github.com/hyperengineering/ledger/internal/remote"
	"github.com/hyperengineering/ledger/internal/remote/drivetest"
	"github.com/hyperengineering/ledger/internal/store"
	ledgersync "github.com/hyperengineering/ledger/internal/sync"
	"github.com/hyperengineering/ledger/internal/types"
	"github.com/hyperengineering/ledger/internal/worker"
)

const testToken = "cli-test-token"

// executeCmd executes a subcommand with captured output.
func executeCmd(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	// Cobra parses into package-level variables, so stale values from
	// previous tests would leak if not reset.
	configPath = ""
	jsonOutput = false

	outBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), err
}

// setupEnv points the CLI at a fresh database and, when srv is non-nil, at
// a fake Drive holding testToken. It returns the database path.
func setupEnv(t *testing.T, srv *drivetest.Server) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")

	t.Setenv("LEDGER_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("LEDGER_DB_PATH", dbPath)
	t.Setenv("LEDGER_TEMP_DIR", dir)
	t.Setenv("LEDGER_LOG_LEVEL", "error")
	t.Setenv("LEDGER_ACCESS_TOKEN", "")
	t.Setenv("LEDGER_OAUTH_REFRESH_TOKEN", "")
	t.Setenv("LEDGER_BACKUP_DIR", "")
	if srv != nil {
		t.Setenv("LEDGER_ACCESS_TOKEN", testToken)
		t.Setenv("LEDGER_DRIVE_API_BASE", srv.APIBase())
		t.Setenv("LEDGER_DRIVE_UPLOAD_BASE", srv.UploadBase())
	}
	return dbPath
}

func seedCustomer(t *testing.T, dbPath, name string) {
	t.Helper()
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if _, err := s.SaveCustomer(context.Background(), types.Customer{Name: name}); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}
}

// --- Sync ---

func TestSync_CreatesRemoteArchive(t *testing.T) {
	// Given: A local database with one unsynced customer
	srv := drivetest.NewServer(t, testToken)
	dbPath := setupEnv(t, srv)
	seedCustomer(t, dbPath, "Acme")

	// When: A one-shot sync runs
	stdout, err := executeCmd(t, "sync", "--json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Then: The archive is created and the change is flushed
	var res ledgersync.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if res.RemoteFound || res.Flushed != 1 || res.Counts.Customers != 1 {
		t.Errorf("result = %+v", res)
	}
	if files := srv.Files(remote.ArtifactName); len(files) != 1 {
		t.Errorf("remote artifacts = %d, want 1", len(files))
	}
}

func TestSync_TextOutputAfterMerge(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	dbPath := setupEnv(t, srv)
	seedCustomer(t, dbPath, "Acme")
	if _, err := executeCmd(t, "sync"); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	stdout, err := executeCmd(t, "sync")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	for _, want := range []string{"remote archive merged", "Flushed 0 pending changes", "customers"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout = %q, want it to contain %q", stdout, want)
		}
	}
}

func TestSync_NoCredential(t *testing.T) {
	setupEnv(t, nil)

	_, err := executeCmd(t, "sync")

	if !errors.Is(err, credential.ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
	var stepErr *ledgersync.StepError
	if !errors.As(err, &stepErr) || stepErr.State != ledgersync.StateAcquiringCredential {
		t.Errorf("err = %v, want failure while acquiring credential", err)
	}
}

// --- Status ---

func TestStatus_NeverSynced(t *testing.T) {
	dbPath := setupEnv(t, nil)
	seedCustomer(t, dbPath, "Acme")

	stdout, err := executeCmd(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	for _, want := range []string{"Last synced: never", "1 change awaiting sync", "customers"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout = %q, want it to contain %q", stdout, want)
		}
	}
}

func TestStatus_JSONAfterSync(t *testing.T) {
	srv := drivetest.NewServer(t, testToken)
	dbPath := setupEnv(t, srv)
	seedCustomer(t, dbPath, "Acme")
	if _, err := executeCmd(t, "sync"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stdout, err := executeCmd(t, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	var got struct {
		LastSynced *string      `json:"last_synced"`
		Counts     types.Counts `json:"counts"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if got.LastSynced == nil {
		t.Error("last_synced missing after a successful sync")
	}
	if got.Counts.Customers != 1 || got.Counts.PendingChanges != 0 {
		t.Errorf("counts = %+v", got.Counts)
	}
}

// --- Archive ---

func TestArchive_ExportThenInspect(t *testing.T) {
	dbPath := setupEnv(t, nil)
	seedCustomer(t, dbPath, "Acme")
	seedCustomer(t, dbPath, "Globex")
	file := filepath.Join(t.TempDir(), "export.zip")

	stdout, err := executeCmd(t, "archive", "export", file)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(stdout, "Wrote "+file) {
		t.Errorf("stdout = %q", stdout)
	}

	stdout, err = executeCmd(t, "archive", "inspect", file, "--json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var got struct {
		Counts types.Counts `json:"counts"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	// The change log stays on the device.
	if got.Counts.Customers != 2 || got.Counts.PendingChanges != 0 {
		t.Errorf("counts = %+v", got.Counts)
	}
}

func TestArchiveInspect_InvalidFile(t *testing.T) {
	setupEnv(t, nil)
	file := filepath.Join(t.TempDir(), "junk.zip")
	if err := os.WriteFile(file, []byte("not an archive"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := executeCmd(t, "archive", "inspect", file)

	if !errors.Is(err, codec.ErrArchiveInvalid) {
		t.Errorf("err = %v, want ErrArchiveInvalid", err)
	}
}

func TestArchiveInspect_MissingFile(t *testing.T) {
	setupEnv(t, nil)

	_, err := executeCmd(t, "archive", "inspect", filepath.Join(t.TempDir(), "nope.zip"))

	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestArchiveBackups(t *testing.T) {
	dbPath := setupEnv(t, nil)
	seedCustomer(t, dbPath, "Acme")
	dir := filepath.Join(t.TempDir(), "backups")
	t.Setenv("LEDGER_BACKUP_DIR", dir)

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	w := worker.NewBackupWorker(db, codec.New(t.TempDir()), dir, time.Hour, 5)
	_, _, err = w.Backup(context.Background())
	db.Close()
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	stdout, err := executeCmd(t, "archive", "backups", "--json")
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	var got struct {
		Total   int `json:"total"`
		Backups []struct {
			Name      string    `json:"name"`
			SizeBytes int64     `json:"size_bytes"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"backups"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if got.Total != 1 || got.Backups[0].SizeBytes == 0 || got.Backups[0].CreatedAt.IsZero() {
		t.Errorf("backups = %+v", got)
	}
}

func TestArchiveBackups_Disabled(t *testing.T) {
	setupEnv(t, nil)

	_, err := executeCmd(t, "archive", "backups")

	if err == nil || !strings.Contains(err.Error(), "LEDGER_BACKUP_DIR") {
		t.Errorf("err = %v, want backups disabled", err)
	}
}

// --- Wiring ---

func TestNewCredential(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.CredentialsConfig
		wantType string
	}{
		{"access token", config.CredentialsConfig{AccessToken: "tok"}, "static"},
		{"nothing configured", config.CredentialsConfig{}, "static"},
		{"refresh token", config.CredentialsConfig{OAuth: config.OAuthConfig{RefreshToken: "r"}}, "oauth2"},
		{"access token wins", config.CredentialsConfig{AccessToken: "tok", OAuth: config.OAuthConfig{RefreshToken: "r"}}, "static"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := "oauth2"
			if _, ok := newCredential(tt.cfg).(credential.Static); ok {
				got = "static"
			}
			if got != tt.wantType {
				t.Errorf("newCredential() = %s, want %s", got, tt.wantType)
			}
		})
	}
}

func TestLogFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", "json"},
		{"text", "text"},
		{"auto", "json"}, // a buffer is never a terminal
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := logFormat(tt.format, new(bytes.Buffer)); got != tt.want {
				t.Errorf("logFormat(%q) = %q, want %q", tt.format, got, tt.want)
			}
		})
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("log output = %q", buf.String())
	}
}
