package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/ledger/internal/api"
	"github.com/hyperengineering/ledger/internal/codec"
	"github.com/hyperengineering/ledger/internal/config"
	"github.com/hyperengineering/ledger/internal/credential"
	"github.com/hyperengineering/ledger/internal/remote"
	"github.com/hyperengineering/ledger/internal/store"
	ledgersync "github.com/hyperengineering/ledger/internal/sync"
	"github.com/hyperengineering/ledger/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ledger",
	Short:        "Ledger - offline-first business records with remote sync",
	RunE:         run,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run background sync (default)",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides LEDGER_CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(archiveCmd)
}

// loadConfig honours --config, falling back to LEDGER_CONFIG_PATH.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stdout))
	slog.Info("configuration loaded", "level", cfg.Log.Level, "backend", cfg.Remote.Backend)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	orch, err := newOrchestrator(cfg, db)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("orchestrator initialized")

	var wg sync.WaitGroup
	var trigger api.Trigger
	if cfg.Sync.Enabled {
		t := worker.NewSyncTrigger(orch,
			time.Duration(cfg.Sync.Interval),
			uint64(cfg.Sync.RetryAttempts),
			time.Duration(cfg.Sync.RetryBaseDelay))
		trigger = t
		startWorker(ctx, &wg, "sync", t.Run)
	}
	if cfg.Backup.Dir != "" {
		b := worker.NewBackupWorker(db, codec.New(cfg.Database.TempDir),
			cfg.Backup.Dir, time.Duration(cfg.Backup.Interval), cfg.Backup.Keep)
		startWorker(ctx, &wg, "backup", b.Run)
	}

	handler := api.NewHandler(db, orch, trigger, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// A sync already in flight finishes before the store closes.
	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newOrchestrator wires the sync pipeline against db.
func newOrchestrator(cfg *config.Config, db *store.SQLiteStore) (*ledgersync.Orchestrator, error) {
	remotes, err := remote.NewFactory(remoteConfig(cfg), db)
	if err != nil {
		return nil, err
	}
	return ledgersync.NewOrchestrator(
		newCredential(cfg.Credentials),
		remotes,
		db,
		codec.New(cfg.Database.TempDir),
		ledgersync.Options{CorruptRemoteAsAbsent: cfg.Sync.CorruptRemoteAsAbsent},
	), nil
}

func remoteConfig(cfg *config.Config) remote.Config {
	return remote.Config{
		Backend: cfg.Remote.Backend,
		Drive: remote.DriveConfig{
			APIBase:       cfg.Remote.Drive.APIBase,
			UploadBase:    cfg.Remote.Drive.UploadBase,
			ContainerName: cfg.Remote.ContainerName,
			Timeout:       time.Duration(cfg.Remote.Timeout),
		},
		S3: remote.S3Config{
			Endpoint:  cfg.Remote.S3.Endpoint,
			Region:    cfg.Remote.S3.Region,
			Bucket:    cfg.Remote.S3.Bucket,
			Prefix:    cfg.Remote.S3.Prefix,
			AccessKey: cfg.Remote.S3.AccessKey,
			UseSSL:    cfg.Remote.S3.UseSSL,
		},
	}
}

// newCredential prefers a static access token over the refresh flow. With
// neither configured every sync fails with credential.ErrNoCredential.
func newCredential(c config.CredentialsConfig) credential.Provider {
	if c.AccessToken != "" || c.OAuth.RefreshToken == "" {
		return credential.Static(c.AccessToken)
	}
	return credential.NewOAuth2(credential.OAuth2Config{
		ClientID:     c.OAuth.ClientID,
		ClientSecret: c.OAuth.ClientSecret,
		RefreshToken: c.OAuth.RefreshToken,
		TokenURL:     c.OAuth.TokenURL,
		Scopes:       c.OAuth.Scopes,
	})
}

// newLogger builds the process logger. Format "auto" writes text to a
// terminal and JSON otherwise.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if logFormat(cfg.Format, w) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func logFormat(format string, w io.Writer) string {
	if format != "auto" {
		return format
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "text"
	}
	return "json"
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
