package worker

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/ledger/internal/credential"
	"github.com/hyperengineering/ledger/internal/remote"
	ledgersync "github.com/hyperengineering/ledger/internal/sync"
)

// Syncer runs sync attempts. Implemented by ledgersync.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context) (*ledgersync.Result, error)
	Running() bool
}

// SyncTrigger starts syncs opportunistically: on every interval tick, when
// connectivity is regained and when the application becomes visible. It
// fires only while online and visible and never joins a running sync.
type SyncTrigger struct {
	syncer     Syncer
	interval   time.Duration
	maxRetries uint64
	baseDelay  time.Duration

	mu      gosync.Mutex
	online  bool
	visible bool
	kick    chan struct{}
}

// NewSyncTrigger creates a trigger that starts online and visible.
// Retryable failures are retried up to maxRetries times with exponential
// backoff starting at baseDelay.
func NewSyncTrigger(
	s Syncer,
	interval time.Duration,
	maxRetries uint64,
	baseDelay time.Duration,
) *SyncTrigger {
	return &SyncTrigger{
		syncer:     s,
		interval:   interval,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		online:     true,
		visible:    true,
		kick:       make(chan struct{}, 1),
	}
}

// SetOnline records a connectivity transition. Going online requests a sync.
func (t *SyncTrigger) SetOnline(online bool) {
	t.mu.Lock()
	changed := t.online != online
	t.online = online
	t.mu.Unlock()

	slog.Info("connectivity changed",
		"component", "worker",
		"worker", "sync-trigger",
		"action", "connectivity_changed",
		"online", online,
	)
	if changed && online {
		t.Nudge()
	}
}

// SetVisible records a visibility transition. Becoming visible requests a sync.
func (t *SyncTrigger) SetVisible(visible bool) {
	t.mu.Lock()
	changed := t.visible != visible
	t.visible = visible
	t.mu.Unlock()

	if changed && visible {
		t.Nudge()
	}
}

// Nudge requests a sync on the next loop iteration. Requests made while one
// is already queued are coalesced.
func (t *SyncTrigger) Nudge() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Online reports the last recorded connectivity.
func (t *SyncTrigger) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Visible reports the last recorded visibility.
func (t *SyncTrigger) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

func (t *SyncTrigger) eligible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online && t.visible
}

// Run starts the trigger loop. Blocks until ctx is cancelled.
func (t *SyncTrigger) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-trigger",
		"action", "worker_started",
		"interval", t.interval.String(),
	)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Sync immediately on start
	t.fire(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-trigger",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			t.fire(ctx)
		case <-t.kick:
			t.fire(ctx)
		}
	}
}

// fire runs one sync with retries. It returns false when the sync was
// skipped or ultimately failed.
func (t *SyncTrigger) fire(ctx context.Context) bool {
	if !t.eligible() {
		slog.Debug("sync skipped",
			"component", "worker",
			"worker", "sync-trigger",
			"reason", "offline_or_hidden",
		)
		return false
	}
	if t.syncer.Running() {
		slog.Debug("sync skipped",
			"component", "worker",
			"worker", "sync-trigger",
			"reason", "already_running",
		)
		return false
	}

	b := retry.WithMaxRetries(t.maxRetries, retry.NewExponential(t.baseDelay))
	attempt := 0
	skipped := false
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && !t.eligible() {
			skipped = true
			return nil
		}
		_, err := t.syncer.Sync(ctx)
		if err == nil {
			return nil
		}
		if retryable(err) {
			slog.Warn("sync failed, will retry",
				"component", "worker",
				"worker", "sync-trigger",
				"action", "sync_retry",
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return false // Graceful shutdown, don't log as error
		}
		slog.Error("sync failed",
			"component", "worker",
			"worker", "sync-trigger",
			"action", "sync_failed",
			"attempts", attempt,
			"error", err,
		)
		return false
	}
	return !skipped
}

// retryable reports whether a failed sync may succeed if repeated.
// Credential failures never are.
func retryable(err error) bool {
	if errors.Is(err, credential.ErrNoCredential) {
		return false
	}
	return remote.IsRetryable(err)
}
