// Package sync reconciles the local dataset with the single shared remote
// archive.
//
// One sync attempt walks a fixed sequence of steps: acquire a credential,
// read the local dataset, fetch and decode the remote archive, merge, write
// the merged snapshot back locally, upload it, and mark the change-log
// entries read at the start as flushed. At most one attempt runs at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/ledger/internal/codec"
	"github.com/hyperengineering/ledger/internal/credential"
	"github.com/hyperengineering/ledger/internal/merge"
	"github.com/hyperengineering/ledger/internal/remote"
	"github.com/hyperengineering/ledger/internal/types"
)

// LocalStore is the local dataset as seen by the orchestrator.
type LocalStore interface {
	ReadSnapshot(ctx context.Context) (types.Snapshot, error)
	ApplySnapshot(ctx context.Context, snap types.Snapshot) error
	MarkSynced(ctx context.Context, ids []string, at time.Time) error
	LastSynced(ctx context.Context) (*time.Time, error)
	SetLastSynced(ctx context.Context, at time.Time) error
}

// Options tune an Orchestrator.
type Options struct {
	// CorruptRemoteAsAbsent treats an undecodable remote archive as if no
	// archive existed. The next upload then replaces it.
	CorruptRemoteAsAbsent bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

const flightKey = "sync"

// Orchestrator runs sync attempts.
type Orchestrator struct {
	creds   credential.Provider
	remotes remote.Factory
	local   LocalStore
	codec   *codec.Codec
	opts    Options

	flight  singleflight.Group
	running atomic.Bool

	mu         gosync.Mutex
	state      State
	lastErr    error
	lastErrAt  time.Time
	lastResult *Result
}

// NewOrchestrator wires an Orchestrator from its collaborators.
func NewOrchestrator(
	creds credential.Provider,
	remotes remote.Factory,
	local LocalStore,
	c *codec.Codec,
	opts Options,
) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		creds:   creds,
		remotes: remotes,
		local:   local,
		codec:   c,
		opts:    opts,
		state:   StateIdle,
	}
}

// Sync runs one attempt, or joins the attempt already in flight and returns
// its outcome. A started attempt runs to completion even if ctx is cancelled.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	v, err, shared := o.flight.Do(flightKey, func() (any, error) {
		return o.run(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	res.Shared = shared
	return &res, nil
}

// Running reports whether an attempt is in flight. Triggers use it to skip
// rather than join.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Status returns the current state, the last failure and the durable
// last-synced time.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	o.mu.Lock()
	st := Status{
		State:      o.state,
		Running:    o.running.Load(),
		LastResult: o.lastResult,
	}
	if o.lastErr != nil {
		at := o.lastErrAt
		st.LastError = o.lastErr.Error()
		st.LastErrorAt = &at
	}
	o.mu.Unlock()

	last, err := o.local.LastSynced(ctx)
	if err != nil {
		return st, fmt.Errorf("read last synced: %w", err)
	}
	st.LastSynced = last
	return st, nil
}

func (o *Orchestrator) run(ctx context.Context) (*Result, error) {
	o.running.Store(true)
	defer o.running.Store(false)

	started := o.opts.Now().UTC()
	slog.Info("sync started",
		"component", "sync",
		"action", "sync_started",
	)

	// 1. Credential.
	o.enter(StateAcquiringCredential)
	token, err := o.creds.Token(ctx)
	if err == nil && token == "" {
		err = credential.ErrNoCredential
	}
	if err != nil {
		return nil, o.fail(StateAcquiringCredential, err)
	}

	// 2-3. Local snapshot and the pending entries this attempt may flush.
	o.enter(StateReadingLocal)
	local, err := o.local.ReadSnapshot(ctx)
	if err != nil {
		return nil, o.fail(StateReadingLocal, err)
	}
	pending := pendingIDs(local.SyncQueue)

	// 4. Remote snapshot, if any.
	o.enter(StateFetchingRemote)
	rs, err := o.remotes(token)
	if err != nil {
		return nil, o.fail(StateFetchingRemote, err)
	}
	containerID, err := rs.EnsureContainer(ctx)
	if err != nil {
		return nil, o.fail(StateFetchingRemote, fmt.Errorf("ensure container: %w", err))
	}
	remoteSnap, err := o.fetchRemote(ctx, rs, containerID)
	if err != nil {
		return nil, o.fail(StateFetchingRemote, err)
	}

	// 5. Merge.
	o.enter(StateMerging)
	merged := local
	var report merge.Report
	if remoteSnap != nil {
		merged, report = merge.MergeAt(local, *remoteSnap, o.opts.Now())
	}

	// 6. Local apply, all collections at once.
	o.enter(StateApplyingLocal)
	if err := o.local.ApplySnapshot(ctx, merged); err != nil {
		return nil, o.fail(StateApplyingLocal, err)
	}

	// 7. Upload.
	o.enter(StateUploading)
	data, err := o.codec.Encode(ctx, merged)
	if err != nil {
		return nil, o.fail(StateUploading, fmt.Errorf("encode archive: %w", err))
	}
	if err := rs.Upload(ctx, containerID, data); err != nil {
		return nil, o.fail(StateUploading, fmt.Errorf("upload archive: %w", err))
	}

	// 8-9. Flush the entries read in step 2, then record completion.
	o.enter(StateMarkingFlushed)
	finished := o.opts.Now().UTC()
	if err := o.local.MarkSynced(ctx, pending, finished); err != nil {
		return nil, o.fail(StateMarkingFlushed, err)
	}
	if err := o.local.SetLastSynced(ctx, finished); err != nil {
		return nil, o.fail(StateMarkingFlushed, err)
	}

	counts := merged.Counts()
	// The entries counted here were flushed above.
	counts.PendingChanges = 0

	res := &Result{
		StartedAt:   started,
		FinishedAt:  finished,
		DurationMS:  finished.Sub(started).Milliseconds(),
		RemoteFound: remoteSnap != nil,
		Merge:       report,
		Counts:      counts,
		Flushed:     len(pending),
	}

	o.mu.Lock()
	o.state = StateIdle
	o.lastErr = nil
	o.lastResult = res
	o.mu.Unlock()

	slog.Info("sync completed",
		"component", "sync",
		"action", "sync_completed",
		"remote_found", res.RemoteFound,
		"conflicts", report.Conflicts(),
		"flushed", res.Flushed,
		"archive_bytes", len(data),
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

// fetchRemote returns the decoded remote snapshot, or nil when the
// container holds no archive.
func (o *Orchestrator) fetchRemote(ctx context.Context, rs remote.Store, containerID string) (*types.Snapshot, error) {
	art, err := rs.LocateArtifact(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("locate artifact: %w", err)
	}
	if art == nil {
		slog.Info("no remote archive",
			"component", "sync",
			"action", "remote_absent",
		)
		return nil, nil
	}

	data, err := rs.Download(ctx, art.ID)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}

	snap, err := o.codec.Decode(ctx, data)
	if err != nil {
		if errors.Is(err, codec.ErrArchiveInvalid) && o.opts.CorruptRemoteAsAbsent {
			slog.Warn("remote archive invalid, treating as absent",
				"component", "sync",
				"action", "remote_corrupt",
				"artifact_id", art.ID,
				"error", err,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &snap, nil
}

func (o *Orchestrator) enter(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	slog.Debug("sync step",
		"component", "sync",
		"state", string(s),
	)
}

func (o *Orchestrator) fail(s State, err error) error {
	stepErr := &StepError{State: s, Err: err}

	o.mu.Lock()
	o.state = StateFailed
	o.lastErr = stepErr
	o.lastErrAt = o.opts.Now().UTC()
	o.mu.Unlock()

	slog.Error("sync failed",
		"component", "sync",
		"action", "sync_failed",
		"state", string(s),
		"error", err,
	)
	return stepErr
}

func pendingIDs(queue []types.SyncRecord) []string {
	ids := make([]string, 0, len(queue))
	for _, r := range queue {
		if r.Pending() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
