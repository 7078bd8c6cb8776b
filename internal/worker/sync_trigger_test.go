package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/ledger/internal/credential"
	"github.com/hyperengineering/ledger/internal/remote"
	ledgersync "github.com/hyperengineering/ledger/internal/sync"
)

// mockSyncer returns queued errors in order, then succeeds.
type mockSyncer struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	running bool
	called  chan struct{}
}

func newMockSyncer(errs ...error) *mockSyncer {
	return &mockSyncer{errs: errs, called: make(chan struct{}, 16)}
}

func (m *mockSyncer) Sync(ctx context.Context) (*ledgersync.Result, error) {
	m.mu.Lock()
	m.calls++
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	m.mu.Unlock()

	select {
	case m.called <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	return &ledgersync.Result{}, nil
}

func (m *mockSyncer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockSyncer) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockSyncer) waitForCalls(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for m.getCalls() < n {
		select {
		case <-deadline:
			return false
		case <-m.called:
		case <-time.After(5 * time.Millisecond):
		}
	}
	return true
}

func stepErr(state ledgersync.State, err error) error {
	return &ledgersync.StepError{State: state, Err: err}
}

func TestSyncTrigger_Fire_Retries(t *testing.T) {
	unavailable := &remote.HTTPError{Op: "upload", StatusCode: http.StatusServiceUnavailable, Body: "busy"}
	badRequest := &remote.HTTPError{Op: "upload", StatusCode: http.StatusBadRequest, Body: "bad"}

	tests := []struct {
		name      string
		errs      []error
		wantOK    bool
		wantCalls int
	}{
		{
			name:      "success first time",
			wantOK:    true,
			wantCalls: 1,
		},
		{
			name:      "server errors retried until success",
			errs:      []error{stepErr(ledgersync.StateUploading, unavailable), stepErr(ledgersync.StateFetchingRemote, unavailable)},
			wantOK:    true,
			wantCalls: 3,
		},
		{
			name:      "rate limit retried",
			errs:      []error{&remote.HTTPError{StatusCode: http.StatusTooManyRequests}},
			wantOK:    true,
			wantCalls: 2,
		},
		{
			name:      "client error not retried",
			errs:      []error{stepErr(ledgersync.StateUploading, badRequest)},
			wantOK:    false,
			wantCalls: 1,
		},
		{
			name:      "credential failure never retried",
			errs:      []error{stepErr(ledgersync.StateAcquiringCredential, fmt.Errorf("%w: refresh: %w", credential.ErrNoCredential, unavailable))},
			wantOK:    false,
			wantCalls: 1,
		},
		{
			name: "gives up after max retries",
			errs: []error{
				unavailable, unavailable, unavailable, unavailable, unavailable,
			},
			wantOK:    false,
			wantCalls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: A trigger allowing three retries
			m := newMockSyncer(tt.errs...)
			trig := NewSyncTrigger(m, time.Hour, 3, time.Millisecond)

			// When: It fires
			ok := trig.fire(context.Background())

			// Then
			if ok != tt.wantOK {
				t.Errorf("fire() = %v, want %v", ok, tt.wantOK)
			}
			if got := m.getCalls(); got != tt.wantCalls {
				t.Errorf("Sync calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestSyncTrigger_Fire_SkipsWhenIneligible(t *testing.T) {
	tests := []struct {
		name    string
		online  bool
		visible bool
		running bool
	}{
		{"offline", false, true, false},
		{"hidden", true, false, false},
		{"already running", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockSyncer()
			m.running = tt.running
			trig := NewSyncTrigger(m, time.Hour, 3, time.Millisecond)
			trig.SetOnline(tt.online)
			trig.SetVisible(tt.visible)

			if trig.fire(context.Background()) {
				t.Error("fire() = true, want skipped")
			}
			if got := m.getCalls(); got != 0 {
				t.Errorf("Sync calls = %d, want 0", got)
			}
		})
	}
}

func TestSyncTrigger_Fire_StopsRetryingWhenOffline(t *testing.T) {
	// Given: A syncer that fails transiently as connectivity drops
	m := newMockSyncer()
	trig := NewSyncTrigger(m, time.Hour, 3, time.Millisecond)
	trig.syncer = &offlineSyncer{mockSyncer: m, trig: trig}

	// When: It fires
	ok := trig.fire(context.Background())

	// Then: No retry was made
	if ok {
		t.Error("fire() = true, want false")
	}
	if got := m.getCalls(); got != 1 {
		t.Errorf("Sync calls = %d, want 1", got)
	}
}

// offlineSyncer fails transiently and drops connectivity on the way out.
type offlineSyncer struct {
	*mockSyncer
	trig *SyncTrigger
}

func (o *offlineSyncer) Sync(ctx context.Context) (*ledgersync.Result, error) {
	o.mockSyncer.Sync(ctx)
	o.trig.SetOnline(false)
	return nil, &remote.HTTPError{StatusCode: http.StatusBadGateway}
}

func TestSyncTrigger_Run_SyncsOnStart(t *testing.T) {
	m := newMockSyncer()
	trig := NewSyncTrigger(m, time.Hour, 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	if !m.waitForCalls(1, time.Second) {
		t.Fatal("no sync on start")
	}
}

func TestSyncTrigger_Run_SyncsWhenBackOnline(t *testing.T) {
	// Given: A trigger that starts offline
	m := newMockSyncer()
	trig := NewSyncTrigger(m, time.Hour, 0, time.Millisecond)
	trig.SetOnline(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	if got := m.getCalls(); got != 0 {
		t.Fatalf("Sync calls while offline = %d, want 0", got)
	}

	// When: Connectivity returns
	trig.SetOnline(true)

	// Then: A sync runs without waiting for the tick
	if !m.waitForCalls(1, time.Second) {
		t.Fatal("no sync after going online")
	}
}

func TestSyncTrigger_Run_SyncsWhenVisibleAgain(t *testing.T) {
	m := newMockSyncer()
	trig := NewSyncTrigger(m, time.Hour, 0, time.Millisecond)
	trig.SetVisible(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	trig.SetVisible(true)

	if !m.waitForCalls(1, time.Second) {
		t.Fatal("no sync after becoming visible")
	}
	if !trig.Visible() || !trig.Online() {
		t.Errorf("Visible/Online = %v/%v", trig.Visible(), trig.Online())
	}
}

func TestSyncTrigger_Run_Ticks(t *testing.T) {
	m := newMockSyncer()
	trig := NewSyncTrigger(m, 10*time.Millisecond, 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trig.Run(ctx)

	// Initial sync plus at least two ticks
	if !m.waitForCalls(3, time.Second) {
		t.Fatalf("Sync calls = %d, want >= 3", m.getCalls())
	}
}

func TestSyncTrigger_Run_StopsOnCancel(t *testing.T) {
	m := newMockSyncer()
	trig := NewSyncTrigger(m, time.Hour, 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		trig.Run(ctx)
		close(done)
	}()
	m.waitForCalls(1, time.Second)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSyncTrigger_NudgeCoalesces(t *testing.T) {
	trig := NewSyncTrigger(newMockSyncer(), time.Hour, 0, time.Millisecond)

	trig.Nudge()
	trig.Nudge()
	trig.Nudge()

	if n := len(trig.kick); n != 1 {
		t.Errorf("queued kicks = %d, want 1", n)
	}
}
