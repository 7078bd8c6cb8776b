package sync

import (
	"fmt"
	"time"

	"github.com/hyperengineering/ledger/internal/merge"
	"github.com/hyperengineering/ledger/internal/types"
)

// State is a step of the sync state machine.
type State string

// Sync states, in traversal order. Failed is reachable from any step and
// holds until the next attempt starts.
const (
	StateIdle                State = "idle"
	StateAcquiringCredential State = "acquiring_credential"
	StateReadingLocal        State = "reading_local"
	StateFetchingRemote      State = "fetching_remote"
	StateMerging             State = "merging"
	StateApplyingLocal       State = "applying_local"
	StateUploading           State = "uploading"
	StateMarkingFlushed      State = "marking_flushed"
	StateFailed              State = "failed"
)

// Result describes a completed sync.
type Result struct {
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	DurationMS  int64        `json:"duration_ms"`
	RemoteFound bool         `json:"remote_found"`
	Merge       merge.Report `json:"merge,omitempty"`
	Counts      types.Counts `json:"counts"`
	Flushed     int          `json:"flushed"`

	// Shared is set when the result was delivered to more than one caller.
	Shared bool `json:"shared"`
}

// Status is the observable state of an Orchestrator.
type Status struct {
	State       State      `json:"state"`
	Running     bool       `json:"running"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	LastSynced  *time.Time `json:"last_synced,omitempty"`
	LastResult  *Result    `json:"last_result,omitempty"`
}

// StepError is returned when a step of the traversal fails.
type StepError struct {
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sync failed while %s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

