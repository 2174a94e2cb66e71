package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	// RunStatusCompleted means the fetch stage completed, regardless of
	// how many individual records succeeded. "Zero new records" and
	// "every record errored" both finish as completed.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed means an unrecoverable run-level condition, e.g.
	// the store was unreachable for the whole run.
	RunStatusFailed RunStatus = "failed"
)

// RunState tracks where the orchestrator currently is; states are logged
// on transition and are not persisted.
type RunState string

const (
	StateStarted    RunState = "started"
	StateFetching   RunState = "fetching"
	StateFiltering  RunState = "filtering"
	StateScoring    RunState = "scoring"
	StatePersisting RunState = "persisting"
	StateNotifying  RunState = "notifying"
	StateCompleted  RunState = "completed"
	StateFailed     RunState = "failed"
)

// RunReport accumulates per-outcome counts for a single scheduled run.
// It is process-scoped: created at run start, finalized at run end,
// returned to the caller and logged, never persisted.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`

	PagesFetched      int `json:"pages_fetched"`
	CandidatesSeen    int `json:"candidates_seen"`
	ParseSkipped      int `json:"parse_skipped"`
	Duplicates        int `json:"duplicates"`
	FilterFailed      int `json:"filter_failed"`
	NewRecords        int `json:"new_records"`
	Scored            int `json:"scored"`
	ScoreFailed       int `json:"score_failed"`
	Persisted         int `json:"persisted"`
	PersistedUnscored int `json:"persisted_unscored"`
	PersistFailed     int `json:"persist_failed"`
	AboveThreshold    int `json:"above_threshold"`
	NotificationsSent int `json:"notifications_sent"`
	NotifyFailed      int `json:"notify_failed"`
}

// NewRunReport starts a report for a fresh run.
func NewRunReport() *RunReport {
	return &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}

// Finalize stamps the terminal status. The error message is only set for
// failed runs.
func (r *RunReport) Finalize(status RunStatus, err error) {
	r.FinishedAt = time.Now().UTC()
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
}

// Errored returns the number of records that failed at any stage.
func (r *RunReport) Errored() int {
	return r.FilterFailed + r.ScoreFailed + r.PersistFailed
}
