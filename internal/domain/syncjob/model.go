package syncjob

import (
	"encoding/json"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// Job is a durable record of one queued sync run
type Job struct {
	ID          string                 `json:"id"`
	UserID      int64                  `json:"user_id"`
	Vendor      string                 `json:"vendor"`
	Trigger     Trigger                `json:"trigger"`
	Status      Status                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	MaxAttempts int                    `json:"max_attempts"`
	Range       *observation.DateRange `json:"range,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	ScheduledAt time.Time              `json:"scheduled_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Trigger is what caused a job to be queued
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Status represents the status of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal checks if the job will not run again
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// UnitError is a failure scoped to one metric kind, one observation, or the
// whole vendor.
type UnitError struct {
	Unit    string `json:"unit"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnitVendor marks an error that applies to the whole vendor run.
const UnitVendor = "vendor"

// Result is the per-run report returned to callers
type Result struct {
	UserID              int64                 `json:"user_id"`
	Vendor              string                `json:"vendor"`
	Range               observation.DateRange `json:"range"`
	ObservationsCreated int                   `json:"observations_created"`
	ObservationsSkipped int                   `json:"observations_skipped"`
	Errors              []UnitError           `json:"errors"`
	Checkpoint          string                `json:"checkpoint,omitempty"`
}

// AddError appends a unit error
func (r *Result) AddError(unit, code, message string) {
	r.Errors = append(r.Errors, UnitError{Unit: unit, Code: code, Message: message})
}

// HasErrors reports whether anything failed
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasCode reports whether any entry carries code
func (r *Result) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Outcome summarizes the run for metrics and the integration's last sync status.
func (r *Result) Outcome() string {
	switch {
	case !r.HasErrors():
		return "success"
	case r.ObservationsCreated > 0 || r.ObservationsSkipped > 0:
		return "partial"
	default:
		return "failed"
	}
}

// Filter contains job listing options
type Filter struct {
	UserID int64
	Vendor string
	Status Status
	Limit  int
}
