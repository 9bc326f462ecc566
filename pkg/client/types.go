package client

import "time"

// Integration describes one vendor integration
type Integration struct {
	Vendor               string     `json:"vendor"`
	Status               string     `json:"status"` // not_selected, selected, authorizing, connected, disconnected
	Checkpoint           string     `json:"checkpoint,omitempty"`
	LastSyncAt           *time.Time `json:"lastSyncAt,omitempty"`
	LastSyncStatus       string     `json:"lastSyncStatus,omitempty"`
	CredentialExpiresAt  *time.Time `json:"credentialExpiresAt,omitempty"`
	CredentialNearExpiry bool       `json:"credentialNearExpiry"`
	LastJob              *Job       `json:"lastJob,omitempty"`
}

// Authorization is the consent URL the user must open
type Authorization struct {
	Vendor           string `json:"vendor"`
	AuthorizationURL string `json:"authorizationUrl"`
}

// Range is an inclusive range of YYYY-MM-DD days
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UnitError is a failure scoped to one metric kind, one observation or the
// whole vendor
type UnitError struct {
	Unit    string `json:"unit"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncResult reports one sync run
type SyncResult struct {
	Vendor              string      `json:"vendor"`
	Range               Range       `json:"range"`
	Outcome             string      `json:"outcome"` // success, partial, failed
	ObservationsCreated int         `json:"observationsCreated"`
	ObservationsSkipped int         `json:"observationsSkipped"`
	Errors              []UnitError `json:"errors"`
	Checkpoint          string      `json:"checkpoint,omitempty"`
}

// Job is a queued or finished sync job
type Job struct {
	ID          string      `json:"id"`
	Vendor      string      `json:"vendor"`
	Trigger     string      `json:"trigger"` // manual, scheduled
	Status      string      `json:"status"`  // queued, running, succeeded, failed
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"maxAttempts"`
	Range       *Range      `json:"range,omitempty"`
	Result      *SyncResult `json:"result,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Done reports whether the job will not run again
func (j *Job) Done() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// Observation is a clinical reading from the caller's record
type Observation struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Display   string    `json:"display"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Effective time.Time `json:"effective"`
}

// ObservationPage is one page of observations
type ObservationPage struct {
	Data       []Observation `json:"data"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalItems int64         `json:"total_items"`
	TotalPages int           `json:"total_pages"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
}
