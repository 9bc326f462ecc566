package dto

import (
	"encoding/json"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
)

// SyncRequest asks for a sync run. Both bounds are optional; when omitted
// the run covers the checkpoint through today.
type SyncRequest struct {
	From string `json:"from" validate:"required_with=To,omitempty,day"`
	To   string `json:"to" validate:"required_with=From,omitempty,day"`
}

// Range parses the requested days. It returns nil when no range was given.
func (r SyncRequest) Range() (*observation.DateRange, error) {
	if r.From == "" && r.To == "" {
		return nil, nil
	}
	from, err := observation.ParseDay(r.From)
	if err != nil {
		return nil, err
	}
	to, err := observation.ParseDay(r.To)
	if err != nil {
		return nil, err
	}
	dr, err := observation.NewDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

// RangeDTO is an inclusive day range
type RangeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func newRangeDTO(r observation.DateRange) RangeDTO {
	return RangeDTO{
		From: r.From.Format(observation.DateLayout),
		To:   r.To.Format(observation.DateLayout),
	}
}

// UnitErrorDTO is a failure scoped to one kind, one observation or the
// whole vendor
type UnitErrorDTO struct {
	Unit    string `json:"unit"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncResultDTO reports one sync run
type SyncResultDTO struct {
	Vendor              string         `json:"vendor"`
	Range               RangeDTO       `json:"range"`
	Outcome             string         `json:"outcome"`
	ObservationsCreated int            `json:"observationsCreated"`
	ObservationsSkipped int            `json:"observationsSkipped"`
	Errors              []UnitErrorDTO `json:"errors"`
	Checkpoint          string         `json:"checkpoint,omitempty"`
}

// NewSyncResultDTO converts a sync result
func NewSyncResultDTO(r *syncjob.Result) SyncResultDTO {
	errs := make([]UnitErrorDTO, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = UnitErrorDTO{Unit: e.Unit, Code: e.Code, Message: e.Message}
	}
	return SyncResultDTO{
		Vendor:              r.Vendor,
		Range:               newRangeDTO(r.Range),
		Outcome:             r.Outcome(),
		ObservationsCreated: r.ObservationsCreated,
		ObservationsSkipped: r.ObservationsSkipped,
		Errors:              errs,
		Checkpoint:          r.Checkpoint,
	}
}

// SyncJobDTO describes a queued or finished sync job
type SyncJobDTO struct {
	ID          string         `json:"id"`
	Vendor      string         `json:"vendor"`
	Trigger     string         `json:"trigger"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"maxAttempts"`
	Range       *RangeDTO      `json:"range,omitempty"`
	Result      *SyncResultDTO `json:"result,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// NewSyncJobDTO converts a job. A stored result that no longer decodes is
// left out rather than failing the response.
func NewSyncJobDTO(j *syncjob.Job) SyncJobDTO {
	out := SyncJobDTO{
		ID:          j.ID,
		Vendor:      j.Vendor,
		Trigger:     string(j.Trigger),
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		CreatedAt:   j.CreatedAt,
	}
	if j.Range != nil {
		r := newRangeDTO(*j.Range)
		out.Range = &r
	}
	if len(j.Result) > 0 {
		var res syncjob.Result
		if err := json.Unmarshal(j.Result, &res); err == nil {
			dto := NewSyncResultDTO(&res)
			out.Result = &dto
		}
	}
	return out
}
