package syncjob

import (
	"context"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// Runner executes one sync run. It is implemented by the sync orchestrator.
type Runner interface {
	Sync(ctx context.Context, userID int64, vendor string, r *observation.DateRange) (*Result, error)
}

// Service defines the interface for queued sync jobs
type Service interface {
	// Enqueue records a queued job and hands it to the task queue
	Enqueue(ctx context.Context, userID int64, vendor string, trigger Trigger, r *observation.DateRange) (*Job, error)

	// Get retrieves a job owned by userID
	Get(ctx context.Context, userID int64, id string) (*Job, error)

	// List retrieves a user's jobs
	List(ctx context.Context, filter Filter) ([]*Job, error)

	// Run executes a claimed job and records its outcome
	Run(ctx context.Context, job *Job) error

	// ScheduleDue enqueues scheduled jobs for connected integrations that
	// have not synced recently. It returns the number of jobs queued.
	ScheduleDue(ctx context.Context) (int, error)
}

// Queue hands queued jobs to workers
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
}
