package syncjob

import (
	"context"
	"time"
)

// Repository defines the interface for sync job data access
type Repository interface {
	// Create stores a new queued job. It fails with ALREADY_SYNCING when the
	// user already has a queued or running job for the vendor.
	Create(ctx context.Context, job *Job) error

	// GetByID retrieves a job
	GetByID(ctx context.Context, id string) (*Job, error)

	// List retrieves jobs matching the filter, newest first
	List(ctx context.Context, filter Filter) ([]*Job, error)

	// Latest returns the newest job for a user and vendor
	Latest(ctx context.Context, userID int64, vendor string) (*Job, error)

	// ClaimNext moves the oldest due queued job to running and returns it.
	// It returns nil, nil when nothing is due.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)

	// Claim moves a specific queued job to running. It reports false when the
	// job was not claimable.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)

	// Complete marks a job finished with a result
	Complete(ctx context.Context, id string, status Status, result []byte, lastError string, finishedAt time.Time) error

	// Requeue puts a running job back in the queue to run at or after next
	Requeue(ctx context.Context, id string, lastError string, next time.Time) error

	// HasPending reports whether a queued or running job exists for the pair
	HasPending(ctx context.Context, userID int64, vendor string) (bool, error)
}
