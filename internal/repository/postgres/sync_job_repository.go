package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

const syncJobColumns = `id, user_id, vendor, trigger_source, status, attempts, max_attempts,
	range_from, range_to, result, last_error, scheduled_at, started_at, finished_at, created_at`

// claimRetries bounds how often ClaimNext retries after losing a race
const claimRetries = 3

// SyncJobRepository implements syncjob.Repository
type SyncJobRepository struct {
	db     *sql.DB
	driver string
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *sql.DB, driver string) syncjob.Repository {
	return &SyncJobRepository{db: db, driver: driver}
}

func (r *SyncJobRepository) q(query string) string {
	return Rebind(r.driver, query)
}

// Create stores a new job. The one-pending-job index turns a concurrent
// duplicate into ALREADY_SYNCING.
func (r *SyncJobRepository) Create(ctx context.Context, j *syncjob.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	}
	if j.Status == "" {
		j.Status = syncjob.StatusQueued
	}

	var from, to interface{}
	if j.Range != nil {
		from = j.Range.From.Format(observation.DateLayout)
		to = j.Range.To.Format(observation.DateLayout)
	}

	query := `
		INSERT INTO sync_jobs (id, user_id, vendor, trigger_source, status, attempts, max_attempts,
			range_from, range_to, last_error, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.q(query),
		j.ID, j.UserID, j.Vendor, string(j.Trigger), string(j.Status), j.Attempts, j.MaxAttempts,
		from, to, j.LastError, j.ScheduledAt.UTC(), now,
	)
	if isUniqueViolation(err) {
		return errors.AlreadySyncing(j.Vendor)
	}
	if err != nil {
		return errors.DatabaseError("Failed to create sync job", err)
	}

	j.CreatedAt = now
	return nil
}

// GetByID retrieves a job
func (r *SyncJobRepository) GetByID(ctx context.Context, id string) (*syncjob.Job, error) {
	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE id = ?`
	j, err := scanSyncJob(r.db.QueryRowContext(ctx, r.q(query), id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Sync job")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get sync job", err)
	}
	return j, nil
}

// List retrieves jobs matching the filter, newest first
func (r *SyncJobRepository) List(ctx context.Context, filter syncjob.Filter) ([]*syncjob.Job, error) {
	var where []string
	var args []interface{}
	if filter.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Vendor != "" {
		where = append(where, "vendor = ?")
		args = append(args, filter.Vendor)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + syncJobColumns + ` FROM sync_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list sync jobs", err)
	}
	defer rows.Close()

	var jobs []*syncjob.Job
	for rows.Next() {
		j, err := scanSyncJob(rows)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan sync job", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate sync jobs", err)
	}
	return jobs, nil
}

// Latest returns the newest job for a user and vendor, or nil
func (r *SyncJobRepository) Latest(ctx context.Context, userID int64, vendor string) (*syncjob.Job, error) {
	jobs, err := r.List(ctx, syncjob.Filter{UserID: userID, Vendor: vendor, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// ClaimNext claims the oldest due queued job. Claiming is a conditional
// update, so competing workers on one database never run the same job.
func (r *SyncJobRepository) ClaimNext(ctx context.Context, now time.Time) (*syncjob.Job, error) {
	query := `
		SELECT id FROM sync_jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at, created_at
		LIMIT 1
	`
	for i := 0; i < claimRetries; i++ {
		var id string
		err := r.db.QueryRowContext(ctx, r.q(query), string(syncjob.StatusQueued), now.UTC()).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, errors.DatabaseError("Failed to find due sync job", err)
		}

		ok, err := r.Claim(ctx, id, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return r.GetByID(ctx, id)
		}
	}
	return nil, nil
}

// Claim moves a queued job to running and counts the attempt
func (r *SyncJobRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE sync_jobs SET status = ?, attempts = attempts + 1, started_at = ?, finished_at = NULL
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, r.q(query),
		string(syncjob.StatusRunning), now.UTC(), id, string(syncjob.StatusQueued))
	if err != nil {
		return false, errors.DatabaseError("Failed to claim sync job", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.DatabaseError("Failed to get affected rows", err)
	}
	return n > 0, nil
}

// Complete marks a job finished
func (r *SyncJobRepository) Complete(ctx context.Context, id string, status syncjob.Status, result []byte, lastError string, finishedAt time.Time) error {
	var res interface{}
	if len(result) > 0 {
		res = string(result)
	}
	query := `UPDATE sync_jobs SET status = ?, result = ?, last_error = ?, finished_at = ? WHERE id = ?`
	return r.update(ctx, "complete sync job", r.q(query), string(status), res, lastError, finishedAt.UTC(), id)
}

// Requeue schedules a running job for another attempt
func (r *SyncJobRepository) Requeue(ctx context.Context, id string, lastError string, next time.Time) error {
	query := `UPDATE sync_jobs SET status = ?, last_error = ?, scheduled_at = ? WHERE id = ?`
	return r.update(ctx, "requeue sync job", r.q(query), string(syncjob.StatusQueued), lastError, next.UTC(), id)
}

// HasPending reports whether a queued or running job exists
func (r *SyncJobRepository) HasPending(ctx context.Context, userID int64, vendor string) (bool, error) {
	query := `SELECT COUNT(*) FROM sync_jobs WHERE user_id = ? AND vendor = ? AND status IN (?, ?)`
	var n int
	err := r.db.QueryRowContext(ctx, r.q(query), userID, vendor,
		string(syncjob.StatusQueued), string(syncjob.StatusRunning)).Scan(&n)
	if err != nil {
		return false, errors.DatabaseError("Failed to check pending sync jobs", err)
	}
	return n > 0, nil
}

func (r *SyncJobRepository) update(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.DatabaseError("Failed to "+op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseError("Failed to get affected rows", err)
	}
	if n == 0 {
		return errors.NotFound("Sync job")
	}
	return nil
}

func scanSyncJob(s rowScanner) (*syncjob.Job, error) {
	var j syncjob.Job
	var trigger, status string
	var from, to, result sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := s.Scan(
		&j.ID, &j.UserID, &j.Vendor, &trigger, &status, &j.Attempts, &j.MaxAttempts,
		&from, &to, &result, &j.LastError, &j.ScheduledAt, &startedAt, &finishedAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Trigger = syncjob.Trigger(trigger)
	j.Status = syncjob.Status(status)
	if from.Valid && to.Valid {
		f, err := observation.ParseDay(from.String)
		if err != nil {
			return nil, err
		}
		t, err := observation.ParseDay(to.String)
		if err != nil {
			return nil, err
		}
		j.Range = &observation.DateRange{From: f, To: t}
	}
	if result.Valid && result.String != "" {
		j.Result = []byte(result.String)
	}
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.StartedAt = timePtr(startedAt)
	j.FinishedAt = timePtr(finishedAt)
	return &j, nil
}
