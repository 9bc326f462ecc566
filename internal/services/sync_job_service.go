package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/metrics"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
)

// SyncJobService implements syncjob.Service
type SyncJobService struct {
	repo         syncjob.Repository
	integrations integration.Repository
	registry     *providers.Registry
	runner       syncjob.Runner
	queue        syncjob.Queue
	cfg          config.SyncConfig
	logger       *logger.Logger
	now          func() time.Time

	scheduler    *cron.Cron
	isRunning    bool
	runningMutex sync.RWMutex
}

// NewSyncJobService creates a new sync job service
func NewSyncJobService(
	repo syncjob.Repository,
	integrations integration.Repository,
	registry *providers.Registry,
	runner syncjob.Runner,
	queue syncjob.Queue,
	cfg config.SyncConfig,
	log *logger.Logger,
) *SyncJobService {
	return &SyncJobService{
		repo:         repo,
		integrations: integrations,
		registry:     registry,
		runner:       runner,
		queue:        queue,
		cfg:          cfg,
		logger:       log,
		now:          time.Now,
	}
}

var _ syncjob.Service = (*SyncJobService)(nil)

// Enqueue records a queued job for a connected integration and hands it to
// the queue. At most one job per user and vendor is pending at a time.
func (s *SyncJobService) Enqueue(ctx context.Context, userID int64, vendor string, trigger syncjob.Trigger, r *observation.DateRange) (*syncjob.Job, error) {
	if !s.registry.Supports(vendor) {
		return nil, errors.UnsupportedVendor(vendor)
	}
	if r != nil && s.cfg.MaxRangeDays > 0 && r.Len() > s.cfg.MaxRangeDays {
		return nil, errors.BadRequest(fmt.Sprintf("range covers %d days, at most %d allowed", r.Len(), s.cfg.MaxRangeDays))
	}

	in, err := s.integrations.GetByVendor(ctx, userID, vendor)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, errors.NotConnected(vendor)
	}
	if err != nil {
		return nil, err
	}
	if !in.CanSync() {
		return nil, errors.NotConnected(vendor)
	}

	pending, err := s.repo.HasPending(ctx, userID, vendor)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, errors.AlreadySyncing(vendor)
	}

	job := &syncjob.Job{
		UserID:      userID,
		Vendor:      vendor,
		Trigger:     trigger,
		Status:      syncjob.StatusQueued,
		MaxAttempts: s.cfg.JobMaxAttempts,
		Range:       r,
		ScheduledAt: s.now().UTC(),
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 1
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The row stays queued; the database poller or the next enqueue
		// picks it up.
		s.jobLog(job).WarnWithErr(err, "Failed to hand job to queue")
	}

	s.jobLog(job).Info("Sync job queued")
	return job, nil
}

// Get retrieves a job owned by userID
func (s *SyncJobService) Get(ctx context.Context, userID int64, id string) (*syncjob.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, errors.NotFound("Sync job")
	}
	return job, nil
}

// List retrieves a user's jobs
func (s *SyncJobService) List(ctx context.Context, filter syncjob.Filter) ([]*syncjob.Job, error) {
	return s.repo.List(ctx, filter)
}

// Run executes a claimed job. Retryable failures put the job back in the
// queue with a backoff until its attempts are used up.
func (s *SyncJobService) Run(ctx context.Context, job *syncjob.Job) error {
	log := s.jobLog(job)
	log.Info("Sync job started")

	result, runErr := s.runner.Sync(ctx, job.UserID, job.Vendor, job.Range)

	var payload []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return errors.Internal("Failed to encode sync result", err)
		}
		payload = b
	}

	status, lastError, retry := s.classify(result, runErr)
	if retry && job.Attempts < job.MaxAttempts {
		delays := backoff{base: s.cfg.BackoffBase, max: s.cfg.BackoffMax}
		next := s.now().Add(delays.delay(job.Attempts)).UTC()
		if err := s.repo.Requeue(ctx, job.ID, lastError, next); err != nil {
			return err
		}
		job.Status = syncjob.StatusQueued
		job.ScheduledAt = next
		job.LastError = lastError
		if err := s.queue.Enqueue(ctx, job); err != nil {
			log.WarnWithErr(err, "Failed to hand retried job to queue")
		}
		metrics.RecordJob(string(job.Trigger), "retried")
		log.WithFields(map[string]interface{}{
			"attempts": job.Attempts,
			"next_run": next,
		}).Warn("Sync job will be retried: " + lastError)
		return nil
	}
	if retry {
		status = syncjob.StatusFailed
	}

	if err := s.repo.Complete(ctx, job.ID, status, payload, lastError, s.now().UTC()); err != nil {
		return err
	}
	metrics.RecordJob(string(job.Trigger), string(status))

	log.WithFields(map[string]interface{}{
		"status":   status,
		"attempts": job.Attempts,
	}).Info("Sync job finished")
	return nil
}

// classify maps a run outcome to a job status. retry is true when another
// attempt could succeed.
func (s *SyncJobService) classify(result *syncjob.Result, err error) (status syncjob.Status, lastError string, retry bool) {
	if err != nil {
		switch errors.CodeOf(err) {
		case errors.ErrCodeNotConnected, errors.ErrCodeBadRequest, errors.ErrCodeUnsupportedVendor:
			return syncjob.StatusFailed, err.Error(), false
		default:
			return syncjob.StatusFailed, err.Error(), true
		}
	}

	switch result.Outcome() {
	case "success", "partial":
		return syncjob.StatusSucceeded, "", false
	}

	first := result.Errors[0]
	lastError = first.Code + ": " + first.Message
	for _, e := range result.Errors {
		if retryableCode(e.Code) {
			return syncjob.StatusFailed, lastError, true
		}
	}
	return syncjob.StatusFailed, lastError, false
}

func retryableCode(code string) bool {
	switch code {
	case errors.ErrCodeVendorTransient,
		errors.ErrCodeVendorRateLimited,
		errors.ErrCodeTokenRefreshFailed,
		errors.ErrCodeStoreUnavailable,
		errors.ErrCodeStoreSubmissionFailed:
		return true
	}
	return false
}

// ScheduleDue enqueues scheduled jobs for connected integrations that have
// not synced within the minimum interval.
func (s *SyncJobService) ScheduleDue(ctx context.Context) (int, error) {
	connected, err := s.integrations.ListByStatus(ctx, integration.StatusConnected)
	if err != nil {
		return 0, err
	}

	now := s.now()
	queued := 0
	for _, in := range connected {
		if in.LastSyncAt != nil && now.Sub(*in.LastSyncAt) < s.cfg.MinInterval {
			continue
		}
		if !s.registry.Supports(in.Vendor) {
			continue
		}
		_, err := s.Enqueue(ctx, in.UserID, in.Vendor, syncjob.TriggerScheduled, nil)
		switch {
		case err == nil:
			queued++
		case errors.IsCode(err, errors.ErrCodeAlreadySyncing), errors.IsCode(err, errors.ErrCodeNotConnected):
		default:
			s.logger.WithFields(map[string]interface{}{
				"user_id": in.UserID,
				"vendor":  in.Vendor,
			}).ErrorWithErr(err, "Failed to schedule sync")
		}
	}

	if queued > 0 {
		s.logger.WithFields(map[string]interface{}{"queued": queued}).Info("Scheduled syncs queued")
	}
	return queued, nil
}

// Start starts the periodic scheduler
func (s *SyncJobService) Start(ctx context.Context) error {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	s.scheduler = cron.New()
	_, err := s.scheduler.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.ScheduleDue(ctx); err != nil {
			s.logger.ErrorWithErr(err, "Failed to schedule due syncs")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule syncs: %w", err)
	}

	s.scheduler.Start()
	s.isRunning = true

	s.logger.WithFields(map[string]interface{}{
		"schedule": s.cfg.Schedule,
	}).Info("Sync scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running tick to finish
func (s *SyncJobService) Stop() {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()

	if !s.isRunning {
		return
	}
	<-s.scheduler.Stop().Done()
	s.isRunning = false
	s.logger.Info("Sync scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *SyncJobService) IsRunning() bool {
	s.runningMutex.RLock()
	defer s.runningMutex.RUnlock()
	return s.isRunning
}

func (s *SyncJobService) jobLog(job *syncjob.Job) *logger.Logger {
	return s.logger.WithFields(map[string]interface{}{
		"job_id":  job.ID,
		"user_id": job.UserID,
		"vendor":  job.Vendor,
		"trigger": job.Trigger,
	})
}
