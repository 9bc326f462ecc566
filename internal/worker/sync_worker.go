package worker

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
)

// SyncWorker polls the sync_jobs table and runs due jobs with bounded
// concurrency. It is used with the database queue backend.
type SyncWorker struct {
	jobs        syncjob.Repository
	service     syncjob.Service
	concurrency int64
	interval    time.Duration
	wake        <-chan struct{}
	sem         *semaphore.Weighted
	logger      *logger.Logger
	now         func() time.Time
}

// NewSyncWorker creates a new sync worker. wake may be nil.
func NewSyncWorker(
	jobs syncjob.Repository,
	service syncjob.Service,
	concurrency int,
	interval time.Duration,
	wake <-chan struct{},
	log *logger.Logger,
) *SyncWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SyncWorker{
		jobs:        jobs,
		service:     service,
		concurrency: int64(concurrency),
		interval:    interval,
		wake:        wake,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      log,
		now:         time.Now,
	}
}

// Start runs the poll loop until ctx is done, then waits for running jobs.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.WithFields(map[string]interface{}{
		"concurrency": w.concurrency,
		"interval":    w.interval.String(),
	}).Info("Starting sync worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-w.wake:
			w.drain(ctx)
		case <-ctx.Done():
			// In-flight jobs run to completion so none is left running.
			_ = w.sem.Acquire(context.Background(), w.concurrency)
			w.sem.Release(w.concurrency)
			w.logger.Info("Sync worker stopped")
			return
		}
	}
}

// drain claims due jobs while there are free slots
func (w *SyncWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if !w.sem.TryAcquire(1) {
			return
		}
		job, err := w.jobs.ClaimNext(ctx, w.now())
		if err != nil {
			w.sem.Release(1)
			w.logger.ErrorWithErr(err, "Failed to claim sync job")
			return
		}
		if job == nil {
			w.sem.Release(1)
			return
		}

		go func(job *syncjob.Job) {
			defer w.sem.Release(1)
			w.run(context.WithoutCancel(ctx), job)
		}(job)
	}
}

func (w *SyncWorker) run(ctx context.Context, job *syncjob.Job) {
	if err := w.service.Run(ctx, job); err != nil {
		w.logger.WithFields(map[string]interface{}{
			"job_id":  job.ID,
			"user_id": job.UserID,
			"vendor":  job.Vendor,
		}).ErrorWithErr(err, "Failed to run sync job")
	}
}

// RunOnce claims and runs due jobs sequentially until none is left.
func (w *SyncWorker) RunOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		job, err := w.jobs.ClaimNext(ctx, w.now())
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		w.run(ctx, job)
		n++
	}
}
