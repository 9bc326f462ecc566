package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
)

// TypeSyncRun is the asynq task type of a sync job
const TypeSyncRun = "sync:run"

// Payload is the body of a sync task. Job state lives in the database; the
// task only carries the id.
type Payload struct {
	JobID string `json:"job_id"`
}

// RedisOpt builds asynq connection options from the redis config
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Asynq delivers jobs through redis
type Asynq struct {
	client *asynq.Client
	logger *logger.Logger
}

// NewAsynq creates a redis-backed queue
func NewAsynq(opt asynq.RedisConnOpt, log *logger.Logger) *Asynq {
	return &Asynq{client: asynq.NewClient(opt), logger: log}
}

var _ syncjob.Queue = (*Asynq)(nil)

// NewTask builds the task for one attempt of job
func NewTask(job *syncjob.Job) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(Payload{JobID: job.ID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode sync task: %w", err)
	}
	opts := []asynq.Option{
		// One task per attempt; a duplicate enqueue of the same attempt is a no-op.
		asynq.TaskID(job.ID + ":" + strconv.Itoa(job.Attempts)),
		asynq.ProcessAt(job.ScheduledAt),
		// Retries are driven by the job record, not by asynq.
		asynq.MaxRetry(0),
	}
	return asynq.NewTask(TypeSyncRun, payload), opts, nil
}

// Enqueue schedules the job at its scheduled time
func (q *Asynq) Enqueue(ctx context.Context, job *syncjob.Job) error {
	task, opts, err := NewTask(job)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task, opts...)
	if stderrors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Close closes the redis connection
func (q *Asynq) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close asynq client: %w", err)
	}
	return nil
}

// Handler runs sync tasks delivered by asynq
type Handler struct {
	jobs    syncjob.Repository
	service syncjob.Service
	logger  *logger.Logger
	now     func() time.Time
}

// NewHandler creates a sync task handler
func NewHandler(jobs syncjob.Repository, service syncjob.Service, log *logger.Logger) *Handler {
	return &Handler{jobs: jobs, service: service, logger: log, now: time.Now}
}

// ProcessTask claims the task's job and runs it. A job that is no longer
// queued was already handled and the task is dropped.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if task.Type() != TypeSyncRun {
		return fmt.Errorf("unknown task type: %s", task.Type())
	}

	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.JobID == "" {
		return fmt.Errorf("invalid sync task payload: %w", asynq.SkipRetry)
	}

	ok, err := h.jobs.Claim(ctx, p.JobID, h.now())
	if err != nil {
		return err
	}
	if !ok {
		h.logger.With("job_id", p.JobID).Debug("Sync task skipped, job not queued")
		return nil
	}

	job, err := h.jobs.GetByID(ctx, p.JobID)
	if err != nil {
		return err
	}
	return h.service.Run(ctx, job)
}

// Mux routes sync tasks to h
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSyncRun, h.ProcessTask)
	return mux
}

// NewServer creates the asynq server that runs sync tasks
func NewServer(opt asynq.RedisConnOpt, concurrency int, log *logger.Logger) *asynq.Server {
	if concurrency < 1 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.With("task_type", task.Type()).ErrorWithErr(err, "Sync task failed")
		}),
	})
}
