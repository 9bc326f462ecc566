package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/repository/postgres"
	"github.com/pratik-mahalle/vitalsync/internal/testutil"
)

func TestDatabase_EnqueueWakesWithoutBlocking(t *testing.T) {
	q := NewDatabase()
	job := &syncjob.Job{ID: "job-1"}

	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Enqueue(context.Background(), job))

	select {
	case <-q.Wake():
	default:
		t.Fatal("Enqueue() did not wake the poller")
	}
	select {
	case <-q.Wake():
		t.Fatal("wake signals should coalesce")
	default:
	}
}

func TestNewTask(t *testing.T) {
	at := time.Date(2024, 12, 19, 10, 0, 0, 0, time.UTC)
	task, opts, err := NewTask(&syncjob.Job{ID: "job-1", Attempts: 2, ScheduledAt: at})
	require.NoError(t, err)

	assert.Equal(t, TypeSyncRun, task.Type())
	var p Payload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "job-1", p.JobID)

	types := map[asynq.OptionType]interface{}{}
	for _, o := range opts {
		types[o.Type()] = o.Value()
	}
	assert.Equal(t, "job-1:2", types[asynq.TaskIDOpt])
	assert.Equal(t, 0, types[asynq.MaxRetryOpt])
	assert.Equal(t, at, types[asynq.ProcessAtOpt])
}

type fakeService struct {
	syncjob.Service
	ran []*syncjob.Job
}

func (f *fakeService) Run(ctx context.Context, job *syncjob.Job) error {
	f.ran = append(f.ran, job)
	return nil
}

func TestHandler_ProcessTask(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	ctx := context.Background()
	jobs := postgres.NewSyncJobRepository(db, "sqlite")
	day := time.Date(2024, 12, 19, 0, 0, 0, 0, time.UTC)
	r := observation.SingleDay(day)
	job := &syncjob.Job{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerManual, MaxAttempts: 3, Range: &r}
	require.NoError(t, jobs.Create(ctx, job))

	svc := &fakeService{}
	h := NewHandler(jobs, svc, logger.Nop())

	task, _, err := NewTask(job)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(ctx, task))

	require.Len(t, svc.ran, 1)
	assert.Equal(t, job.ID, svc.ran[0].ID)
	assert.Equal(t, syncjob.StatusRunning, svc.ran[0].Status)
	assert.Equal(t, 1, svc.ran[0].Attempts)
	require.NotNil(t, svc.ran[0].Range)
	assert.Equal(t, r.String(), svc.ran[0].Range.String())

	// Redelivery of a job that is already running is dropped.
	require.NoError(t, h.ProcessTask(ctx, task))
	assert.Len(t, svc.ran, 1)
}

func TestHandler_RejectsBadTasks(t *testing.T) {
	h := NewHandler(nil, &fakeService{}, logger.Nop())

	err := h.ProcessTask(context.Background(), asynq.NewTask("other", nil))
	assert.ErrorContains(t, err, "unknown task type")

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeSyncRun, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
