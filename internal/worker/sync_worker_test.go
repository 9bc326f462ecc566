package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/repository/postgres"
	"github.com/pratik-mahalle/vitalsync/internal/testutil"
)

// completingService marks every job it runs as succeeded.
type completingService struct {
	syncjob.Service
	jobs syncjob.Repository

	mu  sync.Mutex
	ran []string
}

func (s *completingService) Run(ctx context.Context, job *syncjob.Job) error {
	s.mu.Lock()
	s.ran = append(s.ran, job.ID)
	s.mu.Unlock()
	return s.jobs.Complete(ctx, job.ID, syncjob.StatusSucceeded, nil, "", time.Now())
}

func (s *completingService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ran)
}

func createJobs(t *testing.T, jobs syncjob.Repository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		job := &syncjob.Job{UserID: int64(i + 1), Vendor: "fitbit", Trigger: syncjob.TriggerScheduled, MaxAttempts: 1}
		if err := jobs.Create(context.Background(), job); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
}

func TestSyncWorker_RunOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	jobs := postgres.NewSyncJobRepository(db, "sqlite")
	createJobs(t, jobs, 3)
	svc := &completingService{jobs: jobs}
	w := NewSyncWorker(jobs, svc, 2, time.Hour, nil, logger.Nop())

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 3 || svc.count() != 3 {
		t.Errorf("RunOnce() ran %d (service saw %d), want 3", n, svc.count())
	}

	n, _ = w.RunOnce(context.Background())
	if n != 0 {
		t.Errorf("second RunOnce() ran %d, want 0", n)
	}
}

func TestSyncWorker_StartDrainsQueue(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	jobs := postgres.NewSyncJobRepository(db, "sqlite")
	createJobs(t, jobs, 4)
	svc := &completingService{jobs: jobs}
	wake := make(chan struct{}, 1)
	w := NewSyncWorker(jobs, svc, 2, 10*time.Millisecond, wake, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for svc.count() < 4 {
		select {
		case <-deadline:
			t.Fatalf("worker ran %d of 4 jobs", svc.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	pending, err := jobs.HasPending(context.Background(), 1, "fitbit")
	if err != nil {
		t.Fatalf("HasPending() error = %v", err)
	}
	if pending {
		t.Error("job still pending after the worker stopped")
	}
}
