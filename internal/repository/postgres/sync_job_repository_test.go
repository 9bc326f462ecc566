package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/testutil"
)

func TestSyncJobRepository_ClaimLifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewSyncJobRepository(db, "sqlite")
	ctx := context.Background()
	now := time.Date(2024, 12, 19, 9, 0, 0, 0, time.UTC)
	r := observation.SingleDay(now)

	due := &syncjob.Job{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerManual, MaxAttempts: 3, Range: &r, ScheduledAt: now.Add(-time.Minute)}
	later := &syncjob.Job{UserID: 1, Vendor: "oura", Trigger: syncjob.TriggerScheduled, MaxAttempts: 3, ScheduledAt: now.Add(time.Hour)}
	for _, j := range []*syncjob.Job{due, later} {
		if err := repo.Create(ctx, j); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	pending, err := repo.HasPending(ctx, 1, "fitbit")
	if err != nil || !pending {
		t.Fatalf("HasPending() = %v, %v; want true", pending, err)
	}

	claimed, err := repo.ClaimNext(ctx, now)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed == nil || claimed.ID != due.ID {
		t.Fatalf("ClaimNext() = %v, want job %s", claimed, due.ID)
	}
	if claimed.Status != syncjob.StatusRunning || claimed.Attempts != 1 || claimed.StartedAt == nil {
		t.Errorf("claimed job = %+v", claimed)
	}
	if claimed.Range == nil || claimed.Range.String() != r.String() {
		t.Errorf("claimed range = %v, want %v", claimed.Range, r)
	}

	next, err := repo.ClaimNext(ctx, now)
	if err != nil || next != nil {
		t.Fatalf("ClaimNext() with nothing due = %v, %v", next, err)
	}

	if ok, _ := repo.Claim(ctx, due.ID, now); ok {
		t.Error("Claim() of a running job succeeded")
	}

	if err := repo.Requeue(ctx, due.ID, "vendor busy", now.Add(30*time.Second)); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if next, _ := repo.ClaimNext(ctx, now); next != nil {
		t.Error("ClaimNext() claimed a job scheduled in the future")
	}
	next, err = repo.ClaimNext(ctx, now.Add(time.Minute))
	if err != nil || next == nil || next.ID != due.ID || next.Attempts != 2 {
		t.Fatalf("ClaimNext() after backoff = %+v, %v", next, err)
	}

	result := []byte(`{"observations_created":2}`)
	if err := repo.Complete(ctx, due.ID, syncjob.StatusSucceeded, result, "", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, err := repo.GetByID(ctx, due.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != syncjob.StatusSucceeded || string(got.Result) != string(result) || got.FinishedAt == nil {
		t.Errorf("completed job = %+v", got)
	}

	pending, _ = repo.HasPending(ctx, 1, "fitbit")
	if pending {
		t.Error("HasPending() true after completion")
	}
}

func TestSyncJobRepository_List(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewSyncJobRepository(db, "sqlite")
	ctx := context.Background()

	seed := []*syncjob.Job{
		{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerManual, Status: syncjob.StatusSucceeded, MaxAttempts: 1},
		{UserID: 1, Vendor: "oura", Trigger: syncjob.TriggerManual, MaxAttempts: 1},
		{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerManual, MaxAttempts: 1},
	}
	for _, j := range seed {
		if err := repo.Create(ctx, j); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	other := &syncjob.Job{UserID: 2, Vendor: "fitbit", Trigger: syncjob.TriggerManual, MaxAttempts: 1}
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name   string
		filter syncjob.Filter
		want   int
	}{
		{name: "by user", filter: syncjob.Filter{UserID: 1}, want: 3},
		{name: "by user and vendor", filter: syncjob.Filter{UserID: 1, Vendor: "fitbit"}, want: 2},
		{name: "by status", filter: syncjob.Filter{Status: syncjob.StatusQueued}, want: 3},
		{name: "limited", filter: syncjob.Filter{UserID: 1, Limit: 1}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(jobs) != tt.want {
				t.Errorf("List() returned %d jobs, want %d", len(jobs), tt.want)
			}
		})
	}

	latest, err := repo.Latest(ctx, 1, "fitbit")
	if err != nil || latest == nil {
		t.Fatalf("Latest() = %v, %v", latest, err)
	}
	if latest.ID != seed[2].ID {
		t.Errorf("Latest() = %+v", latest)
	}

	none, err := repo.Latest(ctx, 3, "fitbit")
	if err != nil || none != nil {
		t.Errorf("Latest() for unknown user = %v, %v", none, err)
	}
}

func TestSyncJobRepository_OnePendingJobPerVendor(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewSyncJobRepository(db, "sqlite")
	ctx := context.Background()
	now := time.Date(2024, 12, 19, 9, 0, 0, 0, time.UTC)

	first := &syncjob.Job{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerManual, MaxAttempts: 1}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := &syncjob.Job{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerScheduled, MaxAttempts: 1}
	if err := repo.Create(ctx, dup); !errors.IsCode(err, errors.ErrCodeAlreadySyncing) {
		t.Fatalf("Create() with a queued job error = %v, want ALREADY_SYNCING", err)
	}

	if ok, err := repo.Claim(ctx, first.ID, now); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	dup = &syncjob.Job{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerScheduled, MaxAttempts: 1}
	if err := repo.Create(ctx, dup); !errors.IsCode(err, errors.ErrCodeAlreadySyncing) {
		t.Fatalf("Create() with a running job error = %v, want ALREADY_SYNCING", err)
	}

	for _, j := range []*syncjob.Job{
		{UserID: 1, Vendor: "oura", Trigger: syncjob.TriggerManual, MaxAttempts: 1},
		{UserID: 2, Vendor: "fitbit", Trigger: syncjob.TriggerManual, MaxAttempts: 1},
	} {
		if err := repo.Create(ctx, j); err != nil {
			t.Errorf("Create() for %d/%s error = %v", j.UserID, j.Vendor, err)
		}
	}

	if err := repo.Complete(ctx, first.ID, syncjob.StatusSucceeded, nil, "", now.Add(time.Minute)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	next := &syncjob.Job{UserID: 1, Vendor: "fitbit", Trigger: syncjob.TriggerScheduled, MaxAttempts: 1}
	if err := repo.Create(ctx, next); err != nil {
		t.Errorf("Create() after completion error = %v", err)
	}
}
