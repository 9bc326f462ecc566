package services

import (
	"context"
	"database/sql"
	"net/url"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/auth"
	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
	"github.com/pratik-mahalle/vitalsync/internal/repository/postgres"
	"github.com/pratik-mahalle/vitalsync/internal/statestore"
	"github.com/pratik-mahalle/vitalsync/internal/synclock"
	"github.com/pratik-mahalle/vitalsync/internal/testutil"
)

const (
	testVendor  = "fitbit"
	testSubject = "Patient/123"
)

// exampleDay is the day used by the end-to-end sync scenarios. Its readings
// are taken at 10:30 UTC.
var (
	exampleDay       = time.Date(2024, 12, 19, 0, 0, 0, 0, time.UTC)
	exampleReadingAt = exampleDay.Add(10*time.Hour + 30*time.Minute)
)

type harness struct {
	db           *sql.DB
	vendor       *testutil.FakeVendor
	registry     *providers.Registry
	repo         integration.Repository
	jobs         syncjob.Repository
	ledger       observation.LedgerRepository
	creds        *testutil.MockCredentialStore
	store        *testutil.MockObservationStore
	states       *statestore.Memory
	signer       *auth.StateSigner
	locker       *synclock.Memory
	cfg          config.SyncConfig
	integrations *IntegrationService
	tokens       *TokenService
	sync         *SyncService
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		RefreshMargin:     5 * time.Minute,
		CallTimeout:       time.Second,
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		RateLimitWaitMax:  50 * time.Millisecond,
		SubmitAttempts:    2,
		MaxRangeDays:      31,
		LockTTL:           time.Minute,
		QueueBackend:      "database",
		WorkerConcurrency: 1,
		WorkerPoll:        10 * time.Millisecond,
		JobMaxAttempts:    3,
		Schedule:          "*/30 * * * *",
		MinInterval:       30 * time.Minute,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewTestDB(t)
	t.Cleanup(func() { testutil.CleanupDB(db) })

	log := logger.Nop()
	cfg := testSyncConfig()
	vendor := testutil.NewFakeVendor(testVendor, observation.KindHeartRate, observation.KindSpO2)
	registry := providers.NewRegistry()
	registry.Register(vendor, vendor)

	h := &harness{
		db:       db,
		vendor:   vendor,
		registry: registry,
		repo:     postgres.NewIntegrationRepository(db, "sqlite"),
		jobs:     postgres.NewSyncJobRepository(db, "sqlite"),
		ledger:   postgres.NewLedgerRepository(db, "sqlite"),
		creds:    testutil.NewMockCredentialStore(),
		store:    testutil.NewMockObservationStore(),
		states:   statestore.NewMemory(),
		signer:   auth.NewStateSigner("state-secret", 10*time.Minute),
		locker:   synclock.NewMemory(),
		cfg:      cfg,
	}
	h.integrations = NewIntegrationService(h.repo, h.creds, h.jobs, registry, h.states, h.signer, cfg.RefreshMargin, log)
	h.tokens = NewTokenService(h.creds, registry, cfg.RefreshMargin, cfg.CallTimeout, log)
	h.sync = NewSyncService(h.integrations, h.repo, h.tokens, registry, h.store, h.ledger, h.locker, cfg, log)
	h.sync.now = func() time.Time { return exampleDay.Add(20 * time.Hour) }
	return h
}

// connect stores a connected integration with a fresh credential.
func (h *harness) connect(t *testing.T, userID int64) *integration.Integration {
	t.Helper()
	return h.connectWith(t, userID, &credential.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		VendorUserID: "ABC123",
	})
}

func (h *harness) connectWith(t *testing.T, userID int64, c *credential.Credential) *integration.Integration {
	t.Helper()
	ctx := context.Background()
	in := &integration.Integration{
		UserID:       userID,
		Vendor:       testVendor,
		Status:       integration.StatusConnected,
		SubjectRef:   testSubject,
		VendorUserID: c.VendorUserID,
	}
	if err := h.repo.Create(ctx, in); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := h.creds.Put(ctx, in.ID, c); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return in
}

func (h *harness) reload(t *testing.T, id int64) *integration.Integration {
	t.Helper()
	in, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return in
}

// addExampleDay scripts the vendor with one heart rate and one SpO2 reading.
func (h *harness) addExampleDay() {
	at := exampleReadingAt
	h.vendor.AddSamples(observation.KindHeartRate, observation.RawSample{
		Type: observation.SampleHeartRate, Value: 72, Unit: "beats/min", Timestamp: at,
	})
	h.vendor.AddSamples(observation.KindSpO2, observation.RawSample{
		Type: observation.SampleSpO2, Value: 98, Unit: "%", Timestamp: at,
	})
}

func dayRange(t *testing.T, from, to time.Time) *observation.DateRange {
	t.Helper()
	r, err := observation.NewDateRange(from, to)
	if err != nil {
		t.Fatalf("NewDateRange() error = %v", err)
	}
	return &r
}

func stateFrom(t *testing.T, consentURL string) string {
	t.Helper()
	u, err := url.Parse(consentURL)
	if err != nil {
		t.Fatalf("consent URL %q: %v", consentURL, err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("consent URL %q has no state", consentURL)
	}
	return state
}
