package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
)

var pathDay = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// newDayScopedFitbit serves every Fitbit endpoint for any day: one heart
// rate reading, an activity summary and nothing else.
func newDayScopedFitbit(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !pathDay.MatchString(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		switch {
		case strings.Contains(r.URL.Path, "/activities/heart/"):
			w.Write([]byte(`{"activities-heart-intraday":{"dataset":[{"time":"10:30:00","value":70}]}}`))
		case strings.Contains(r.URL.Path, "/spo2/"):
			w.Write([]byte(`{"minutes":[]}`))
		case strings.Contains(r.URL.Path, "/body/log/weight/"):
			w.Write([]byte(`{"weight":[]}`))
		case strings.Contains(r.URL.Path, "/activities/date/"):
			w.Write([]byte(`{"summary":{"steps":1000,"caloriesOut":2000,"distances":[]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncService_PacedMultiDayRange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.connect(t, 1)

	var calls atomic.Int32
	srv := newDayScopedFitbit(t, &calls)

	// Forty requests at 40 per second with no burst keep every kind waiting
	// on the limiter far longer than a single request may take.
	cfg := h.cfg
	cfg.CallTimeout = 100 * time.Millisecond
	fitbit := providers.NewFitbit(providers.Options{
		BaseURL:           srv.URL,
		RequestsPerSecond: 40,
		Burst:             1,
		CallTimeout:       cfg.CallTimeout,
		Now:               func() time.Time { return exampleDay.AddDate(0, 0, 2) },
	})
	registry := providers.NewRegistry()
	registry.Register(fitbit, h.vendor)
	svc := NewSyncService(h.integrations, h.repo, h.tokens, registry, h.store, h.ledger, h.locker, cfg, logger.Nop())
	svc.now = h.sync.now

	res, err := svc.Sync(ctx, 1, testVendor, dayRange(t, exampleDay.AddDate(0, 0, -9), exampleDay))
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.HasErrors() {
		t.Fatalf("Sync() errors = %+v", res.Errors)
	}
	if got := calls.Load(); got != 40 {
		t.Errorf("vendor requests = %d, want 40", got)
	}
	// One heart rate reading plus steps and calories per day.
	if res.ObservationsCreated != 30 {
		t.Errorf("created = %d, want 30", res.ObservationsCreated)
	}
	if res.Checkpoint != "2024-12-19" {
		t.Errorf("Checkpoint = %q, want 2024-12-19", res.Checkpoint)
	}
	got := h.reload(t, in.ID)
	if got.Checkpoint == nil || !got.Checkpoint.Equal(exampleDay) {
		t.Errorf("stored checkpoint = %v", got.Checkpoint)
	}
}
