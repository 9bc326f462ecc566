package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/api/handlers"
	"github.com/pratik-mahalle/vitalsync/internal/auth"
	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
)

const testSecret = "router-test-secret-router-test-secret"

type stubIntegrations struct{ integration.Service }

func (stubIntegrations) List(ctx context.Context, userID int64) ([]*integration.StatusView, error) {
	return []*integration.StatusView{{Vendor: "fitbit", Status: integration.StatusNotSelected}}, nil
}

func (stubIntegrations) CompleteAuthorization(ctx context.Context, code, state string) (*integration.Integration, error) {
	return nil, errors.AuthStateInvalid("state is invalid or expired")
}

type stubJobs struct{ syncjob.Service }

type stubRunner struct{}

func (stubRunner) Sync(ctx context.Context, userID int64, vendor string, r *observation.DateRange) (*syncjob.Result, error) {
	return nil, errors.NotConnected(vendor)
}

type stubObservations struct{}

func (stubObservations) List(ctx context.Context, userID int64, subjectRef string, f observation.Filter) (*observation.Page, error) {
	return &observation.Page{Items: []observation.Summary{}}, nil
}

func newTestRouter() http.Handler {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testSecret
	cfg.Server.RateLimitRPS = 1000
	cfg.Server.RateLimitBurst = 1000

	log := logger.Nop()
	val := validator.New()
	return New(cfg, log, &Handlers{
		Health:      handlers.NewHealthHandler(nil, log),
		Integration: handlers.NewIntegrationHandler(stubIntegrations{}, log, val, ""),
		Sync:        handlers.NewSyncHandler(stubRunner{}, stubJobs{}, log, val),
		Observation: handlers.NewObservationHandler(stubObservations{}, log, val),
	})
}

func TestRouter(t *testing.T) {
	token, err := auth.MintAccessToken(7, "Patient/7", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	r := newTestRouter()

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/readyz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "integrations need a session", method: http.MethodGet, path: "/api/v1/integrations", wantStatus: http.StatusUnauthorized},
		{name: "integrations", method: http.MethodGet, path: "/api/v1/integrations", token: token, wantStatus: http.StatusOK},
		{name: "forged token", method: http.MethodGet, path: "/api/v1/integrations", token: token + "x", wantStatus: http.StatusUnauthorized},
		{name: "sync not connected", method: http.MethodPost, path: "/api/v1/integrations/fitbit/sync", token: token, wantStatus: http.StatusConflict},
		{name: "observations", method: http.MethodGet, path: "/api/v1/observations", token: token, wantStatus: http.StatusOK},
		{name: "callback is public", method: http.MethodGet, path: "/api/v1/oauth/callback?code=a&state=b", wantStatus: http.StatusBadRequest},
		{name: "no PUT on integrations", method: http.MethodPut, path: "/api/v1/integrations/fitbit/select", token: token, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("missing request id header")
			}
		})
	}
}
