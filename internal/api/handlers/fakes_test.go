package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/vitalsync/internal/api/middleware"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

const (
	testUserID  int64 = 42
	testSubject       = "Patient/123"
)

// request builds an authenticated request with chi URL params
func request(method, target string, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithIdentity(ctx, testUserID, testSubject)
	return req.WithContext(ctx)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

type fakeIntegrations struct {
	views    map[string]*integration.StatusView
	selected []string
	failed   []string
	code     string
	authURL  string
	err      error
}

func newFakeIntegrations() *fakeIntegrations {
	return &fakeIntegrations{views: make(map[string]*integration.StatusView)}
}

func (f *fakeIntegrations) Select(ctx context.Context, userID int64, subjectRef, vendor string) (*integration.Integration, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.selected = append(f.selected, subjectRef+"|"+vendor)
	return &integration.Integration{UserID: userID, Vendor: vendor, SubjectRef: subjectRef, Status: integration.StatusSelected}, nil
}

func (f *fakeIntegrations) BeginAuthorization(ctx context.Context, userID int64, vendor string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.authURL, nil
}

func (f *fakeIntegrations) CompleteAuthorization(ctx context.Context, code, state string) (*integration.Integration, error) {
	if state != "good-state" {
		return nil, errors.AuthStateInvalid("state is invalid or expired")
	}
	f.code = code
	return &integration.Integration{Vendor: "fitbit", Status: integration.StatusConnected}, nil
}

func (f *fakeIntegrations) FailAuthorization(ctx context.Context, state, reason string) error {
	if state != "good-state" {
		return errors.AuthStateInvalid("state is invalid or expired")
	}
	f.failed = append(f.failed, reason)
	return nil
}

func (f *fakeIntegrations) Get(ctx context.Context, userID int64, vendor string) (*integration.Integration, error) {
	return nil, errors.NotFound("Integration")
}

func (f *fakeIntegrations) Status(ctx context.Context, userID int64, vendor string) (*integration.StatusView, error) {
	if v, ok := f.views[vendor]; ok {
		return v, nil
	}
	return nil, errors.UnsupportedVendor(vendor)
}

func (f *fakeIntegrations) List(ctx context.Context, userID int64) ([]*integration.StatusView, error) {
	var out []*integration.StatusView
	for _, v := range []string{"fitbit", "oura"} {
		if view, ok := f.views[v]; ok {
			out = append(out, view)
		}
	}
	return out, nil
}

func (f *fakeIntegrations) Disconnect(ctx context.Context, userID int64, vendor string) error {
	return f.err
}

func (f *fakeIntegrations) Revoke(ctx context.Context, in *integration.Integration) error {
	return nil
}

type fakeRunner struct {
	result *syncjob.Result
	err    error
	ranges []*observation.DateRange
}

func (f *fakeRunner) Sync(ctx context.Context, userID int64, vendor string, r *observation.DateRange) (*syncjob.Result, error) {
	f.ranges = append(f.ranges, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeJobs struct {
	jobs    map[string]*syncjob.Job
	filters []syncjob.Filter
	err     error
}

func (f *fakeJobs) Enqueue(ctx context.Context, userID int64, vendor string, trigger syncjob.Trigger, r *observation.DateRange) (*syncjob.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &syncjob.Job{
		ID:          "0b6f1a0e-9a55-4a58-8a6c-5c1f3f7c2d10",
		UserID:      userID,
		Vendor:      vendor,
		Trigger:     trigger,
		Status:      syncjob.StatusQueued,
		MaxAttempts: 3,
		Range:       r,
	}, nil
}

func (f *fakeJobs) Get(ctx context.Context, userID int64, id string) (*syncjob.Job, error) {
	j, ok := f.jobs[id]
	if !ok || j.UserID != userID {
		return nil, errors.NotFound("Sync job")
	}
	return j, nil
}

func (f *fakeJobs) List(ctx context.Context, filter syncjob.Filter) ([]*syncjob.Job, error) {
	f.filters = append(f.filters, filter)
	var out []*syncjob.Job
	for _, j := range f.jobs {
		if j.UserID == filter.UserID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) Run(ctx context.Context, job *syncjob.Job) error { return nil }

func (f *fakeJobs) ScheduleDue(ctx context.Context) (int, error) { return 0, nil }

type fakeObservations struct {
	page    *observation.Page
	filters []observation.Filter
	err     error
}

func (f *fakeObservations) List(ctx context.Context, userID int64, subjectRef string, filter observation.Filter) (*observation.Page, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}
