package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/api/dto"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
)

var exampleDay = time.Date(2024, 12, 19, 0, 0, 0, 0, time.UTC)

func TestSyncHandler_Sync(t *testing.T) {
	result := &syncjob.Result{
		UserID:              testUserID,
		Vendor:              "fitbit",
		Range:               observation.SingleDay(exampleDay),
		ObservationsCreated: 2,
		Errors:              []syncjob.UnitError{},
		Checkpoint:          "2024-12-19",
	}

	tests := []struct {
		name       string
		body       string
		runnerErr  error
		wantStatus int
		wantCode   string
		wantRange  string
	}{
		{name: "default range", wantStatus: http.StatusOK},
		{name: "explicit range", body: `{"from":"2024-12-19","to":"2024-12-19"}`, wantStatus: http.StatusOK, wantRange: "2024-12-19..2024-12-19"},
		{name: "half range", body: `{"from":"2024-12-19"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "malformed day", body: `{"from":"19/12/2024","to":"2024-12-19"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "reversed range", body: `{"from":"2024-12-19","to":"2024-12-01"}`, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "unknown field", body: `{"since":"2024-12-19"}`, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "not connected", runnerErr: errors.NotConnected("fitbit"), wantStatus: http.StatusConflict, wantCode: "NOT_CONNECTED"},
		{name: "already syncing", runnerErr: errors.AlreadySyncing("fitbit"), wantStatus: http.StatusConflict, wantCode: "ALREADY_SYNCING"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: result, err: tt.runnerErr}
			handler := NewSyncHandler(runner, &fakeJobs{}, logger.Nop(), validator.New())

			rr := httptest.NewRecorder()
			handler.Sync(rr, request(http.MethodPost, "/api/v1/integrations/fitbit/sync", tt.body, map[string]string{"vendor": "fitbit"}))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			env := decode(t, rr)
			if env.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", env.Error.Code, tt.wantCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var got dto.SyncResultDTO
			if err := json.Unmarshal(env.Data, &got); err != nil {
				t.Fatal(err)
			}
			if got.Outcome != "success" || got.ObservationsCreated != 2 || got.Checkpoint != "2024-12-19" {
				t.Errorf("unexpected result: %+v", got)
			}
			if got.Errors == nil {
				t.Error("errors should encode as an empty list")
			}

			if len(runner.ranges) != 1 {
				t.Fatalf("runner called %d times", len(runner.ranges))
			}
			switch r := runner.ranges[0]; {
			case tt.wantRange == "" && r != nil:
				t.Errorf("range = %s, want default", r)
			case tt.wantRange != "" && (r == nil || r.String() != tt.wantRange):
				t.Errorf("range = %v, want %s", r, tt.wantRange)
			}
		})
	}
}

func TestSyncHandler_SyncAsync(t *testing.T) {
	runner := &fakeRunner{}
	handler := NewSyncHandler(runner, &fakeJobs{}, logger.Nop(), validator.New())

	rr := httptest.NewRecorder()
	handler.Sync(rr, request(http.MethodPost, "/api/v1/integrations/oura/sync?async=true",
		`{"from":"2024-12-18","to":"2024-12-19"}`, map[string]string{"vendor": "oura"}))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	var got dto.SyncJobDTO
	if err := json.Unmarshal(decode(t, rr).Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.Status != "queued" || got.Trigger != "manual" {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.Range == nil || got.Range.From != "2024-12-18" || got.Range.To != "2024-12-19" {
		t.Errorf("range = %+v", got.Range)
	}
	if len(runner.ranges) != 0 {
		t.Error("async sync must not run inline")
	}
}

func TestSyncHandler_GetJob(t *testing.T) {
	const id = "0b6f1a0e-9a55-4a58-8a6c-5c1f3f7c2d10"
	res, _ := json.Marshal(&syncjob.Result{Vendor: "fitbit", Range: observation.SingleDay(exampleDay), ObservationsSkipped: 2})
	jobs := &fakeJobs{jobs: map[string]*syncjob.Job{
		id: {ID: id, UserID: testUserID, Vendor: "fitbit", Status: syncjob.StatusSucceeded, Result: res},
	}}
	handler := NewSyncHandler(&fakeRunner{}, jobs, logger.Nop(), validator.New())

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{name: "own job", id: id, wantStatus: http.StatusOK},
		{name: "unknown job", id: "5d1c54a6-5b8e-4a1c-9c39-1f7d3e0b9a77", wantStatus: http.StatusNotFound},
		{name: "malformed id", id: "not-a-uuid", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.GetJob(rr, request(http.MethodGet, "/api/v1/sync-jobs/x", "", map[string]string{"id": tt.id}))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got dto.SyncJobDTO
			if err := json.Unmarshal(decode(t, rr).Data, &got); err != nil {
				t.Fatal(err)
			}
			if got.Result == nil || got.Result.ObservationsSkipped != 2 || got.Result.Outcome != "success" {
				t.Errorf("result = %+v", got.Result)
			}
		})
	}
}

func TestSyncHandler_ListJobs(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*syncjob.Job{}}
	handler := NewSyncHandler(&fakeRunner{}, jobs, logger.Nop(), validator.New())

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "defaults", wantStatus: http.StatusOK, wantLimit: 20},
		{name: "limit capped", query: "?limit=1000", wantStatus: http.StatusOK, wantLimit: maxJobListLimit},
		{name: "bad limit", query: "?limit=-1", wantStatus: http.StatusBadRequest},
		{name: "bad status", query: "?status=exploded", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs.filters = nil
			rr := httptest.NewRecorder()
			handler.ListJobs(rr, request(http.MethodGet, "/api/v1/sync-jobs"+tt.query, "", nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if len(jobs.filters) != 1 || jobs.filters[0].Limit != tt.wantLimit || jobs.filters[0].UserID != testUserID {
				t.Errorf("filters = %+v", jobs.filters)
			}
		})
	}
}
