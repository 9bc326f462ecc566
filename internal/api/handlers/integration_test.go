package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/api/dto"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
)

func newIntegrationHandler(svc *fakeIntegrations, frontendURL string) *IntegrationHandler {
	return NewIntegrationHandler(svc, logger.Nop(), validator.New(), frontendURL)
}

func TestIntegrationHandler_List(t *testing.T) {
	svc := newFakeIntegrations()
	lastSync := time.Date(2024, 12, 19, 20, 0, 0, 0, time.UTC)
	svc.views["fitbit"] = &integration.StatusView{
		Vendor:         "fitbit",
		Status:         integration.StatusConnected,
		Checkpoint:     "2024-12-19",
		LastSyncAt:     &lastSync,
		LastSyncStatus: "success",
		LastJob:        &syncjob.Job{ID: "job-1", Vendor: "fitbit", Status: syncjob.StatusSucceeded},
	}
	svc.views["oura"] = &integration.StatusView{Vendor: "oura", Status: integration.StatusNotSelected}
	handler := newIntegrationHandler(svc, "")

	rr := httptest.NewRecorder()
	handler.List(rr, request(http.MethodGet, "/api/v1/integrations", "", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	env := decode(t, rr)
	var got []dto.IntegrationDTO
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d integrations, want 2", len(got))
	}
	if got[0].Checkpoint != "2024-12-19" || got[0].LastJob == nil || got[0].LastJob.ID != "job-1" {
		t.Errorf("unexpected fitbit view: %+v", got[0])
	}
	if got[1].Status != "not_selected" {
		t.Errorf("oura status = %q", got[1].Status)
	}
}

func TestIntegrationHandler_Status(t *testing.T) {
	svc := newFakeIntegrations()
	svc.views["fitbit"] = &integration.StatusView{Vendor: "fitbit", Status: integration.StatusSelected}
	handler := newIntegrationHandler(svc, "")

	tests := []struct {
		name       string
		vendor     string
		wantStatus int
		wantCode   string
	}{
		{name: "known vendor", vendor: "fitbit", wantStatus: http.StatusOK},
		{name: "unregistered vendor", vendor: "garmin", wantStatus: http.StatusBadRequest, wantCode: "UNSUPPORTED_VENDOR"},
		{name: "malformed vendor", vendor: "Fit%20Bit", wantStatus: http.StatusBadRequest, wantCode: "UNSUPPORTED_VENDOR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.Status(rr, request(http.MethodGet, "/api/v1/integrations/x", "", map[string]string{"vendor": tt.vendor}))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if env := decode(t, rr); env.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", env.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestIntegrationHandler_SelectUsesSessionSubject(t *testing.T) {
	svc := newFakeIntegrations()
	handler := newIntegrationHandler(svc, "")

	rr := httptest.NewRecorder()
	handler.Select(rr, request(http.MethodPost, "/api/v1/integrations/fitbit/select", "", map[string]string{"vendor": "fitbit"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(svc.selected) != 1 || svc.selected[0] != testSubject+"|fitbit" {
		t.Errorf("selected = %v", svc.selected)
	}
}

func TestIntegrationHandler_Authorize(t *testing.T) {
	svc := newFakeIntegrations()
	svc.authURL = "https://www.fitbit.com/oauth2/authorize?state=abc"
	handler := newIntegrationHandler(svc, "")

	rr := httptest.NewRecorder()
	handler.Authorize(rr, request(http.MethodPost, "/api/v1/integrations/fitbit/authorize", "", map[string]string{"vendor": "fitbit"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got dto.AuthorizeResponse
	if err := json.Unmarshal(decode(t, rr).Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.AuthorizationURL != svc.authURL {
		t.Errorf("authorization url = %q", got.AuthorizationURL)
	}
}

func TestIntegrationHandler_Callback(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
		wantFailed int
	}{
		{name: "success", query: "?code=abc&state=good-state", wantStatus: http.StatusOK},
		{name: "missing state", query: "?code=abc", wantStatus: http.StatusBadRequest, wantCode: "AUTHORIZATION_STATE_INVALID"},
		{name: "tampered state", query: "?code=abc&state=forged", wantStatus: http.StatusBadRequest, wantCode: "AUTHORIZATION_STATE_INVALID"},
		{name: "user denied", query: "?error=access_denied&state=good-state", wantStatus: http.StatusBadRequest, wantCode: "AUTHORIZATION_FAILED", wantFailed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeIntegrations()
			handler := newIntegrationHandler(svc, "")

			rr := httptest.NewRecorder()
			handler.Callback(rr, request(http.MethodGet, "/api/v1/oauth/callback"+tt.query, "", nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if env := decode(t, rr); env.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", env.Error.Code, tt.wantCode)
			}
			if len(svc.failed) != tt.wantFailed {
				t.Errorf("failed authorizations = %d, want %d", len(svc.failed), tt.wantFailed)
			}
		})
	}
}

func TestIntegrationHandler_CallbackRedirectsToFrontend(t *testing.T) {
	svc := newFakeIntegrations()
	handler := newIntegrationHandler(svc, "https://app.example.com/")

	rr := httptest.NewRecorder()
	handler.Callback(rr, request(http.MethodGet, "/api/v1/oauth/callback?code=abc&state=good-state", "", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(loc.String(), "https://app.example.com/integrations?") {
		t.Errorf("location = %s", loc)
	}
	if loc.Query().Get("status") != "connected" || loc.Query().Get("vendor") != "fitbit" {
		t.Errorf("query = %v", loc.Query())
	}
	if strings.Contains(loc.RawQuery, "abc") {
		t.Error("authorization code leaked into redirect")
	}

	rr = httptest.NewRecorder()
	handler.Callback(rr, request(http.MethodGet, "/api/v1/oauth/callback?code=abc&state=forged", "", nil))
	loc, _ = url.Parse(rr.Header().Get("Location"))
	if loc.Query().Get("status") != "failed" || loc.Query().Get("error") != "AUTHORIZATION_STATE_INVALID" {
		t.Errorf("failure redirect query = %v", loc.Query())
	}
}

func TestIntegrationHandler_Disconnect(t *testing.T) {
	svc := newFakeIntegrations()
	handler := newIntegrationHandler(svc, "")

	rr := httptest.NewRecorder()
	handler.Disconnect(rr, request(http.MethodPost, "/api/v1/integrations/oura/disconnect", "", map[string]string{"vendor": "oura"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got dto.SelectResponse
	if err := json.Unmarshal(decode(t, rr).Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "disconnected" {
		t.Errorf("status = %q", got.Status)
	}
}
