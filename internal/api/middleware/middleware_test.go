package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/auth"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
)

const secret = "middleware-test-secret-0123456789"

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := GetUserID(r)
		ref, _ := GetSubjectRef(r)
		if uid == 0 || ref == "" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("X-Subject", ref)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := auth.MintAccessToken(3, "Patient/3", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := auth.MintAccessToken(3, "Patient/3", secret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	otherKey, err := auth.MintAccessToken(3, "Patient/3", "another-secret-another-secret-xx", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
	}{
		{name: "bearer", header: "Bearer " + valid, wantStatus: http.StatusNoContent},
		{name: "lower case scheme", header: "bearer " + valid, wantStatus: http.StatusNoContent},
		{name: "cookie", cookie: valid, wantStatus: http.StatusNoContent},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + otherKey, wantStatus: http.StatusUnauthorized},
	}

	h := AuthMiddleware(secret)(identityEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "accessToken", Value: tt.cookie})
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusNoContent && rr.Header().Get("X-Subject") != "Patient/3" {
				t.Errorf("subject = %q", rr.Header().Get("X-Subject"))
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("keys must not share buckets")
	}

	rl.Cleanup(time.Hour)
	if rl.Len() != 2 {
		t.Errorf("fresh keys dropped: %d", rl.Len())
	}
	rl.Cleanup(-time.Second)
	if rl.Len() != 0 {
		t.Errorf("idle keys kept: %d", rl.Len())
	}
}

func TestRateLimit_SharesBucketAcrossPorts(t *testing.T) {
	h := RateLimit(0.001, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, addr := range []string{"10.0.0.1:5000", "10.0.0.1:5001"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		want := http.StatusOK
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request %d status = %d, want %d", i, rr.Code, want)
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "propagated", incoming: "req-123.abc_X", keep: true},
		{name: "generated", incoming: ""},
		{name: "log injection", incoming: "abc\ninjected=1"},
		{name: "too long", incoming: strings.Repeat("a", 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if seen == "" || rr.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("request id %q not echoed (header %q)", seen, rr.Header().Get(RequestIDHeader))
			}
			if got := seen == tt.incoming; got != tt.keep {
				t.Errorf("kept incoming id = %v, want %v", got, tt.keep)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("access_token=secret")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret") {
		t.Error("panic value leaked to client")
	}
}
