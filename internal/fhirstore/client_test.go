package fhirstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/mapping"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// fakeServer implements just enough of a FHIR server: conditional create on
// identifier and search by identifier or subject.
type fakeServer struct {
	mu        sync.Mutex
	resources []mapping.Resource
	failNext  int
	lastQuery string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != 0 {
		status := f.failNext
		f.failNext = 0
		w.WriteHeader(status)
		w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","diagnostics":"boom"}]}`))
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/fhir/Observation":
		var res mapping.Resource
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cond := strings.TrimPrefix(r.Header.Get("If-None-Exist"), "identifier=")
		for _, existing := range f.resources {
			if matches(existing, cond) {
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(existing)
				return
			}
		}
		res.ID = "obs-" + string(rune('a'+len(f.resources)))
		f.resources = append(f.resources, res)
		w.Header().Set("Location", "http://x/fhir/Observation/"+res.ID+"/_history/1")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(res)
	case r.Method == http.MethodGet && r.URL.Path == "/fhir/Observation":
		f.lastQuery = r.URL.RawQuery
		q := r.URL.Query()
		var hits []mapping.Resource
		for _, res := range f.resources {
			if s := q.Get("subject"); s != "" && res.Subject.Reference != s {
				continue
			}
			if id := q.Get("identifier"); id != "" && !matches(res, id) {
				continue
			}
			hits = append(hits, res)
		}
		b := map[string]interface{}{"resourceType": "Bundle", "total": len(hits)}
		if q.Get("_summary") != "count" {
			var entries []map[string]interface{}
			for _, h := range hits {
				entries = append(entries, map[string]interface{}{"resource": h})
			}
			b["entry"] = entries
		}
		json.NewEncoder(w).Encode(b)
	case r.URL.Path == "/fhir/metadata":
		w.Write([]byte(`{"resourceType":"CapabilityStatement"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func matches(res mapping.Resource, token string) bool {
	for _, id := range res.Identifier {
		if id.System+"|"+id.Value == token {
			return true
		}
	}
	return false
}

func newClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/fhir/", BearerToken: "store-token"}), fake
}

func sampleObservation(t *testing.T) *observation.Observation {
	t.Helper()
	o, err := mapping.Map(observation.RawSample{
		Vendor:    "fitbit",
		Type:      observation.SampleHeartRate,
		Value:     72,
		Unit:      "bpm",
		Timestamp: time.Date(2024, 12, 19, 10, 30, 0, 0, time.UTC),
	}, "Patient/123")
	require.NoError(t, err)
	return o
}

func TestSubmit_ConditionalCreate(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	o := sampleObservation(t)

	exists, err := c.Exists(ctx, o.SubjectRef, o.DedupID)
	require.NoError(t, err)
	assert.False(t, exists)

	id, created, err := c.Submit(ctx, o)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "obs-a", id)

	id, created, err = c.Submit(ctx, o)
	require.NoError(t, err)
	assert.False(t, created, "second submission matches the identifier")
	assert.Equal(t, "obs-a", id)

	exists, err = c.Exists(ctx, o.SubjectRef, o.DedupID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.Exists(ctx, "Patient/other", o.DedupID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSubmit_ErrorClasses(t *testing.T) {
	c, fake := newClient(t)
	o := sampleObservation(t)

	fake.failNext = http.StatusServiceUnavailable
	_, _, err := c.Submit(context.Background(), o)
	assert.Equal(t, errors.ErrCodeStoreUnavailable, errors.CodeOf(err))

	fake.failNext = http.StatusUnprocessableEntity
	_, _, err = c.Submit(context.Background(), o)
	assert.Equal(t, errors.ErrCodeStoreSubmissionFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestSearch(t *testing.T) {
	c, fake := newClient(t)
	ctx := context.Background()
	_, _, err := c.Submit(ctx, sampleObservation(t))
	require.NoError(t, err)

	from := time.Date(2024, 12, 19, 0, 0, 0, 0, time.UTC)
	page, err := c.Search(ctx, "Patient/123", observation.Filter{Code: "8867-4", From: &from, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "8867-4", page.Items[0].Code)
	assert.Equal(t, "beats/min", page.Items[0].Unit)

	assert.Contains(t, fake.lastQuery, "_getpagesoffset=10")
	assert.Contains(t, fake.lastQuery, "code=http%3A%2F%2Floinc.org%7C8867-4")
	assert.Contains(t, fake.lastQuery, "date=ge2024-12-19T00%3A00%3A00Z")
}

func TestPing(t *testing.T) {
	c, _ := newClient(t)
	assert.NoError(t, c.Ping(context.Background()))
}
