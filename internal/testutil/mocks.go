package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// MockCredentialRepository is an in-memory credential.Repository
type MockCredentialRepository struct {
	mu          sync.Mutex
	Records     map[int64]*credential.SealedRecord
	UpsertError error
	GetError    error
}

func NewMockCredentialRepository() *MockCredentialRepository {
	return &MockCredentialRepository{
		Records: make(map[int64]*credential.SealedRecord),
	}
}

func (m *MockCredentialRepository) Upsert(ctx context.Context, integrationID int64, payload string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.Records[integrationID] = &credential.SealedRecord{
		IntegrationID: integrationID,
		Payload:       payload,
		ExpiresAt:     expiresAt,
		UpdatedAt:     time.Now().UTC(),
	}
	return nil
}

func (m *MockCredentialRepository) Reseal(ctx context.Context, integrationID int64, oldPayload, newPayload string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertError != nil {
		return false, m.UpsertError
	}
	rec, ok := m.Records[integrationID]
	if !ok || rec.Payload != oldPayload {
		return false, nil
	}
	cp := *rec
	cp.Payload = newPayload
	cp.UpdatedAt = time.Now().UTC()
	m.Records[integrationID] = &cp
	return true, nil
}

func (m *MockCredentialRepository) Get(ctx context.Context, integrationID int64) (*credential.SealedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	rec, ok := m.Records[integrationID]
	if !ok {
		return nil, errors.NotFound("Credential")
	}
	cp := *rec
	return &cp, nil
}

func (m *MockCredentialRepository) Delete(ctx context.Context, integrationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Records, integrationID)
	return nil
}

// MockCredentialStore is a plaintext credential.Store for service tests
type MockCredentialStore struct {
	mu    sync.Mutex
	Creds map[int64]*credential.Credential
	Puts  int
}

func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{Creds: make(map[int64]*credential.Credential)}
}

func (m *MockCredentialStore) Put(ctx context.Context, integrationID int64, c *credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.Creds[integrationID] = &cp
	m.Puts++
	return nil
}

func (m *MockCredentialStore) Get(ctx context.Context, integrationID int64) (*credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Creds[integrationID]
	if !ok {
		return nil, errors.NotFound("Credential")
	}
	cp := *c
	return &cp, nil
}

func (m *MockCredentialStore) Delete(ctx context.Context, integrationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Creds, integrationID)
	return nil
}

// Has reports whether a credential is stored for the integration
func (m *MockCredentialStore) Has(integrationID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Creds[integrationID]
	return ok
}

// MockObservationStore is an in-memory clinical store with conditional
// create on the dedup identifier.
type MockObservationStore struct {
	mu           sync.Mutex
	items        map[string]*observation.Observation
	ids          map[string]string
	SubmitCalls  int
	SubmitErrors []error
	ExistsError  error
	SearchError  error
}

func NewMockObservationStore() *MockObservationStore {
	return &MockObservationStore{
		items: make(map[string]*observation.Observation),
		ids:   make(map[string]string),
	}
}

func storeKey(subjectRef, dedupID string) string {
	return subjectRef + "|" + dedupID
}

func (m *MockObservationStore) Submit(ctx context.Context, o *observation.Observation) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitCalls++
	if len(m.SubmitErrors) > 0 {
		err := m.SubmitErrors[0]
		m.SubmitErrors = m.SubmitErrors[1:]
		if err != nil {
			return "", false, err
		}
	}

	key := storeKey(o.SubjectRef, o.DedupID)
	if id, ok := m.ids[key]; ok {
		return id, false, nil
	}
	id := fmt.Sprintf("obs-%d", len(m.items)+1)
	cp := *o
	m.items[key] = &cp
	m.ids[key] = id
	return id, true, nil
}

func (m *MockObservationStore) Exists(ctx context.Context, subjectRef, dedupID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	_, ok := m.items[storeKey(subjectRef, dedupID)]
	return ok, nil
}

func (m *MockObservationStore) Search(ctx context.Context, subjectRef string, filter observation.Filter) (*observation.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchError != nil {
		return nil, m.SearchError
	}

	var matched []observation.Summary
	for key, o := range m.items {
		if o.SubjectRef != subjectRef {
			continue
		}
		if filter.Code != "" && o.Code != filter.Code {
			continue
		}
		if filter.From != nil && o.Effective.Before(*filter.From) {
			continue
		}
		if filter.To != nil && o.Effective.After(*filter.To) {
			continue
		}
		matched = append(matched, observation.Summary{
			ID:        m.ids[key],
			Code:      o.Code,
			Display:   o.Display,
			Value:     o.Value,
			Unit:      o.Unit,
			Effective: o.Effective,
		})
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Effective.Equal(matched[j].Effective) {
			return matched[i].Code < matched[j].Code
		}
		return matched[i].Effective.After(matched[j].Effective)
	})

	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	end := start + size
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return &observation.Page{Items: matched[start:end], Total: len(matched)}, nil
}

// Add seeds an observation directly, bypassing Submit
func (m *MockObservationStore) Add(o *observation.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey(o.SubjectRef, o.DedupID)
	cp := *o
	m.items[key] = &cp
	m.ids[key] = fmt.Sprintf("obs-%d", len(m.items))
}

// Count returns the number of stored observations for a subject
func (m *MockObservationStore) Count(subjectRef string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.items {
		if o.SubjectRef == subjectRef {
			n++
		}
	}
	return n
}

// Observations returns a subject's stored observations ordered by time and code
func (m *MockObservationStore) Observations(subjectRef string) []*observation.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*observation.Observation
	for _, o := range m.items {
		if o.SubjectRef == subjectRef {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Effective.Equal(out[j].Effective) {
			return out[i].Code < out[j].Code
		}
		return out[i].Effective.Before(out[j].Effective)
	})
	return out
}

// Codes returns the LOINC codes stored for a subject
func (m *MockObservationStore) Codes(subjectRef string) map[string]int {
	codes := make(map[string]int)
	for _, o := range m.Observations(subjectRef) {
		codes[o.Code]++
	}
	return codes
}
