package testutil

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
)

// FakeVendor is a scripted vendor acting as both data client and OAuth
// connector.
type FakeVendor struct {
	Name  string
	Kinds []observation.Kind

	mu          sync.Mutex
	samples     map[observation.Kind][]observation.RawSample
	fetchErrors map[observation.Kind][]error
	fetchCalls  map[observation.Kind]int
	tokens      []string

	// RejectToken makes fetches presenting this access token fail as
	// unauthorized.
	RejectToken string

	// RefreshFunc decides refresh outcomes. The default rotates the token.
	RefreshFunc  func(c *credential.Credential) (*credential.Credential, error)
	RefreshDelay time.Duration
	refreshCalls int32

	Grant         *providers.Grant
	ExchangeError error
	exchanges     []string
}

func NewFakeVendor(name string, kinds ...observation.Kind) *FakeVendor {
	return &FakeVendor{
		Name:        name,
		Kinds:       kinds,
		samples:     make(map[observation.Kind][]observation.RawSample),
		fetchErrors: make(map[observation.Kind][]error),
		fetchCalls:  make(map[observation.Kind]int),
	}
}

func (f *FakeVendor) Vendor() string { return f.Name }

func (f *FakeVendor) Capabilities() []observation.Kind { return f.Kinds }

// AddSamples queues samples returned for a kind
func (f *FakeVendor) AddSamples(kind observation.Kind, samples ...observation.RawSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range samples {
		if samples[i].Vendor == "" {
			samples[i].Vendor = f.Name
		}
	}
	f.samples[kind] = append(f.samples[kind], samples...)
}

// FailNext makes the next fetches of kind fail with errs, in order
func (f *FakeVendor) FailNext(kind observation.Kind, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrors[kind] = append(f.fetchErrors[kind], errs...)
}

func (f *FakeVendor) FetchMetric(ctx context.Context, kind observation.Kind, sess providers.Session, r observation.DateRange) ([]observation.RawSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls[kind]++
	f.tokens = append(f.tokens, sess.AccessToken)
	if err := ctx.Err(); err != nil {
		return nil, errors.VendorTransient(f.Name, err)
	}
	if f.RejectToken != "" && sess.AccessToken == f.RejectToken {
		return nil, errors.VendorUnauthorized(f.Name)
	}
	if errs := f.fetchErrors[kind]; len(errs) > 0 {
		f.fetchErrors[kind] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}

	loc := sess.Location
	if loc == nil {
		loc = time.UTC
	}
	var out []observation.RawSample
	for _, s := range f.samples[kind] {
		if r.Contains(s.Timestamp.In(loc)) {
			out = append(out, s)
		}
	}
	return out, nil
}

// FetchCalls returns how often kind was fetched
func (f *FakeVendor) FetchCalls(kind observation.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[kind]
}

// Tokens returns the access tokens presented so far
func (f *FakeVendor) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func (f *FakeVendor) AuthCodeURL(state, verifier string) string {
	return "https://vendor.example/authorize?state=" + state + "&vendor=" + f.Name
}

func (f *FakeVendor) Exchange(ctx context.Context, code, verifier string) (*providers.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, code)
	if f.ExchangeError != nil {
		return nil, f.ExchangeError
	}
	if f.Grant != nil {
		g := *f.Grant
		c := *f.Grant.Credential
		g.Credential = &c
		return &g, nil
	}
	return &providers.Grant{
		Credential: &credential.Credential{
			AccessToken:  "access-" + code,
			RefreshToken: "refresh-" + code,
			ExpiresAt:    time.Now().Add(time.Hour),
			VendorUserID: "vendor-user",
		},
	}, nil
}

// Exchanges returns the authorization codes exchanged so far
func (f *FakeVendor) Exchanges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.exchanges...)
}

func (f *FakeVendor) Refresh(ctx context.Context, c *credential.Credential) (*credential.Credential, error) {
	n := atomic.AddInt32(&f.refreshCalls, 1)
	if f.RefreshDelay > 0 {
		select {
		case <-time.After(f.RefreshDelay):
		case <-ctx.Done():
			return nil, errors.TokenRefreshFailed(f.Name, ctx.Err())
		}
	}
	if f.RefreshFunc != nil {
		return f.RefreshFunc(c)
	}
	if !c.CanRefresh() {
		return nil, errors.TokenRevoked(f.Name, nil)
	}
	next := *c
	next.AccessToken = "access-refreshed-" + strconv.Itoa(int(n))
	next.ExpiresAt = time.Now().Add(time.Hour)
	return &next, nil
}

// RefreshCalls returns how many refresh grants were attempted
func (f *FakeVendor) RefreshCalls() int {
	return int(atomic.LoadInt32(&f.refreshCalls))
}

var _ providers.Client = (*FakeVendor)(nil)
var _ providers.Connector = (*FakeVendor)(nil)
