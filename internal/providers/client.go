package providers

import (
	"context"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// Vendor names
const (
	VendorFitbit = "fitbit"
	VendorOura   = "oura"
)

// Session is what a client needs to call a vendor on a user's behalf
type Session struct {
	AccessToken  string
	VendorUserID string
	// Location interprets vendor local times and day boundaries.
	Location *time.Location
}

func (s Session) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Client fetches raw samples from one vendor. Implementations hide
// pagination, auth headers and payload shapes, and classify failures as
// VENDOR_UNAUTHORIZED, VENDOR_RATE_LIMITED (with a retry hint),
// VENDOR_TRANSIENT or VENDOR_MALFORMED_RESPONSE.
type Client interface {
	Vendor() string
	Capabilities() []observation.Kind
	FetchMetric(ctx context.Context, kind observation.Kind, sess Session, r observation.DateRange) ([]observation.RawSample, error)
}

// Grant is the result of a successful authorization code exchange
type Grant struct {
	Credential *credential.Credential
	// Timezone is the vendor profile's IANA zone, when known.
	Timezone string
}

// Connector drives a vendor's OAuth endpoints
type Connector interface {
	Vendor() string
	// AuthCodeURL returns the consent URL carrying state and the PKCE
	// challenge derived from verifier.
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*Grant, error)
	// Refresh performs a refresh grant. A grant the vendor no longer honors
	// fails with TOKEN_REVOKED; anything else with TOKEN_REFRESH_FAILED.
	Refresh(ctx context.Context, c *credential.Credential) (*credential.Credential, error)
}

// Supports reports whether c advertises kind
func Supports(c Client, kind observation.Kind) bool {
	for _, k := range c.Capabilities() {
		if k == kind {
			return true
		}
	}
	return false
}
