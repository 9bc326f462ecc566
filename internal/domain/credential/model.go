package credential

import "time"

// Credential is the OAuth material for one integration. It only ever leaves
// the process sealed; see Store.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	VendorUserID string    `json:"vendor_user_id,omitempty"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A zero expiry means the vendor did not say, and is treated as non-expiring.
func (c *Credential) ExpiresWithin(margin time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}

// CanRefresh reports whether a refresh grant is possible.
func (c *Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// SealedRecord is the persisted form of a Credential.
type SealedRecord struct {
	IntegrationID int64
	Payload       string
	// ExpiresAt mirrors the sealed expiry so status checks need no decryption.
	ExpiresAt *time.Time
	UpdatedAt time.Time
}
