package integration

import (
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
)

// Integration is one user's link to one wearable vendor
type Integration struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Vendor           string     `json:"vendor"`
	Status           Status     `json:"status"`
	SubjectRef       string     `json:"subject_ref"`
	VendorUserID     string     `json:"-"`
	Timezone         string     `json:"timezone,omitempty"`
	Checkpoint       *time.Time `json:"checkpoint,omitempty"`
	AuthorizingUntil *time.Time `json:"-"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus   string     `json:"last_sync_status,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Status represents the lifecycle state of an integration
type Status string

const (
	// StatusNotSelected is never stored; it describes a missing row.
	StatusNotSelected  Status = "not_selected"
	StatusSelected     Status = "selected"
	StatusAuthorizing  Status = "authorizing"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Location returns the integration's IANA timezone, falling back to UTC.
func (i *Integration) Location() *time.Location {
	if i.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(i.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CanSync reports whether a sync run is permitted
func (i *Integration) CanSync() bool {
	return i.Status == StatusConnected
}

// AuthorizationExpired reports whether an authorizing integration's state
// window has passed at now.
func (i *Integration) AuthorizationExpired(now time.Time) bool {
	return i.Status == StatusAuthorizing && i.AuthorizingUntil != nil && !now.Before(*i.AuthorizingUntil)
}

// StatusView is what callers see when asking about an integration
type StatusView struct {
	Vendor               string       `json:"vendor"`
	Status               Status       `json:"status"`
	Checkpoint           string       `json:"checkpoint,omitempty"`
	LastSyncAt           *time.Time   `json:"last_sync_at,omitempty"`
	LastSyncStatus       string       `json:"last_sync_status,omitempty"`
	CredentialExpiresAt  *time.Time   `json:"credential_expires_at,omitempty"`
	CredentialNearExpiry bool         `json:"credential_near_expiry"`
	LastJob              *syncjob.Job `json:"last_job,omitempty"`
}
