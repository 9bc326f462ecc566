package dto

import (
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
)

// IntegrationDTO describes one vendor integration in API responses. Tokens
// and the vendor account id are never exposed.
type IntegrationDTO struct {
	Vendor               string      `json:"vendor"`
	Status               string      `json:"status"`
	Checkpoint           string      `json:"checkpoint,omitempty"`
	LastSyncAt           *time.Time  `json:"lastSyncAt,omitempty"`
	LastSyncStatus       string      `json:"lastSyncStatus,omitempty"`
	CredentialExpiresAt  *time.Time  `json:"credentialExpiresAt,omitempty"`
	CredentialNearExpiry bool        `json:"credentialNearExpiry"`
	LastJob              *SyncJobDTO `json:"lastJob,omitempty"`
}

// NewIntegrationDTO converts a status view
func NewIntegrationDTO(v *integration.StatusView) IntegrationDTO {
	out := IntegrationDTO{
		Vendor:               v.Vendor,
		Status:               string(v.Status),
		Checkpoint:           v.Checkpoint,
		LastSyncAt:           v.LastSyncAt,
		LastSyncStatus:       v.LastSyncStatus,
		CredentialExpiresAt:  v.CredentialExpiresAt,
		CredentialNearExpiry: v.CredentialNearExpiry,
	}
	if v.LastJob != nil {
		job := NewSyncJobDTO(v.LastJob)
		out.LastJob = &job
	}
	return out
}

// SelectResponse is returned after a vendor is selected
type SelectResponse struct {
	Vendor string `json:"vendor"`
	Status string `json:"status"`
}

// AuthorizeResponse carries the vendor consent URL the user must visit
type AuthorizeResponse struct {
	Vendor           string `json:"vendor"`
	AuthorizationURL string `json:"authorizationUrl"`
}

// CallbackResponse is returned by the OAuth callback when no frontend is
// configured to redirect to
type CallbackResponse struct {
	Vendor string `json:"vendor"`
	Status string `json:"status"`
}
