package client

import (
	"context"
	"net/http"
	"net/url"
)

// IntegrationService handles vendor integration calls
type IntegrationService struct {
	client *Client
}

// SyncRequest bounds a sync run. Leave both empty to sync from the
// checkpoint through today.
type SyncRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func vendorPath(vendor, action string) string {
	p := "/api/v1/integrations/" + url.PathEscape(vendor)
	if action != "" {
		p += "/" + action
	}
	return p
}

// List describes every supported vendor
func (s *IntegrationService) List(ctx context.Context) ([]Integration, error) {
	var out []Integration
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/integrations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get describes one vendor integration
func (s *IntegrationService) Get(ctx context.Context, vendor string) (*Integration, error) {
	var out Integration
	if err := s.client.doRequest(ctx, http.MethodGet, vendorPath(vendor, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Select chooses a vendor for the caller
func (s *IntegrationService) Select(ctx context.Context, vendor string) error {
	return s.client.doRequest(ctx, http.MethodPost, vendorPath(vendor, "select"), nil, nil)
}

// Authorize starts the OAuth flow and returns the consent URL
func (s *IntegrationService) Authorize(ctx context.Context, vendor string) (*Authorization, error) {
	var out Authorization
	if err := s.client.doRequest(ctx, http.MethodPost, vendorPath(vendor, "authorize"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Disconnect revokes the integration and destroys its credential
func (s *IntegrationService) Disconnect(ctx context.Context, vendor string) error {
	return s.client.doRequest(ctx, http.MethodPost, vendorPath(vendor, "disconnect"), nil, nil)
}

// Sync runs a sync inline and returns its report
func (s *IntegrationService) Sync(ctx context.Context, vendor string, req *SyncRequest) (*SyncResult, error) {
	var out SyncResult
	if err := s.client.doRequest(ctx, http.MethodPost, vendorPath(vendor, "sync"), syncBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncAsync queues a sync and returns the job
func (s *IntegrationService) SyncAsync(ctx context.Context, vendor string, req *SyncRequest) (*Job, error) {
	var out Job
	if err := s.client.doRequest(ctx, http.MethodPost, vendorPath(vendor, "sync")+"?async=true", syncBody(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func syncBody(req *SyncRequest) interface{} {
	if req == nil || (req.From == "" && req.To == "") {
		return nil
	}
	return req
}
