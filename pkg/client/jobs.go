package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// JobService handles sync job calls
type JobService struct {
	client *Client
}

// JobListOptions filters job listings
type JobListOptions struct {
	Vendor string
	Status string
	Limit  int
}

// Get returns one job
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	var out Job
	if err := s.client.doRequest(ctx, http.MethodGet, "/api/v1/sync-jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns recent jobs, newest first
func (s *JobService) List(ctx context.Context, opts *JobListOptions) ([]Job, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Vendor != "" {
			query.Set("vendor", opts.Vendor)
		}
		if opts.Status != "" {
			query.Set("status", opts.Status)
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
	}

	path := "/api/v1/sync-jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out []Job
	if err := s.client.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Wait polls a job every interval until it finishes or ctx ends
func (s *JobService) Wait(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
