package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ObservationService reads observations back from the caller's record
type ObservationService struct {
	client *Client
}

// ObservationListOptions filters observation listings. Dates are YYYY-MM-DD.
type ObservationListOptions struct {
	Code     string
	From     string
	To       string
	Page     int
	PageSize int
}

// List returns one page of observations
func (s *ObservationService) List(ctx context.Context, opts *ObservationListOptions) (*ObservationPage, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Code != "" {
			query.Set("code", opts.Code)
		}
		if opts.From != "" {
			query.Set("from", opts.From)
		}
		if opts.To != "" {
			query.Set("to", opts.To)
		}
		if opts.Page > 0 {
			query.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.PageSize > 0 {
			query.Set("page_size", strconv.Itoa(opts.PageSize))
		}
	}

	path := "/api/v1/observations"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out ObservationPage
	if err := s.client.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
