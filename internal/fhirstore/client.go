// Package fhirstore talks to the FHIR R4 server that holds the clinical
// record. Only Observation create and search are used.
package fhirstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/mapping"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

const (
	contentType      = "application/fhir+json"
	maxResponseBytes = 4 << 20
	defaultPageSize  = 20
	maxPageSize      = 100
)

// Config configures the store client
type Config struct {
	BaseURL          string
	BearerToken      string
	IdentifierSystem string
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// Client is an observation.Store backed by a FHIR server
type Client struct {
	baseURL string
	bearer  string
	system  string
	http    *http.Client
}

var _ observation.Store = (*Client)(nil)

// New creates a FHIR store client
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	system := cfg.IdentifierSystem
	if system == "" {
		system = mapping.DefaultIdentifierSystem
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		bearer:  cfg.BearerToken,
		system:  system,
		http:    hc,
	}
}

// IdentifierSystem returns the system dedup identifiers are written under.
func (c *Client) IdentifierSystem() string {
	return c.system
}

// Submit posts the observation as a conditional create keyed on its dedup
// identifier, so a resubmission never creates a second resource.
func (c *Client) Submit(ctx context.Context, o *observation.Observation) (string, bool, error) {
	body, err := json.Marshal(mapping.ToFHIR(o, c.system))
	if err != nil {
		return "", false, errors.Internal("Failed to encode observation", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/Observation", nil, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("If-None-Exist", "identifier="+c.token(o.DedupID))

	resp, data, err := c.do(req)
	if err != nil {
		return "", false, err
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		return resourceID(resp, data), true, nil
	case http.StatusOK:
		// The conditional create matched an existing resource.
		return resourceID(resp, data), false, nil
	case http.StatusPreconditionFailed:
		// More than one match: the identifier is already present.
		return "", false, nil
	default:
		return "", false, statusError(resp.StatusCode, data)
	}
}

// Exists asks for a count of observations carrying the dedup identifier.
func (c *Client) Exists(ctx context.Context, subjectRef, dedupID string) (bool, error) {
	q := url.Values{}
	q.Set("identifier", c.token(dedupID))
	q.Set("subject", subjectRef)
	q.Set("_summary", "count")

	var b bundle
	if err := c.getBundle(ctx, q, &b); err != nil {
		return false, err
	}
	return b.Total > 0, nil
}

// Search lists the subject's observations, newest first.
func (c *Client) Search(ctx context.Context, subjectRef string, filter observation.Filter) (*observation.Page, error) {
	size := filter.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("subject", subjectRef)
	q.Set("_sort", "-date")
	q.Set("_count", strconv.Itoa(size))
	if page > 1 {
		q.Set("_getpagesoffset", strconv.Itoa((page-1)*size))
	}
	if filter.Code != "" {
		q.Set("code", mapping.LOINCSystem+"|"+filter.Code)
	}
	if filter.From != nil {
		q.Add("date", "ge"+filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		q.Add("date", "le"+filter.To.UTC().Format(time.RFC3339))
	}

	var b bundle
	if err := c.getBundle(ctx, q, &b); err != nil {
		return nil, err
	}

	out := &observation.Page{Items: make([]observation.Summary, 0, len(b.Entry)), Total: b.Total}
	for _, e := range b.Entry {
		if e.Resource.ResourceType != "Observation" {
			continue
		}
		out.Items = append(out.Items, mapping.Summarize(&e.Resource))
	}
	return out, nil
}

// Ping checks the server's capability statement.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/metadata", url.Values{"_summary": {"true"}}, nil)
	if err != nil {
		return err
	}
	resp, data, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data)
	}
	return nil
}

type bundle struct {
	Total int `json:"total"`
	Entry []struct {
		Resource mapping.Resource `json:"resource"`
	} `json:"entry"`
}

func (c *Client) getBundle(ctx context.Context, q url.Values, out *bundle) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/Observation", q, nil)
	if err != nil {
		return err
	}
	resp, data, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.StoreUnavailable(fmt.Errorf("decode bundle: %w", err))
	}
	return nil
}

func (c *Client) token(dedupID string) string {
	return c.system + "|" + dedupID
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Internal("Failed to build store request", err)
	}
	req.Header.Set("Accept", contentType)
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, errors.StoreUnavailable(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, errors.StoreUnavailable(err)
	}
	return resp, data, nil
}

// statusError maps a failed response. Throttling and server errors are
// retryable; other client errors are not.
func statusError(status int, body []byte) error {
	cause := fmt.Errorf("status %d: %s", status, outcomeText(body))
	if status == http.StatusTooManyRequests || status >= 500 {
		return errors.StoreUnavailable(cause)
	}
	return errors.StoreSubmissionFailed(cause)
}

type operationOutcome struct {
	ResourceType string `json:"resourceType"`
	Issue        []struct {
		Diagnostics string `json:"diagnostics"`
	} `json:"issue"`
}

func outcomeText(body []byte) string {
	var oo operationOutcome
	if err := json.Unmarshal(body, &oo); err == nil && oo.ResourceType == "OperationOutcome" && len(oo.Issue) > 0 {
		return oo.Issue[0].Diagnostics
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// resourceID reads the id from the returned resource, falling back to the
// Location header (".../Observation/{id}/_history/{v}").
func resourceID(resp *http.Response, body []byte) string {
	var r struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &r); err == nil && r.ID != "" {
		return r.ID
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		loc = resp.Header.Get("Content-Location")
	}
	parts := strings.Split(loc, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "Observation" {
			return parts[i+1]
		}
	}
	return ""
}
