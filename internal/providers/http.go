package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

const maxResponseBytes = 8 << 20

// Options configures a vendor API client
type Options struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	// CallTimeout bounds each request once it is sent. Time spent waiting
	// for the pacing limiter is not counted.
	CallTimeout time.Duration
	// Now is used to decide whether a day has ended. Defaults to time.Now.
	Now func() time.Time
}

// apiClient performs paced, authenticated JSON GETs against one vendor and
// classifies failures into the vendor error taxonomy.
type apiClient struct {
	vendor      string
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	callTimeout time.Duration
	now         func() time.Time
}

func newAPIClient(vendor string, opts Options) *apiClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &apiClient{
		vendor:      vendor,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        hc,
		limiter:     rate.NewLimiter(limit, burst),
		callTimeout: opts.CallTimeout,
		now:         now,
	}
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, token string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.VendorTransient(c.vendor, err)
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Internal("Failed to build vendor request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth retrying.
		return errors.VendorTransient(c.vendor, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.VendorTransient(c.vendor, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.VendorUnauthorized(c.vendor)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.VendorRateLimited(c.vendor, retryAfter(resp.Header, c.now()))
	case resp.StatusCode >= 500:
		return errors.VendorTransient(c.vendor, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return errors.VendorMalformed(c.vendor, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.VendorMalformed(c.vendor, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// retryAfter reads the standard Retry-After header (seconds or HTTP date)
// and Fitbit's reset header. Zero means the vendor gave no hint.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := h.Get("Fitbit-Rate-Limit-Reset"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// dayEnded reports whether the local calendar day has fully passed, so a
// daily total for it is final.
func (c *apiClient) dayEnded(day time.Time, loc *time.Location) bool {
	y, m, d := day.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return !c.now().Before(next)
}

// localTime joins a calendar day and a vendor "15:04:05" clock in loc.
func localTime(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", day.Format("2006-01-02")+" "+clock, loc)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02 15:04", day.Format("2006-01-02")+" "+clock, loc)
	}
	return t, err
}

// localMidnight returns the start of day in loc.
func localMidnight(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Intraday heart rate keeps one reading per two-hour window; SpO2 keeps one
// per hour.
const (
	heartRateWindowHours = 2
	spo2WindowHours      = 1
)

// windowSampler keeps the first sample of each local window of hours.
// Windows start at midnight, so a two-hour window opens on even hours.
// Intraday series are reduced this way before mapping.
type windowSampler struct {
	hours int
	seen  map[string]bool
}

func newWindowSampler(hours int) *windowSampler {
	if hours < 1 {
		hours = 1
	}
	return &windowSampler{hours: hours, seen: make(map[string]bool)}
}

func (w *windowSampler) keep(t time.Time) bool {
	key := t.Format("2006-01-02") + "/" + strconv.Itoa(t.Hour()/w.hours)
	if w.seen[key] {
		return false
	}
	w.seen[key] = true
	return true
}

func malformed(vendor, format string, args ...interface{}) error {
	return errors.VendorMalformed(vendor, fmt.Errorf(format, args...))
}
