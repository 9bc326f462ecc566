package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// maxPages bounds next_token pagination.
const maxPages = 100

// Oura reads the Oura v2 usercollection API. It has no weight data.
type Oura struct {
	api *apiClient
}

// NewOura creates an Oura client
func NewOura(opts Options) *Oura {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.ouraring.com"
	}
	return &Oura{api: newAPIClient(VendorOura, opts)}
}

// NewOuraConnector creates the Oura OAuth connector
func NewOuraConnector(oc OAuthConfig, client *Oura) Connector {
	return newOAuthConnector(VendorOura, oc, client.profile)
}

var _ Client = (*Oura)(nil)

func (o *Oura) Vendor() string { return VendorOura }

func (o *Oura) Capabilities() []observation.Kind {
	return []observation.Kind{observation.KindHeartRate, observation.KindSpO2, observation.KindActivity}
}

func (o *Oura) FetchMetric(ctx context.Context, kind observation.Kind, sess Session, r observation.DateRange) ([]observation.RawSample, error) {
	switch kind {
	case observation.KindHeartRate:
		return o.heartRate(ctx, sess, r)
	case observation.KindSpO2:
		return o.spo2(ctx, sess, r)
	case observation.KindActivity:
		return o.activity(ctx, sess, r)
	default:
		return nil, fmt.Errorf("oura: unsupported metric kind %q", kind)
	}
}

// page walks a paginated collection, handing each raw page to decode.
func (o *Oura) page(ctx context.Context, path string, query url.Values, token string, decode func(*ouraPage) error) error {
	for i := 0; i < maxPages; i++ {
		var p ouraPage
		if err := o.api.getJSON(ctx, path, query, token, &p); err != nil {
			return err
		}
		if err := decode(&p); err != nil {
			return err
		}
		if p.NextToken == nil || *p.NextToken == "" {
			return nil
		}
		query.Set("next_token", *p.NextToken)
	}
	return malformed(VendorOura, "%s: more than %d pages", path, maxPages)
}

type ouraPage struct {
	Data      []ouraItem `json:"data"`
	NextToken *string    `json:"next_token"`
}

// ouraItem is the union of the fields read from the collections used here.
type ouraItem struct {
	ID        string `json:"id"`
	Day       string `json:"day"`
	Timestamp string `json:"timestamp"`

	BPM *float64 `json:"bpm"`

	SpO2Percentage *struct {
		Average *float64 `json:"average"`
	} `json:"spo2_percentage"`

	Steps                     *float64 `json:"steps"`
	TotalCalories             *float64 `json:"total_calories"`
	EquivalentWalkingDistance *float64 `json:"equivalent_walking_distance"`
}

func (o *Oura) heartRate(ctx context.Context, sess Session, r observation.DateRange) ([]observation.RawSample, error) {
	loc := sess.location()
	q := url.Values{}
	q.Set("start_datetime", localMidnight(r.From, loc).Format(time.RFC3339))
	q.Set("end_datetime", localMidnight(r.To.AddDate(0, 0, 1), loc).Format(time.RFC3339))

	hours := newWindowSampler(heartRateWindowHours)
	var out []observation.RawSample
	err := o.page(ctx, "/v2/usercollection/heartrate", q, sess.AccessToken, func(p *ouraPage) error {
		for _, it := range p.Data {
			if it.BPM == nil {
				continue
			}
			ts, err := time.Parse(time.RFC3339, it.Timestamp)
			if err != nil {
				return malformed(VendorOura, "heart rate timestamp %q", it.Timestamp)
			}
			if !hours.keep(ts.In(loc)) {
				continue
			}
			out = append(out, observation.RawSample{
				Vendor:    VendorOura,
				Type:      observation.SampleHeartRate,
				Value:     *it.BPM,
				Unit:      "bpm",
				Timestamp: ts,
				SourceID:  "hr:" + it.Timestamp,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func dailyQuery(r observation.DateRange) url.Values {
	q := url.Values{}
	q.Set("start_date", r.From.Format(observation.DateLayout))
	q.Set("end_date", r.To.AddDate(0, 0, 1).Format(observation.DateLayout))
	return q
}

// dailyItems yields the items of a daily collection that fall inside r.
func (o *Oura) dailyItems(ctx context.Context, path string, sess Session, r observation.DateRange, fn func(day time.Time, it ouraItem)) error {
	return o.page(ctx, path, dailyQuery(r), sess.AccessToken, func(p *ouraPage) error {
		for _, it := range p.Data {
			day, err := observation.ParseDay(it.Day)
			if err != nil {
				return malformed(VendorOura, "%s day %q", path, it.Day)
			}
			if r.Contains(day) {
				fn(day, it)
			}
		}
		return nil
	})
}

func (o *Oura) spo2(ctx context.Context, sess Session, r observation.DateRange) ([]observation.RawSample, error) {
	loc := sess.location()
	var out []observation.RawSample
	err := o.dailyItems(ctx, "/v2/usercollection/daily_spo2", sess, r, func(day time.Time, it ouraItem) {
		if it.SpO2Percentage == nil || it.SpO2Percentage.Average == nil {
			return
		}
		out = append(out, observation.RawSample{
			Vendor:    VendorOura,
			Type:      observation.SampleSpO2,
			Value:     *it.SpO2Percentage.Average,
			Unit:      "%",
			Timestamp: localMidnight(day, loc),
			SourceID:  "spo2:" + it.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// activity emits finished days only, like the Fitbit client.
func (o *Oura) activity(ctx context.Context, sess Session, r observation.DateRange) ([]observation.RawSample, error) {
	loc := sess.location()
	var out []observation.RawSample
	err := o.dailyItems(ctx, "/v2/usercollection/daily_activity", sess, r, func(day time.Time, it ouraItem) {
		if !o.api.dayEnded(day, loc) {
			return
		}
		ts := localMidnight(day, loc)
		src := "activity:" + it.ID
		if it.Steps != nil {
			out = append(out, observation.RawSample{Vendor: VendorOura, Type: observation.SampleSteps, Value: *it.Steps, Unit: "steps", Timestamp: ts, SourceID: src})
		}
		if it.TotalCalories != nil {
			out = append(out, observation.RawSample{Vendor: VendorOura, Type: observation.SampleCalories, Value: *it.TotalCalories, Unit: "kcal", Timestamp: ts, SourceID: src})
		}
		if it.EquivalentWalkingDistance != nil {
			out = append(out, observation.RawSample{Vendor: VendorOura, Type: observation.SampleDistance, Value: *it.EquivalentWalkingDistance, Unit: "m", Timestamp: ts, SourceID: src})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type ouraPersonalInfo struct {
	ID string `json:"id"`
}

// profile returns the Oura user id. Oura exposes no profile timezone.
func (o *Oura) profile(ctx context.Context, accessToken string) (string, string, error) {
	var resp ouraPersonalInfo
	if err := o.api.getJSON(ctx, "/v2/usercollection/personal_info", nil, accessToken, &resp); err != nil {
		return "", "", err
	}
	return resp.ID, "", nil
}
