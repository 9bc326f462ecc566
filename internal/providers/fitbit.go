package providers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// Fitbit reads the Fitbit Web API. Every endpoint is day scoped, so a range
// is fetched one local day at a time.
type Fitbit struct {
	api *apiClient
}

// NewFitbit creates a Fitbit client
func NewFitbit(opts Options) *Fitbit {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.fitbit.com"
	}
	return &Fitbit{api: newAPIClient(VendorFitbit, opts)}
}

// NewFitbitConnector creates the Fitbit OAuth connector. The exchange also
// reads the profile for the account's timezone.
func NewFitbitConnector(oc OAuthConfig, client *Fitbit) Connector {
	return newOAuthConnector(VendorFitbit, oc, client.profile)
}

var _ Client = (*Fitbit)(nil)

func (f *Fitbit) Vendor() string { return VendorFitbit }

func (f *Fitbit) Capabilities() []observation.Kind {
	return []observation.Kind{observation.KindHeartRate, observation.KindSpO2, observation.KindWeight, observation.KindActivity}
}

func (f *Fitbit) FetchMetric(ctx context.Context, kind observation.Kind, sess Session, r observation.DateRange) ([]observation.RawSample, error) {
	var fetch func(context.Context, Session, time.Time) ([]observation.RawSample, error)
	switch kind {
	case observation.KindHeartRate:
		fetch = f.heartRate
	case observation.KindSpO2:
		fetch = f.spo2
	case observation.KindWeight:
		fetch = f.weight
	case observation.KindActivity:
		fetch = f.activity
	default:
		return nil, fmt.Errorf("fitbit: unsupported metric kind %q", kind)
	}

	var out []observation.RawSample
	for _, day := range r.Days() {
		samples, err := fetch(ctx, sess, day)
		if err != nil {
			return nil, err
		}
		out = append(out, samples...)
	}
	return out, nil
}

type fitbitHeartResponse struct {
	Intraday struct {
		Dataset []struct {
			Time  string  `json:"time"`
			Value float64 `json:"value"`
		} `json:"dataset"`
	} `json:"activities-heart-intraday"`
}

func (f *Fitbit) heartRate(ctx context.Context, sess Session, day time.Time) ([]observation.RawSample, error) {
	var resp fitbitHeartResponse
	path := "/1/user/-/activities/heart/date/" + day.Format(observation.DateLayout) + "/1d/1min.json"
	if err := f.api.getJSON(ctx, path, nil, sess.AccessToken, &resp); err != nil {
		return nil, err
	}

	loc := sess.location()
	hours := newWindowSampler(heartRateWindowHours)
	var out []observation.RawSample
	for _, dp := range resp.Intraday.Dataset {
		ts, err := localTime(day, dp.Time, loc)
		if err != nil {
			return nil, malformed(VendorFitbit, "heart rate time %q", dp.Time)
		}
		if !hours.keep(ts) {
			continue
		}
		out = append(out, observation.RawSample{
			Vendor:    VendorFitbit,
			Type:      observation.SampleHeartRate,
			Value:     dp.Value,
			Unit:      "bpm",
			Timestamp: ts,
			SourceID:  "hr:" + ts.Format(time.RFC3339),
		})
	}
	return out, nil
}

type fitbitSpO2Response struct {
	DateTime string `json:"dateTime"`
	Minutes  []struct {
		Value  float64 `json:"value"`
		Minute string  `json:"minute"`
	} `json:"minutes"`
}

func (f *Fitbit) spo2(ctx context.Context, sess Session, day time.Time) ([]observation.RawSample, error) {
	var resp fitbitSpO2Response
	path := "/1/user/-/spo2/date/" + day.Format(observation.DateLayout) + "/all.json"
	if err := f.api.getJSON(ctx, path, nil, sess.AccessToken, &resp); err != nil {
		return nil, err
	}

	loc := sess.location()
	hours := newWindowSampler(spo2WindowHours)
	var out []observation.RawSample
	for _, m := range resp.Minutes {
		ts, err := time.ParseInLocation("2006-01-02T15:04:05", m.Minute, loc)
		if err != nil {
			return nil, malformed(VendorFitbit, "spo2 minute %q", m.Minute)
		}
		if !hours.keep(ts) {
			continue
		}
		out = append(out, observation.RawSample{
			Vendor:    VendorFitbit,
			Type:      observation.SampleSpO2,
			Value:     m.Value,
			Unit:      "%",
			Timestamp: ts,
			SourceID:  "spo2:" + m.Minute,
		})
	}
	return out, nil
}

type fitbitWeightResponse struct {
	Weight []struct {
		LogID  int64   `json:"logId"`
		Weight float64 `json:"weight"`
		Date   string  `json:"date"`
		Time   string  `json:"time"`
	} `json:"weight"`
}

func (f *Fitbit) weight(ctx context.Context, sess Session, day time.Time) ([]observation.RawSample, error) {
	var resp fitbitWeightResponse
	path := "/1/user/-/body/log/weight/date/" + day.Format(observation.DateLayout) + ".json"
	if err := f.api.getJSON(ctx, path, nil, sess.AccessToken, &resp); err != nil {
		return nil, err
	}

	loc := sess.location()
	var out []observation.RawSample
	for _, w := range resp.Weight {
		logDay := day
		if w.Date != "" {
			d, err := observation.ParseDay(w.Date)
			if err != nil {
				return nil, malformed(VendorFitbit, "weight date %q", w.Date)
			}
			logDay = d
		}
		clock := w.Time
		if clock == "" {
			clock = "00:00:00"
		}
		ts, err := localTime(logDay, clock, loc)
		if err != nil {
			return nil, malformed(VendorFitbit, "weight time %q", w.Time)
		}
		out = append(out, observation.RawSample{
			Vendor:    VendorFitbit,
			Type:      observation.SampleBodyWeight,
			Value:     w.Weight,
			Unit:      "kg",
			Timestamp: ts,
			SourceID:  "weight:" + strconv.FormatInt(w.LogID, 10),
		})
	}
	return out, nil
}

type fitbitActivityResponse struct {
	Summary *struct {
		Steps       float64 `json:"steps"`
		CaloriesOut float64 `json:"caloriesOut"`
		Distances   []struct {
			Activity string  `json:"activity"`
			Distance float64 `json:"distance"`
		} `json:"distances"`
	} `json:"summary"`
}

// activity emits daily totals stamped at local midnight. Totals for a day
// that has not ended yet are skipped; they are picked up once the day is
// final because the checkpoint day is always fetched again.
func (f *Fitbit) activity(ctx context.Context, sess Session, day time.Time) ([]observation.RawSample, error) {
	loc := sess.location()
	if !f.api.dayEnded(day, loc) {
		return nil, nil
	}

	var resp fitbitActivityResponse
	path := "/1/user/-/activities/date/" + day.Format(observation.DateLayout) + ".json"
	if err := f.api.getJSON(ctx, path, nil, sess.AccessToken, &resp); err != nil {
		return nil, err
	}
	if resp.Summary == nil {
		return nil, malformed(VendorFitbit, "activity summary missing for %s", day.Format(observation.DateLayout))
	}

	ts := localMidnight(day, loc)
	src := "activity:" + day.Format(observation.DateLayout)
	out := []observation.RawSample{
		{Vendor: VendorFitbit, Type: observation.SampleSteps, Value: resp.Summary.Steps, Unit: "steps", Timestamp: ts, SourceID: src},
		{Vendor: VendorFitbit, Type: observation.SampleCalories, Value: resp.Summary.CaloriesOut, Unit: "kcal", Timestamp: ts, SourceID: src},
	}
	for _, d := range resp.Summary.Distances {
		if d.Activity == "total" {
			out = append(out, observation.RawSample{Vendor: VendorFitbit, Type: observation.SampleDistance, Value: d.Distance, Unit: "km", Timestamp: ts, SourceID: src})
			break
		}
	}
	return out, nil
}

type fitbitProfileResponse struct {
	User struct {
		EncodedID string `json:"encodedId"`
		Timezone  string `json:"timezone"`
	} `json:"user"`
}

func (f *Fitbit) profile(ctx context.Context, accessToken string) (string, string, error) {
	var resp fitbitProfileResponse
	if err := f.api.getJSON(ctx, "/1/user/-/profile.json", nil, accessToken, &resp); err != nil {
		return "", "", err
	}
	return resp.User.EncodedID, resp.User.Timezone, nil
}
