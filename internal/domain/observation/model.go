package observation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is a metric family a vendor client can be asked to fetch. One kind
// may yield several sample types (activity yields steps, calories, distance).
type Kind string

const (
	KindHeartRate Kind = "heart_rate"
	KindSpO2      Kind = "spo2"
	KindWeight    Kind = "weight"
	KindActivity  Kind = "activity"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{KindHeartRate, KindSpO2, KindWeight, KindActivity}

// IsValid checks if the kind is known
func (k Kind) IsValid() bool {
	switch k {
	case KindHeartRate, KindSpO2, KindWeight, KindActivity:
		return true
	default:
		return false
	}
}

// SampleType is the type of a single raw reading
type SampleType string

const (
	SampleHeartRate  SampleType = "heart_rate"
	SampleSpO2       SampleType = "spo2"
	SampleBodyWeight SampleType = "body_weight"
	SampleSteps      SampleType = "steps"
	SampleCalories   SampleType = "calories"
	SampleDistance   SampleType = "distance"
)

// RawSample is a vendor reading before normalization. It is never persisted.
type RawSample struct {
	Vendor    string     `json:"vendor"`
	Type      SampleType `json:"type"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit"`
	Timestamp time.Time  `json:"timestamp"`
	SourceID  string     `json:"source_id,omitempty"`
}

// Observation is a vendor independent clinical reading
type Observation struct {
	DedupID    string    `json:"dedup_id"`
	Code       string    `json:"code"`
	CodeSystem string    `json:"code_system"`
	Display    string    `json:"display"`
	Category   string    `json:"category"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	UCUMCode   string    `json:"ucum_code"`
	Effective  time.Time `json:"effective"`
	SubjectRef string    `json:"subject_ref"`
}

// Day returns the UTC calendar day of the observation
func (o *Observation) Day() time.Time {
	return StartOfDay(o.Effective.UTC())
}

// Summary is an observation as returned to API callers. It carries no vendor
// information.
type Summary struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Display   string    `json:"display"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Effective time.Time `json:"effective"`
}

// Filter contains observation listing options
type Filter struct {
	Code     string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Page is one page of observations
type Page struct {
	Items []Summary `json:"items"`
	Total int       `json:"total"`
}

// DateLayout is the wire and storage format for calendar days.
const DateLayout = "2006-01-02"

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDay parses a YYYY-MM-DD calendar day as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// DateRange is an inclusive range of calendar days. Both ends are midnight
// UTC values; the vendor's local interpretation is applied by each client.
type DateRange struct {
	From time.Time `json:"-"`
	To   time.Time `json:"-"`
}

// NewDateRange builds an inclusive range, normalizing both ends to days.
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: civil(from), To: civil(to)}
	if r.To.Before(r.From) {
		return DateRange{}, fmt.Errorf("range end %s is before start %s", r.To.Format(DateLayout), r.From.Format(DateLayout))
	}
	return r, nil
}

// SingleDay returns the range covering just day.
func SingleDay(day time.Time) DateRange {
	d := civil(day)
	return DateRange{From: d, To: d}
}

// civil keeps the calendar date of t and drops its clock and zone.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days returns every day in the range, in order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len returns the number of days in the range.
func (r DateRange) Len() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	d := civil(day)
	return !d.Before(r.From) && !d.After(r.To)
}

// String formats the range as "from..to".
func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// MarshalJSON encodes the range as {"from":"YYYY-MM-DD","to":"YYYY-MM-DD"}.
func (r DateRange) MarshalJSON() ([]byte, error) {
	return []byte(`{"from":"` + r.From.Format(DateLayout) + `","to":"` + r.To.Format(DateLayout) + `"}`), nil
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	from, err := ParseDay(raw.From)
	if err != nil {
		return err
	}
	to, err := ParseDay(raw.To)
	if err != nil {
		return err
	}
	out, err := NewDateRange(from, to)
	if err != nil {
		return err
	}
	*r = out
	return nil
}
