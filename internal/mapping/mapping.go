package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// DedupPrefix starts every dedup identifier.
const DedupPrefix = "vs-"

// Map normalizes one raw sample for subjectRef. Unknown types or units and
// non-finite values produce a MAPPING_ERROR instead of a guess.
func Map(s observation.RawSample, subjectRef string) (*observation.Observation, error) {
	entry, ok := table[s.Type]
	if !ok {
		return nil, errors.MappingError(fmt.Sprintf("unsupported sample type %q", s.Type))
	}
	if subjectRef == "" {
		return nil, errors.MappingError("subject reference is required")
	}
	if s.Timestamp.IsZero() {
		return nil, errors.MappingError(fmt.Sprintf("%s sample has no timestamp", s.Type))
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return nil, errors.MappingError(fmt.Sprintf("%s sample has non-finite value", s.Type))
	}

	value, err := convert(entry, s.Type, s.Value, s.Unit)
	if err != nil {
		return nil, err
	}

	effective := s.Timestamp.UTC().Truncate(time.Second)
	return &observation.Observation{
		DedupID:    DedupID(s.Vendor, subjectRef, entry.Code, effective),
		Code:       entry.Code,
		CodeSystem: LOINCSystem,
		Display:    entry.Display,
		Category:   entry.Category,
		Value:      value,
		Unit:       entry.Unit,
		UCUMCode:   entry.UCUM,
		Effective:  effective,
		SubjectRef: subjectRef,
	}, nil
}

func convert(entry Entry, t observation.SampleType, value float64, unit string) (float64, error) {
	factor, ok := entry.factors[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, errors.MappingError(fmt.Sprintf("unsupported unit %q for %s", unit, t))
	}
	if factor == 1 {
		return value, nil
	}
	// Converted values are rounded so float noise never changes the payload.
	return math.Round(value*factor*1e4) / 1e4, nil
}

// DedupID derives the stable identifier of an observation from the vendor,
// subject, code and UTC effective second. Two mappings of the same reading
// always agree; the same reading from two vendors never collides.
func DedupID(vendor, subjectRef, code string, effective time.Time) string {
	h := sha256.New()
	h.Write([]byte(vendor))
	h.Write([]byte{0x1f})
	h.Write([]byte(subjectRef))
	h.Write([]byte{0x1f})
	h.Write([]byte(code))
	h.Write([]byte{0x1f})
	h.Write([]byte(effective.UTC().Truncate(time.Second).Format(time.RFC3339)))
	return DedupPrefix + hex.EncodeToString(h.Sum(nil))
}

// MapAll maps a batch. Failed samples are returned alongside the successes
// so one bad reading never drops the rest.
func MapAll(samples []observation.RawSample, subjectRef string) ([]*observation.Observation, []Failure) {
	out := make([]*observation.Observation, 0, len(samples))
	var failures []Failure
	for _, s := range samples {
		o, err := Map(s, subjectRef)
		if err != nil {
			failures = append(failures, Failure{Sample: s, Err: err})
			continue
		}
		out = append(out, o)
	}
	return out, failures
}

// Failure is a sample that could not be mapped
type Failure struct {
	Sample observation.RawSample
	Err    error
}
