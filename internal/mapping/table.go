// Package mapping turns vendor samples into coded clinical observations. It
// is pure: no I/O, no clock, and identical input always yields identical
// output, which is what makes a resync idempotent.
package mapping

import (
	"sort"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

const (
	// LOINCSystem is the code system of every mapped observation.
	LOINCSystem = "http://loinc.org"
	// UCUMSystem is the unit system used in valueQuantity.
	UCUMSystem = "http://unitsofmeasure.org"

	CategoryVitalSigns = "vital-signs"
	CategoryActivity   = "activity"
)

// Entry is the coding of one sample type
type Entry struct {
	Code     string
	Display  string
	Category string
	// Unit is the canonical human unit; UCUM is its UCUM code.
	Unit string
	UCUM string
	// factors converts an accepted vendor unit to the canonical unit.
	factors map[string]float64
}

var table = map[observation.SampleType]Entry{
	observation.SampleHeartRate: {
		Code:     "8867-4",
		Display:  "Heart rate",
		Category: CategoryVitalSigns,
		Unit:     "beats/min",
		UCUM:     "/min",
		factors: map[string]float64{
			"beats/min":        1,
			"/min":             1,
			"bpm":              1,
			"beats per minute": 1,
		},
	},
	observation.SampleSpO2: {
		Code:     "59408-5",
		Display:  "Oxygen saturation in Arterial blood by Pulse oximetry",
		Category: CategoryVitalSigns,
		Unit:     "%",
		UCUM:     "%",
		factors: map[string]float64{
			"%":        1,
			"percent":  1,
			"fraction": 100,
		},
	},
	observation.SampleBodyWeight: {
		Code:     "29463-7",
		Display:  "Body weight",
		Category: CategoryVitalSigns,
		Unit:     "kg",
		UCUM:     "kg",
		factors: map[string]float64{
			"kg":  1,
			"g":   0.001,
			"lb":  0.45359237,
			"lbs": 0.45359237,
			"st":  6.35029318,
		},
	},
	observation.SampleSteps: {
		Code:     "41950-7",
		Display:  "Number of steps in 24 hour Measured",
		Category: CategoryActivity,
		Unit:     "steps",
		UCUM:     "{steps}",
		factors: map[string]float64{
			"steps":   1,
			"{steps}": 1,
			"count":   1,
		},
	},
	observation.SampleCalories: {
		Code:     "41981-2",
		Display:  "Calories burned",
		Category: CategoryActivity,
		Unit:     "kcal",
		UCUM:     "kcal",
		factors: map[string]float64{
			"kcal": 1,
			"cal":  0.001,
			"kj":   0.2390057361,
		},
	},
	observation.SampleDistance: {
		Code:     "41953-1",
		Display:  "Distance walked or run",
		Category: CategoryActivity,
		Unit:     "km",
		UCUM:     "km",
		factors: map[string]float64{
			"km": 1,
			"m":  0.001,
			"mi": 1.609344,
		},
	},
}

// Lookup returns the coding for a sample type
func Lookup(t observation.SampleType) (Entry, bool) {
	e, ok := table[t]
	return e, ok
}

// SupportedTypes lists every mappable sample type in a stable order.
func SupportedTypes() []observation.SampleType {
	out := make([]observation.SampleType, 0, len(table))
	for t := range table {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CodeFor returns the LOINC code of a sample type, or "" when unmapped.
func CodeFor(t observation.SampleType) string {
	return table[t].Code
}

// KnownCode reports whether code is produced by any mapping.
func KnownCode(code string) bool {
	for _, e := range table {
		if e.Code == code {
			return true
		}
	}
	return false
}
