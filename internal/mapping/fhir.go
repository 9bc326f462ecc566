package mapping

import (
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// DefaultIdentifierSystem namespaces dedup identifiers in the clinical store.
const DefaultIdentifierSystem = "urn:vitalsync:observation"

const categorySystem = "http://terminology.hl7.org/CodeSystem/observation-category"

var categoryDisplay = map[string]string{
	CategoryVitalSigns: "Vital Signs",
	CategoryActivity:   "Activity",
}

// Coding is a FHIR Coding
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a FHIR CodeableConcept
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference is a FHIR Reference
type Reference struct {
	Reference string `json:"reference,omitempty"`
}

// Identifier is a FHIR Identifier
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Quantity is a FHIR Quantity
type Quantity struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Resource is a FHIR R4 Observation as exchanged with the clinical store
type Resource struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id,omitempty"`
	Identifier        []Identifier      `json:"identifier,omitempty"`
	Status            string            `json:"status"`
	Category          []CodeableConcept `json:"category,omitempty"`
	Code              CodeableConcept   `json:"code"`
	Subject           Reference         `json:"subject"`
	EffectiveDateTime string            `json:"effectiveDateTime,omitempty"`
	Issued            string            `json:"issued,omitempty"`
	ValueQuantity     *Quantity         `json:"valueQuantity,omitempty"`
}

// ToFHIR renders o as a FHIR Observation. Issued is the effective time so
// the same observation always renders to the same bytes.
func ToFHIR(o *observation.Observation, identifierSystem string) *Resource {
	if identifierSystem == "" {
		identifierSystem = DefaultIdentifierSystem
	}
	effective := o.Effective.UTC().Format(time.RFC3339)
	return &Resource{
		ResourceType: "Observation",
		Identifier:   []Identifier{{System: identifierSystem, Value: o.DedupID}},
		Status:       "final",
		Category: []CodeableConcept{{
			Coding: []Coding{{
				System:  categorySystem,
				Code:    o.Category,
				Display: categoryDisplay[o.Category],
			}},
		}},
		Code: CodeableConcept{
			Coding: []Coding{{System: o.CodeSystem, Code: o.Code, Display: o.Display}},
			Text:   o.Display,
		},
		Subject:           Reference{Reference: o.SubjectRef},
		EffectiveDateTime: effective,
		Issued:            effective,
		ValueQuantity: &Quantity{
			Value:  o.Value,
			Unit:   o.Unit,
			System: UCUMSystem,
			Code:   o.UCUMCode,
		},
	}
}

// Summarize reduces a stored resource to the vendor neutral listing form.
func Summarize(r *Resource) observation.Summary {
	s := observation.Summary{ID: r.ID, Display: r.Code.Text}
	if len(r.Code.Coding) > 0 {
		s.Code = r.Code.Coding[0].Code
		if s.Display == "" {
			s.Display = r.Code.Coding[0].Display
		}
	}
	if r.ValueQuantity != nil {
		s.Value = r.ValueQuantity.Value
		s.Unit = r.ValueQuantity.Unit
	}
	if t, err := time.Parse(time.RFC3339, r.EffectiveDateTime); err == nil {
		s.Effective = t.UTC()
	}
	return s
}

// DedupIDOf returns the identifier value under system, or "".
func DedupIDOf(r *Resource, system string) string {
	for _, id := range r.Identifier {
		if id.System == system {
			return id.Value
		}
	}
	return ""
}
