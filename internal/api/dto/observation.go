package dto

import (
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
)

// ObservationQuery holds the observation list filters from the query string
type ObservationQuery struct {
	Code string `json:"code" validate:"omitempty,max=32"`
	From string `json:"from" validate:"omitempty,day"`
	To   string `json:"to" validate:"omitempty,day"`
}

// Filter converts the query into a store filter. To covers the whole day.
func (q ObservationQuery) Filter(page, pageSize int) (observation.Filter, error) {
	f := observation.Filter{Code: q.Code, Page: page, PageSize: pageSize}
	if q.From != "" {
		from, err := observation.ParseDay(q.From)
		if err != nil {
			return f, err
		}
		f.From = &from
	}
	if q.To != "" {
		to, err := observation.ParseDay(q.To)
		if err != nil {
			return f, err
		}
		end := to.Add(24*time.Hour - time.Second)
		f.To = &end
	}
	return f, nil
}

// ObservationDTO is an observation as shown to its owner. It carries no
// vendor information.
type ObservationDTO struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Display   string    `json:"display"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Effective time.Time `json:"effective"`
}

// NewObservationDTOs converts store summaries
func NewObservationDTOs(items []observation.Summary) []ObservationDTO {
	out := make([]ObservationDTO, len(items))
	for i, s := range items {
		out[i] = ObservationDTO{
			ID:        s.ID,
			Code:      s.Code,
			Display:   s.Display,
			Value:     s.Value,
			Unit:      s.Unit,
			Effective: s.Effective,
		}
	}
	return out
}
