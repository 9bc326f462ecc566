package services

import (
	"context"
	"fmt"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/mapping"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ObservationService reads a caller's observations back from the clinical
// store. Results never reveal which vendor produced them.
type ObservationService struct {
	store  observation.Store
	logger *logger.Logger
}

// NewObservationService creates a new observation service
func NewObservationService(store observation.Store, log *logger.Logger) *ObservationService {
	return &ObservationService{store: store, logger: log}
}

var _ observation.Service = (*ObservationService)(nil)

// List validates the filter and searches the caller's record
func (s *ObservationService) List(ctx context.Context, userID int64, subjectRef string, filter observation.Filter) (*observation.Page, error) {
	if subjectRef == "" {
		return nil, errors.BadRequest("subject reference is required")
	}
	if filter.Code != "" && !mapping.KnownCode(filter.Code) {
		return nil, errors.BadRequest(fmt.Sprintf("unknown observation code %q", filter.Code))
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, errors.BadRequest("to must not be before from")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = defaultPageSize
	case filter.PageSize > maxPageSize:
		filter.PageSize = maxPageSize
	}

	page, err := s.store.Search(ctx, subjectRef, filter)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"code":    filter.Code,
		}).ErrorWithErr(err, "Observation search failed")
		return nil, err
	}
	if page.Items == nil {
		page.Items = []observation.Summary{}
	}
	return page, nil
}
