package handlers

import (
	"net/http"

	"github.com/pratik-mahalle/vitalsync/internal/api/dto"
	"github.com/pratik-mahalle/vitalsync/internal/api/middleware"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/utils"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
)

type ObservationHandler struct {
	service   observation.Service
	logger    *logger.Logger
	validator *validator.Validator
}

func NewObservationHandler(service observation.Service, log *logger.Logger, val *validator.Validator) *ObservationHandler {
	return &ObservationHandler{
		service:   service,
		logger:    log,
		validator: val,
	}
}

// List pages through the caller's observations
func (h *ObservationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	subjectRef, _ := middleware.GetSubjectRef(r)

	q := r.URL.Query()
	query := dto.ObservationQuery{
		Code: q.Get("code"),
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	if errs := h.validator.Validate(query); len(errs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", errs))
		return
	}

	pagination := utils.ParsePaginationParams(r)
	filter, err := query.Filter(pagination.Page, pagination.PageSize)
	if err != nil {
		utils.WriteError(w, errors.BadRequest(err.Error()))
		return
	}

	page, err := h.service.List(r.Context(), userID, subjectRef, filter)
	if err != nil {
		writeErr(w, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, utils.NewPaginatedResponse(
		dto.NewObservationDTOs(page.Items),
		pagination.Page,
		pagination.PageSize,
		int64(page.Total),
	))
}
