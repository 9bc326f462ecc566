package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/vitalsync/internal/api/dto"
	"github.com/pratik-mahalle/vitalsync/internal/api/middleware"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/utils"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
)

const maxJobListLimit = 100

// SyncHandler runs syncs inline or through the job queue
type SyncHandler struct {
	runner    syncjob.Runner
	jobs      syncjob.Service
	logger    *logger.Logger
	validator *validator.Validator
}

// NewSyncHandler creates a sync handler
func NewSyncHandler(runner syncjob.Runner, jobs syncjob.Service, log *logger.Logger, val *validator.Validator) *SyncHandler {
	return &SyncHandler{
		runner:    runner,
		jobs:      jobs,
		logger:    log,
		validator: val,
	}
}

// Sync runs a sync for one vendor. With ?async=true the run is queued and
// the job is returned with 202 Accepted.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	vendor := chi.URLParam(r, "vendor")

	var req dto.SyncRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if errs := h.validator.Validate(req); len(errs) > 0 {
		utils.WriteError(w, errors.ValidationError("Validation failed", errs))
		return
	}
	dr, err := req.Range()
	if err != nil {
		utils.WriteError(w, errors.BadRequest(err.Error()))
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, err := h.jobs.Enqueue(r.Context(), userID, vendor, syncjob.TriggerManual, dr)
		if err != nil {
			writeErr(w, err)
			return
		}
		utils.WriteSuccess(w, http.StatusAccepted, dto.NewSyncJobDTO(job))
		return
	}

	result, err := h.runner.Sync(r.Context(), userID, vendor, dr)
	if err != nil {
		h.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"vendor":  vendor,
		}).WarnWithErr(err, "Sync rejected")
		writeErr(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.NewSyncResultDTO(result))
}

// GetJob returns one of the caller's sync jobs
func (h *SyncHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	id := chi.URLParam(r, "id")
	if err := h.validator.ValidateVar(id, "required,uuid"); err != nil {
		utils.WriteError(w, errors.NotFound("Sync job"))
		return
	}

	job, err := h.jobs.Get(r.Context(), userID, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.NewSyncJobDTO(job))
}

// ListJobs returns the caller's most recent sync jobs, newest first
func (h *SyncHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	q := r.URL.Query()

	filter := syncjob.Filter{
		UserID: userID,
		Vendor: q.Get("vendor"),
		Status: syncjob.Status(q.Get("status")),
		Limit:  20,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			utils.WriteError(w, errors.BadRequest("limit must be a positive integer"))
			return
		}
		filter.Limit = min(n, maxJobListLimit)
	}
	if filter.Status != "" {
		if err := h.validator.ValidateVar(string(filter.Status), "oneof=queued running succeeded failed"); err != nil {
			utils.WriteError(w, errors.BadRequest("unknown job status"))
			return
		}
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorWithErr(err, "Failed to list sync jobs")
		writeErr(w, err)
		return
	}

	out := make([]dto.SyncJobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = dto.NewSyncJobDTO(j)
	}
	utils.WriteSuccess(w, http.StatusOK, out)
}
