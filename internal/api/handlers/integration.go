package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/vitalsync/internal/api/dto"
	"github.com/pratik-mahalle/vitalsync/internal/api/middleware"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/utils"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/validator"
)

// IntegrationHandler serves the vendor integration lifecycle
type IntegrationHandler struct {
	service     integration.Service
	logger      *logger.Logger
	validator   *validator.Validator
	frontendURL string
}

// NewIntegrationHandler creates an integration handler. When frontendURL is
// set the OAuth callback redirects there instead of answering with JSON.
func NewIntegrationHandler(service integration.Service, log *logger.Logger, val *validator.Validator, frontendURL string) *IntegrationHandler {
	return &IntegrationHandler{
		service:     service,
		logger:      log,
		validator:   val,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// List describes every supported vendor for the caller
func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)

	views, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.logger.ErrorWithErr(err, "Failed to list integrations")
		writeErr(w, err)
		return
	}

	out := make([]dto.IntegrationDTO, len(views))
	for i, v := range views {
		out[i] = dto.NewIntegrationDTO(v)
	}
	utils.WriteSuccess(w, http.StatusOK, out)
}

// Status describes one integration
func (h *IntegrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	vendor, ok := h.vendorParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.Status(r.Context(), userID, vendor)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.NewIntegrationDTO(view))
}

// Select records the caller's choice of vendor
func (h *IntegrationHandler) Select(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	subjectRef, _ := middleware.GetSubjectRef(r)
	vendor, ok := h.vendorParam(w, r)
	if !ok {
		return
	}

	in, err := h.service.Select(r.Context(), userID, subjectRef, vendor)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.SelectResponse{
		Vendor: in.Vendor,
		Status: string(in.Status),
	})
}

// Authorize starts the OAuth flow and returns the consent URL
func (h *IntegrationHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	vendor, ok := h.vendorParam(w, r)
	if !ok {
		return
	}

	authURL, err := h.service.BeginAuthorization(r.Context(), userID, vendor)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.AuthorizeResponse{
		Vendor:           vendor,
		AuthorizationURL: authURL,
	})
}

// Disconnect destroys the credential and disconnects the integration
func (h *IntegrationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	vendor, ok := h.vendorParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, vendor); err != nil {
		writeErr(w, err)
		return
	}
	utils.WriteSuccessWithMessage(w, http.StatusOK, "Integration disconnected", dto.SelectResponse{
		Vendor: vendor,
		Status: string(integration.StatusDisconnected),
	})
}

// Callback receives the vendor's OAuth redirect. It is unauthenticated: the
// signed state identifies the user and integration.
func (h *IntegrationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		h.finishCallback(w, r, "", errors.AuthStateInvalid("state is missing"))
		return
	}

	if reason := q.Get("error"); reason != "" {
		if desc := q.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		if err := h.service.FailAuthorization(r.Context(), state, reason); err != nil {
			h.finishCallback(w, r, "", err)
			return
		}
		h.finishCallback(w, r, "", errors.New(errors.ErrCodeAuthorizationFailed,
			"Authorization was not granted", http.StatusBadRequest))
		return
	}

	in, err := h.service.CompleteAuthorization(r.Context(), q.Get("code"), state)
	if err != nil {
		h.logger.WarnWithErr(err, "OAuth callback rejected")
		h.finishCallback(w, r, "", err)
		return
	}
	h.finishCallback(w, r, in.Vendor, nil)
}

func (h *IntegrationHandler) finishCallback(w http.ResponseWriter, r *http.Request, vendor string, err error) {
	if h.frontendURL == "" {
		if err != nil {
			writeErr(w, err)
			return
		}
		utils.WriteSuccess(w, http.StatusOK, dto.CallbackResponse{
			Vendor: vendor,
			Status: string(integration.StatusConnected),
		})
		return
	}

	q := url.Values{}
	if err != nil {
		q.Set("status", "failed")
		q.Set("error", errors.CodeOf(err))
	} else {
		q.Set("status", string(integration.StatusConnected))
		q.Set("vendor", vendor)
	}
	http.Redirect(w, r, h.frontendURL+"/integrations?"+q.Encode(), http.StatusFound)
}

func (h *IntegrationHandler) vendorParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	vendor := chi.URLParam(r, "vendor")
	if err := h.validator.ValidateVar(vendor, "required,vendor"); err != nil {
		utils.WriteError(w, errors.UnsupportedVendor(vendor))
		return "", false
	}
	return vendor, true
}
