package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/pratik-mahalle/vitalsync/internal/auth"
	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/domain/syncjob"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/metrics"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
	"github.com/pratik-mahalle/vitalsync/internal/statestore"
)

// IntegrationService implements integration.Service
type IntegrationService struct {
	repo     integration.Repository
	creds    credential.Store
	jobs     syncjob.Repository
	registry *providers.Registry
	states   statestore.Store
	signer   *auth.StateSigner
	margin   time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

// NewIntegrationService creates a new integration service. margin is how
// close to expiry a credential is reported as near expiry.
func NewIntegrationService(
	repo integration.Repository,
	creds credential.Store,
	jobs syncjob.Repository,
	registry *providers.Registry,
	states statestore.Store,
	signer *auth.StateSigner,
	margin time.Duration,
	log *logger.Logger,
) *IntegrationService {
	return &IntegrationService{
		repo:     repo,
		creds:    creds,
		jobs:     jobs,
		registry: registry,
		states:   states,
		signer:   signer,
		margin:   margin,
		logger:   log,
		now:      time.Now,
	}
}

var _ integration.Service = (*IntegrationService)(nil)

// Select creates the integration or reactivates a disconnected one
func (s *IntegrationService) Select(ctx context.Context, userID int64, subjectRef, vendor string) (*integration.Integration, error) {
	if _, err := s.registry.Connector(vendor); err != nil {
		return nil, err
	}
	if subjectRef == "" {
		return nil, errors.BadRequest("subject reference is required")
	}

	in, err := s.Get(ctx, userID, vendor)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		in = &integration.Integration{
			UserID:     userID,
			Vendor:     vendor,
			Status:     integration.StatusSelected,
			SubjectRef: subjectRef,
		}
		if err := s.repo.Create(ctx, in); err != nil {
			return nil, err
		}
		s.log(in).Info("Integration selected")
		return in, nil
	}
	if err != nil {
		return nil, err
	}

	switch in.Status {
	case integration.StatusConnected, integration.StatusAuthorizing:
		return in, nil
	case integration.StatusDisconnected:
		ok, err := s.repo.Transition(ctx, in.ID, integration.StatusDisconnected, integration.StatusSelected, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Conflict("integration changed concurrently, retry")
		}
		in.Status = integration.StatusSelected
		s.log(in).Info("Integration reactivated")
	}

	if in.SubjectRef != subjectRef {
		if err := s.repo.UpdateSubject(ctx, in.ID, subjectRef); err != nil {
			return nil, err
		}
		in.SubjectRef = subjectRef
	}
	return in, nil
}

// BeginAuthorization issues a single use state and returns the vendor's
// consent URL. The state window bounds how long the integration stays
// authorizing.
func (s *IntegrationService) BeginAuthorization(ctx context.Context, userID int64, vendor string) (string, error) {
	connector, err := s.registry.Connector(vendor)
	if err != nil {
		return "", err
	}
	in, err := s.Get(ctx, userID, vendor)
	if err != nil {
		return "", err
	}
	if in.Status != integration.StatusSelected && in.Status != integration.StatusAuthorizing {
		return "", errors.BadRequest(fmt.Sprintf("%s integration is %s; select it before authorizing", vendor, in.Status))
	}

	token, id, expiresAt, err := s.signer.Issue(userID, vendor, in.ID)
	if err != nil {
		return "", errors.Internal("Failed to issue authorization state", err)
	}
	verifier := oauth2.GenerateVerifier()
	entry := statestore.Entry{
		UserID:        userID,
		Vendor:        vendor,
		IntegrationID: in.ID,
		Verifier:      verifier,
	}
	if err := s.states.Put(ctx, id, entry, s.signer.TTL()); err != nil {
		return "", errors.Internal("Failed to store authorization state", err)
	}

	ok, err := s.repo.Transition(ctx, in.ID, in.Status, integration.StatusAuthorizing, &expiresAt)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Conflict("integration changed concurrently, retry")
	}

	s.log(in).Info("Authorization started")
	return connector.AuthCodeURL(token, verifier), nil
}

// CompleteAuthorization consumes the state, exchanges the code and connects
// the integration. Invalid states are rejected before anything is written.
func (s *IntegrationService) CompleteAuthorization(ctx context.Context, code, state string) (*integration.Integration, error) {
	entry, in, err := s.consumeState(ctx, state)
	if err != nil {
		return nil, err
	}
	if code == "" {
		s.abandon(ctx, in, "missing authorization code")
		return nil, errors.BadRequest("authorization code is required")
	}

	connector, err := s.registry.Connector(in.Vendor)
	if err != nil {
		return nil, err
	}
	grant, err := connector.Exchange(ctx, code, entry.Verifier)
	if err != nil {
		s.abandon(ctx, in, "code exchange failed")
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.AuthorizationFailed(in.Vendor, err)
	}

	// The credential is written first so a connected integration always has one.
	if err := s.creds.Put(ctx, in.ID, grant.Credential); err != nil {
		s.abandon(ctx, in, "credential could not be stored")
		return nil, err
	}
	ok, err := s.repo.MarkConnected(ctx, in.ID, grant.Credential.VendorUserID, grant.Timezone)
	if err != nil {
		return nil, err
	}
	if !ok {
		_ = s.creds.Delete(ctx, in.ID)
		return nil, errors.AuthStateInvalid("authorization is no longer pending")
	}

	s.log(in).Info("Integration connected")
	s.refreshGauge(ctx)
	return s.repo.GetByID(ctx, in.ID)
}

// FailAuthorization handles a vendor callback carrying an error instead of a
// code. The state is consumed and the integration returns to selected.
func (s *IntegrationService) FailAuthorization(ctx context.Context, state, reason string) error {
	_, in, err := s.consumeState(ctx, state)
	if err != nil {
		return err
	}
	s.abandon(ctx, in, reason)
	return nil
}

// consumeState verifies and takes a state. Any mismatch yields
// AUTHORIZATION_STATE_INVALID without touching the integration.
func (s *IntegrationService) consumeState(ctx context.Context, state string) (*statestore.Entry, *integration.Integration, error) {
	claims, err := s.signer.Verify(state)
	if err != nil {
		return nil, nil, errors.AuthStateInvalid("state is invalid or expired")
	}
	entry, err := s.states.Take(ctx, claims.ID)
	if stderrors.Is(err, statestore.ErrNotFound) {
		return nil, nil, errors.AuthStateInvalid("state is unknown or already used")
	}
	if err != nil {
		return nil, nil, errors.Internal("Failed to read authorization state", err)
	}
	if entry.UserID != claims.UserID || entry.Vendor != claims.Vendor || entry.IntegrationID != claims.IntegrationID {
		return nil, nil, errors.AuthStateInvalid("state does not match")
	}

	in, err := s.repo.GetByID(ctx, claims.IntegrationID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, nil, errors.AuthStateInvalid("state refers to an unknown integration")
	}
	if err != nil {
		return nil, nil, err
	}
	if in.UserID != claims.UserID || in.Vendor != claims.Vendor {
		return nil, nil, errors.AuthStateInvalid("state does not match")
	}
	if in.Status != integration.StatusAuthorizing || in.AuthorizationExpired(s.now()) {
		return nil, nil, errors.AuthStateInvalid("authorization is no longer pending")
	}
	return entry, in, nil
}

// abandon returns an authorizing integration to selected
func (s *IntegrationService) abandon(ctx context.Context, in *integration.Integration, reason string) {
	if _, err := s.repo.Transition(ctx, in.ID, integration.StatusAuthorizing, integration.StatusSelected, nil); err != nil {
		s.log(in).WarnWithErr(err, "Failed to reset integration after authorization failure")
		return
	}
	s.log(in).With("reason", reason).Warn("Authorization failed")
}

// Get returns the integration. An authorizing integration whose window has
// passed is moved back to selected before it is returned.
func (s *IntegrationService) Get(ctx context.Context, userID int64, vendor string) (*integration.Integration, error) {
	in, err := s.repo.GetByVendor(ctx, userID, vendor)
	if err != nil {
		return nil, err
	}
	if in.AuthorizationExpired(s.now()) {
		if _, err := s.repo.Transition(ctx, in.ID, integration.StatusAuthorizing, integration.StatusSelected, nil); err != nil {
			return nil, err
		}
		in.Status = integration.StatusSelected
		in.AuthorizingUntil = nil
		s.log(in).Info("Authorization window expired")
	}
	return in, nil
}

// Status describes one integration
func (s *IntegrationService) Status(ctx context.Context, userID int64, vendor string) (*integration.StatusView, error) {
	if _, err := s.registry.Client(vendor); err != nil {
		return nil, err
	}

	in, err := s.Get(ctx, userID, vendor)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return &integration.StatusView{Vendor: vendor, Status: integration.StatusNotSelected}, nil
	}
	if err != nil {
		return nil, err
	}

	view := &integration.StatusView{
		Vendor:         vendor,
		Status:         in.Status,
		LastSyncAt:     in.LastSyncAt,
		LastSyncStatus: in.LastSyncStatus,
	}
	if in.Checkpoint != nil {
		view.Checkpoint = in.Checkpoint.Format(observation.DateLayout)
	}

	if in.Status == integration.StatusConnected {
		c, err := s.creds.Get(ctx, in.ID)
		switch {
		case err == nil:
			if !c.ExpiresAt.IsZero() {
				exp := c.ExpiresAt
				view.CredentialExpiresAt = &exp
			}
			view.CredentialNearExpiry = c.ExpiresWithin(s.margin, s.now())
		default:
			s.log(in).WarnWithErr(err, "Credential unavailable for status")
		}
	}

	if s.jobs != nil {
		last, err := s.jobs.Latest(ctx, userID, vendor)
		if err != nil {
			return nil, err
		}
		view.LastJob = last
	}
	return view, nil
}

// List describes every registered vendor for the user
func (s *IntegrationService) List(ctx context.Context, userID int64) ([]*integration.StatusView, error) {
	var views []*integration.StatusView
	for _, vendor := range s.registry.Vendors() {
		v, err := s.Status(ctx, userID, vendor)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Disconnect destroys the credential and disconnects the integration
func (s *IntegrationService) Disconnect(ctx context.Context, userID int64, vendor string) error {
	if _, err := s.registry.Client(vendor); err != nil {
		return err
	}
	in, err := s.Get(ctx, userID, vendor)
	if err != nil {
		return err
	}
	if err := s.disconnect(ctx, in); err != nil {
		return err
	}
	s.log(in).Info("Integration disconnected")
	return nil
}

// Revoke disconnects an integration after the vendor rejected its grant
func (s *IntegrationService) Revoke(ctx context.Context, in *integration.Integration) error {
	if err := s.disconnect(ctx, in); err != nil {
		return err
	}
	s.log(in).Warn("Vendor grant revoked, integration disconnected")
	return nil
}

func (s *IntegrationService) disconnect(ctx context.Context, in *integration.Integration) error {
	if err := s.creds.Delete(ctx, in.ID); err != nil {
		return err
	}

	status := in.Status
	for i := 0; i < 3 && status != integration.StatusDisconnected; i++ {
		ok, err := s.repo.Transition(ctx, in.ID, status, integration.StatusDisconnected, nil)
		if err != nil {
			return err
		}
		if ok {
			status = integration.StatusDisconnected
			break
		}
		cur, err := s.repo.GetByID(ctx, in.ID)
		if err != nil {
			return err
		}
		status = cur.Status
	}
	if status != integration.StatusDisconnected {
		return errors.Conflict("Integration status kept changing, disconnect did not complete")
	}

	in.Status = integration.StatusDisconnected
	in.AuthorizingUntil = nil
	s.refreshGauge(ctx)
	return nil
}

func (s *IntegrationService) refreshGauge(ctx context.Context) {
	counts, err := s.repo.CountByStatus(ctx, integration.StatusConnected)
	if err != nil {
		s.logger.WarnWithErr(err, "Failed to count connected integrations")
		return
	}
	for _, vendor := range s.registry.Vendors() {
		metrics.SetConnectedIntegrations(vendor, float64(counts[vendor]))
	}
}

func (s *IntegrationService) log(in *integration.Integration) *logger.Logger {
	return s.logger.WithFields(map[string]interface{}{
		"user_id":        in.UserID,
		"vendor":         in.Vendor,
		"integration_id": in.ID,
	})
}
