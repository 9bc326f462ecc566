package services

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/metrics"
	"github.com/pratik-mahalle/vitalsync/internal/providers"
)

// TokenService hands out usable access tokens. Refreshes are single-flight
// per integration: concurrent callers share one refresh grant, and the
// credential is re-read inside the flight so a refresh that already happened
// is not repeated.
type TokenService struct {
	creds    credential.Store
	registry *providers.Registry
	margin   time.Duration
	timeout  time.Duration
	group    singleflight.Group
	logger   *logger.Logger
	now      func() time.Time
}

// NewTokenService creates a token service. Credentials expiring within
// margin are refreshed; a refresh grant may take up to timeout.
func NewTokenService(creds credential.Store, registry *providers.Registry, margin, timeout time.Duration, log *logger.Logger) *TokenService {
	return &TokenService{
		creds:    creds,
		registry: registry,
		margin:   margin,
		timeout:  timeout,
		logger:   log,
		now:      time.Now,
	}
}

// Token returns a credential valid for at least the refresh margin. A
// missing credential on a connected integration is reported as revoked.
func (s *TokenService) Token(ctx context.Context, in *integration.Integration) (*credential.Credential, error) {
	c, err := s.creds.Get(ctx, in.ID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, errors.TokenRevoked(in.Vendor, err)
	}
	if err != nil {
		return nil, err
	}
	if !c.ExpiresWithin(s.margin, s.now()) {
		return c, nil
	}
	return s.refresh(ctx, in, "")
}

// ForceRefresh refreshes after the vendor rejected stale. If another caller
// already replaced stale, the newer credential is returned without a grant.
func (s *TokenService) ForceRefresh(ctx context.Context, in *integration.Integration, stale string) (*credential.Credential, error) {
	c, err := s.refresh(ctx, in, stale)
	if err != nil {
		return nil, err
	}
	if c.AccessToken == stale {
		// Joined a flight that found the token still fresh.
		return s.refresh(ctx, in, stale)
	}
	return c, nil
}

// refresh runs at most one refresh grant per integration at a time. The
// flight is detached from the first caller's cancellation so a caller giving
// up does not fail the others; each caller still stops waiting on its own ctx.
func (s *TokenService) refresh(ctx context.Context, in *integration.Integration, stale string) (*credential.Credential, error) {
	key := strconv.FormatInt(in.ID, 10)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.doRefresh(fctx, in, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c := *res.Val.(*credential.Credential)
		return &c, nil
	case <-ctx.Done():
		return nil, errors.TokenRefreshFailed(in.Vendor, ctx.Err())
	}
}

func (s *TokenService) doRefresh(ctx context.Context, in *integration.Integration, stale string) (*credential.Credential, error) {
	cur, err := s.creds.Get(ctx, in.ID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, errors.TokenRevoked(in.Vendor, err)
	}
	if err != nil {
		return nil, err
	}

	if stale == "" && !cur.ExpiresWithin(s.margin, s.now()) {
		return cur, nil
	}
	if stale != "" && cur.AccessToken != stale {
		return cur, nil
	}

	connector, err := s.registry.Connector(in.Vendor)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"user_id":        in.UserID,
		"vendor":         in.Vendor,
		"integration_id": in.ID,
	})

	next, err := connector.Refresh(ctx, cur)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeTokenRevoked) {
			metrics.RecordTokenRefresh(in.Vendor, "revoked")
			log.WarnWithErr(err, "Refresh grant revoked")
			return nil, err
		}
		metrics.RecordTokenRefresh(in.Vendor, "failed")
		log.WarnWithErr(err, "Token refresh failed")
		if errors.IsCode(err, errors.ErrCodeTokenRefreshFailed) {
			return nil, err
		}
		return nil, errors.TokenRefreshFailed(in.Vendor, err)
	}

	// Vendors that do not rotate refresh tokens omit them from the response.
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.VendorUserID == "" {
		next.VendorUserID = cur.VendorUserID
	}
	if err := s.creds.Put(ctx, in.ID, next); err != nil {
		metrics.RecordTokenRefresh(in.Vendor, "failed")
		return nil, errors.TokenRefreshFailed(in.Vendor, err)
	}

	metrics.RecordTokenRefresh(in.Vendor, "success")
	log.Debug("Token refreshed")
	return next, nil
}
