package providers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// OAuthConfig is a vendor's OAuth client registration
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// HTTPClient is used for token calls; nil means http.DefaultClient.
	HTTPClient *http.Client
}

// profileFunc looks up the vendor account behind a fresh token.
type profileFunc func(ctx context.Context, accessToken string) (vendorUserID, timezone string, err error)

// oauthConnector implements Connector over golang.org/x/oauth2 with PKCE.
type oauthConnector struct {
	vendor     string
	cfg        *oauth2.Config
	httpClient *http.Client
	profile    profileFunc
}

func newOAuthConnector(vendor string, oc OAuthConfig, profile profileFunc) *oauthConnector {
	return &oauthConnector{
		vendor: vendor,
		cfg: &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			RedirectURL:  oc.RedirectURL,
			Scopes:       oc.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   oc.AuthURL,
				TokenURL:  oc.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: oc.HTTPClient,
		profile:    profile,
	}
}

func (c *oauthConnector) Vendor() string { return c.vendor }

func (c *oauthConnector) AuthCodeURL(state, verifier string) string {
	return c.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (c *oauthConnector) withClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *oauthConnector) Exchange(ctx context.Context, code, verifier string) (*Grant, error) {
	tok, err := c.cfg.Exchange(c.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, errors.AuthorizationFailed(c.vendor, err)
	}

	cred := fromToken(tok)
	grant := &Grant{Credential: cred}
	if c.profile != nil {
		uid, tz, err := c.profile(ctx, tok.AccessToken)
		if err != nil {
			return nil, errors.AuthorizationFailed(c.vendor, fmt.Errorf("profile lookup: %w", err))
		}
		if uid != "" {
			cred.VendorUserID = uid
		}
		grant.Timezone = tz
	}
	return grant, nil
}

func (c *oauthConnector) Refresh(ctx context.Context, cur *credential.Credential) (*credential.Credential, error) {
	if cur == nil || !cur.CanRefresh() {
		return nil, errors.TokenRevoked(c.vendor, stderrors.New("no refresh token"))
	}

	// An empty access token is never valid, so the source always refreshes.
	src := c.cfg.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyRefreshError(c.vendor, err)
	}

	next := fromToken(tok)
	if next.VendorUserID == "" {
		next.VendorUserID = cur.VendorUserID
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	return next, nil
}

var revokedCodes = []string{"invalid_grant", "invalid_token", "unauthorized_client"}

func classifyRefreshError(vendor string, err error) error {
	var re *oauth2.RetrieveError
	if !stderrors.As(err, &re) {
		return errors.TokenRefreshFailed(vendor, err)
	}
	for _, code := range revokedCodes {
		// Some vendors (Fitbit) report the code in a non-standard body.
		if re.ErrorCode == code || strings.Contains(string(re.Body), code) {
			return errors.TokenRevoked(vendor, err)
		}
	}
	return errors.TokenRefreshFailed(vendor, err)
}

func fromToken(tok *oauth2.Token) *credential.Credential {
	c := &credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	if tok.Expiry.IsZero() {
		c.ExpiresAt = tok.Expiry
	}
	if v, ok := tok.Extra("user_id").(string); ok {
		c.VendorUserID = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		c.Scope = v
	}
	return c
}
