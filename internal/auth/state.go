package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StateClaims is carried in the OAuth state parameter. The jti keys the
// server side entry that makes the state single use.
type StateClaims struct {
	UserID        int64  `json:"uid"`
	Vendor        string `json:"vendor"`
	IntegrationID int64  `json:"iid"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies OAuth state tokens
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a signer whose tokens expire after ttl
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of issued states
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new state and returns it with its id and expiry
func (s *StateSigner) Issue(userID int64, vendor string, integrationID int64) (token, id string, expiresAt time.Time, err error) {
	now := s.now()
	id = uuid.NewString()
	expiresAt = now.Add(s.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, StateClaims{
		UserID:        userID,
		Vendor:        vendor,
		IntegrationID: integrationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	token, err = t.SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, id, expiresAt, nil
}

// Verify checks signature and expiry. It does not check single use.
func (s *StateSigner) Verify(token string) (*StateClaims, error) {
	t, err := jwt.ParseWithClaims(token, &StateClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*StateClaims)
	if !ok || !t.Valid || c.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return c, nil
}
