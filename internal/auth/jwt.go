package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity asserted by the session layer. The subject
// reference is the caller's clinical record identity, e.g. "Patient/123".
type Claims struct {
	UserID     int64  `json:"uid"`
	SubjectRef string `json:"sub_ref"`
	jwt.RegisteredClaims
}

// MintAccessToken signs an identity token. Sessions are normally issued by
// the identity service; this exists for the CLI and tests.
func MintAccessToken(userID int64, subjectRef, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:     userID,
		SubjectRef: subjectRef,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return tok.SignedString([]byte(secret))
}

func ParseClaims(tokenStr, secret string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if c.UserID <= 0 || c.SubjectRef == "" {
		return nil, fmt.Errorf("%w: uid and sub_ref are required", jwt.ErrTokenInvalidClaims)
	}
	return c, nil
}
