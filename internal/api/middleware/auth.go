package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pratik-mahalle/vitalsync/internal/auth"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/utils"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "userID"
	// SubjectRefKey is the context key for the caller's clinical subject
	SubjectRefKey ContextKey = "subjectRef"
)

// AuthMiddleware returns a middleware that validates session tokens. The
// session carries both the user id and the subject reference observations
// are written under.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				utils.WriteError(w, errors.Unauthorized("Missing authentication token"))
				return
			}

			claims, err := auth.ParseClaims(tokenStr, jwtSecret)
			if err != nil {
				utils.WriteError(w, errors.Unauthorized("Invalid or expired token"))
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.SubjectRef)

			// Add audit info to logs
			AddLogField(w, "user_id", claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie("accessToken"); err == nil {
		return cookie.Value
	}
	return ""
}

// WithIdentity stores the caller's identity in ctx
func WithIdentity(ctx context.Context, userID int64, subjectRef string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, SubjectRefKey, subjectRef)
}

// GetUserID extracts the user ID from the request context
func GetUserID(r *http.Request) (int64, bool) {
	userID, ok := r.Context().Value(UserIDKey).(int64)
	return userID, ok
}

// GetSubjectRef extracts the subject reference from the request context
func GetSubjectRef(r *http.Request) (string, bool) {
	ref, ok := r.Context().Value(SubjectRefKey).(string)
	return ref, ok && ref != ""
}
