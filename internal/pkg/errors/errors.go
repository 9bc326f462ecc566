package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents an application error with additional context
type AppError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"-"`
	Internal   error       `json:"-"`
	Details    interface{} `json:"details,omitempty"`

	// RetryAfter is the delay hinted by a rate-limited upstream, zero when unknown.
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap returns the internal error for errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Common error codes
const (
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Integration and sync error codes
const (
	ErrCodeNotConnected          = "NOT_CONNECTED"
	ErrCodeAuthStateInvalid      = "AUTHORIZATION_STATE_INVALID"
	ErrCodeAuthorizationFailed   = "AUTHORIZATION_FAILED"
	ErrCodeTokenRefreshFailed    = "TOKEN_REFRESH_FAILED"
	ErrCodeTokenRevoked          = "TOKEN_REVOKED"
	ErrCodeVendorTransient       = "VENDOR_TRANSIENT"
	ErrCodeVendorRateLimited     = "VENDOR_RATE_LIMITED"
	ErrCodeVendorUnauthorized    = "VENDOR_UNAUTHORIZED"
	ErrCodeVendorMalformed       = "VENDOR_MALFORMED_RESPONSE"
	ErrCodeUnsupportedVendor     = "UNSUPPORTED_VENDOR"
	ErrCodeMapping               = "MAPPING_ERROR"
	ErrCodeStoreSubmissionFailed = "STORE_SUBMISSION_FAILED"
	ErrCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	ErrCodeCorruptCredential     = "CORRUPT_CREDENTIAL"
	ErrCodeAlreadySyncing        = "ALREADY_SYNCING"
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with an AppError
func Wrap(err error, code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal for foreign errors. A nil error has no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// RetryAfterOf returns the rate-limit hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	if appErr, ok := As(err); ok {
		return appErr.RetryAfter
	}
	return 0
}

// Common error constructors

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrCodeInternal, message, http.StatusInternalServerError)
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, message, http.StatusBadRequest)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// ValidationError creates a validation error
func ValidationError(message string, details interface{}) *AppError {
	return New(ErrCodeValidation, message, http.StatusBadRequest).WithDetails(details)
}

// DatabaseError creates a database error
func DatabaseError(message string, err error) *AppError {
	return Wrap(err, ErrCodeDatabase, message, http.StatusInternalServerError)
}

// RateLimited creates a rate limited error
func RateLimited(message string) *AppError {
	return New(ErrCodeRateLimited, message, http.StatusTooManyRequests)
}

// ServiceUnavailable creates a service unavailable error
func ServiceUnavailable(message string) *AppError {
	return New(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// Integration lifecycle

// NotConnected reports a sync attempted on an integration that is not connected
func NotConnected(vendor string) *AppError {
	return New(ErrCodeNotConnected,
		fmt.Sprintf("%s integration is not connected", vendor),
		http.StatusConflict)
}

// AuthStateInvalid reports an unknown, expired, tampered or already used OAuth state
func AuthStateInvalid(reason string) *AppError {
	return New(ErrCodeAuthStateInvalid,
		fmt.Sprintf("Authorization state is invalid: %s", reason),
		http.StatusBadRequest)
}

// AuthorizationFailed reports a failed authorization code exchange
func AuthorizationFailed(vendor string, err error) *AppError {
	return Wrap(err, ErrCodeAuthorizationFailed,
		fmt.Sprintf("Authorization with %s failed", vendor),
		http.StatusBadGateway)
}

// AlreadySyncing reports that a sync for the same integration is in flight
func AlreadySyncing(vendor string) *AppError {
	return New(ErrCodeAlreadySyncing,
		fmt.Sprintf("A %s sync is already running", vendor),
		http.StatusConflict)
}

// UnsupportedVendor reports a vendor with no registered client
func UnsupportedVendor(vendor string) *AppError {
	return New(ErrCodeUnsupportedVendor,
		fmt.Sprintf("Unsupported vendor: %s", vendor),
		http.StatusBadRequest)
}

// Credentials

// CorruptCredential reports a sealed credential that could not be opened
func CorruptCredential(err error) *AppError {
	return Wrap(err, ErrCodeCorruptCredential,
		"Stored credential is corrupt, reauthorization required",
		http.StatusInternalServerError)
}

// TokenRevoked reports a refresh grant rejected by the vendor
func TokenRevoked(vendor string, err error) *AppError {
	return Wrap(err, ErrCodeTokenRevoked,
		fmt.Sprintf("%s access was revoked, reauthorization required", vendor),
		http.StatusUnauthorized)
}

// TokenRefreshFailed reports a transient refresh failure
func TokenRefreshFailed(vendor string, err error) *AppError {
	return Wrap(err, ErrCodeTokenRefreshFailed,
		fmt.Sprintf("Failed to refresh %s access token", vendor),
		http.StatusBadGateway)
}

// Vendor calls

// VendorTransient reports a retryable vendor failure
func VendorTransient(vendor string, err error) *AppError {
	return Wrap(err, ErrCodeVendorTransient,
		fmt.Sprintf("%s API is temporarily unavailable", vendor),
		http.StatusServiceUnavailable)
}

// VendorRateLimited reports a vendor 429 with an optional retry hint
func VendorRateLimited(vendor string, retryAfter time.Duration) *AppError {
	e := New(ErrCodeVendorRateLimited,
		fmt.Sprintf("%s API rate limit exceeded", vendor),
		http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

// VendorUnauthorized reports a vendor rejecting the access token
func VendorUnauthorized(vendor string) *AppError {
	return New(ErrCodeVendorUnauthorized,
		fmt.Sprintf("%s rejected the access token", vendor),
		http.StatusUnauthorized)
}

// VendorMalformed reports a vendor payload that could not be decoded
func VendorMalformed(vendor string, err error) *AppError {
	return Wrap(err, ErrCodeVendorMalformed,
		fmt.Sprintf("%s returned a malformed response", vendor),
		http.StatusBadGateway)
}

// Mapping and submission

// MappingError reports a sample that cannot be normalized
func MappingError(message string) *AppError {
	return New(ErrCodeMapping, message, http.StatusUnprocessableEntity)
}

// StoreSubmissionFailed reports an observation the clinical store did not accept
func StoreSubmissionFailed(err error) *AppError {
	return Wrap(err, ErrCodeStoreSubmissionFailed,
		"Failed to submit observation to clinical store",
		http.StatusBadGateway)
}

// StoreUnavailable reports a transient clinical store failure
func StoreUnavailable(err error) *AppError {
	return Wrap(err, ErrCodeStoreUnavailable,
		"Clinical store is temporarily unavailable",
		http.StatusServiceUnavailable)
}
