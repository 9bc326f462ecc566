package integration

import "context"

// Service defines the interface for the integration registry
type Service interface {
	// Select creates or reactivates the integration for a vendor
	Select(ctx context.Context, userID int64, subjectRef, vendor string) (*Integration, error)

	// BeginAuthorization issues a state token and returns the vendor's
	// authorization URL
	BeginAuthorization(ctx context.Context, userID int64, vendor string) (string, error)

	// CompleteAuthorization validates the state, exchanges the code and
	// connects the integration
	CompleteAuthorization(ctx context.Context, code, state string) (*Integration, error)

	// FailAuthorization consumes the state and returns the integration to
	// selected
	FailAuthorization(ctx context.Context, state, reason string) error

	// Get returns the integration, applying any lazy authorization timeout
	Get(ctx context.Context, userID int64, vendor string) (*Integration, error)

	// Status describes the integration for a user and vendor
	Status(ctx context.Context, userID int64, vendor string) (*StatusView, error)

	// List describes every supported vendor for a user
	List(ctx context.Context, userID int64) ([]*StatusView, error)

	// Disconnect destroys the credential and disconnects the integration
	Disconnect(ctx context.Context, userID int64, vendor string) error

	// Revoke disconnects an integration whose grant the vendor revoked
	Revoke(ctx context.Context, in *Integration) error
}
