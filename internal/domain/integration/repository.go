package integration

import (
	"context"
	"time"
)

// Repository defines the interface for integration data access. Status
// changes are conditional so two racing transitions cannot both apply.
type Repository interface {
	// Create inserts a new integration and sets its ID
	Create(ctx context.Context, in *Integration) error

	// GetByID retrieves an integration
	GetByID(ctx context.Context, id int64) (*Integration, error)

	// GetByVendor retrieves the integration for a user and vendor
	GetByVendor(ctx context.Context, userID int64, vendor string) (*Integration, error)

	// List retrieves all integrations for a user
	List(ctx context.Context, userID int64) ([]*Integration, error)

	// ListByStatus retrieves integrations of every user in a status
	ListByStatus(ctx context.Context, status Status) ([]*Integration, error)

	// Transition moves an integration from one status to another. It reports
	// false when the row was no longer in from.
	Transition(ctx context.Context, id int64, from, to Status, authorizingUntil *time.Time) (bool, error)

	// MarkConnected moves an authorizing integration to connected and records
	// the vendor account details.
	MarkConnected(ctx context.Context, id int64, vendorUserID, timezone string) (bool, error)

	// UpdateSubject replaces the clinical subject reference
	UpdateSubject(ctx context.Context, id int64, subjectRef string) error

	// AdvanceCheckpoint sets the checkpoint to day only when it moves forward
	AdvanceCheckpoint(ctx context.Context, id int64, day time.Time) (bool, error)

	// RecordSync stores the time and outcome of the latest sync run
	RecordSync(ctx context.Context, id int64, at time.Time, status string) error

	// CountByStatus returns integration counts per vendor for a status
	CountByStatus(ctx context.Context, status Status) (map[string]int, error)
}
