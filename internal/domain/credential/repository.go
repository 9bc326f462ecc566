package credential

import (
	"context"
	"time"
)

// Repository persists sealed credential blobs. It never sees plaintext.
type Repository interface {
	// Upsert replaces the sealed payload of an integration wholesale
	Upsert(ctx context.Context, integrationID int64, payload string, expiresAt *time.Time) error

	// Reseal swaps the payload only if it still equals oldPayload, and reports
	// whether it did. A row deleted or replaced since oldPayload was read is
	// left alone.
	Reseal(ctx context.Context, integrationID int64, oldPayload, newPayload string) (bool, error)

	// Get returns the sealed record or a NOT_FOUND error
	Get(ctx context.Context, integrationID int64) (*SealedRecord, error)

	// Delete removes the sealed record; deleting a missing record is not an error
	Delete(ctx context.Context, integrationID int64) error
}
