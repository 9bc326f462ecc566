package credential

import "context"

// Store is the sealed token store. Get distinguishes a missing credential
// (NOT_FOUND) from one that cannot be opened (CORRUPT_CREDENTIAL).
type Store interface {
	Put(ctx context.Context, integrationID int64, c *Credential) error
	Get(ctx context.Context, integrationID int64) (*Credential, error)
	Delete(ctx context.Context, integrationID int64) error
}
