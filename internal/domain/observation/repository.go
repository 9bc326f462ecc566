package observation

import (
	"context"
	"time"
)

// LedgerEntry records that an observation with DedupID was accepted by the
// clinical store for a subject. Only identifiers are kept, never values.
type LedgerEntry struct {
	SubjectRef string    `json:"subject_ref"`
	DedupID    string    `json:"dedup_id"`
	StoreID    string    `json:"store_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LedgerRepository defines the interface for the submission ledger
type LedgerRepository interface {
	// Existing returns the subset of dedupIDs already recorded for subjectRef
	Existing(ctx context.Context, subjectRef string, dedupIDs []string) (map[string]bool, error)

	// Record stores an entry; recording an existing entry is not an error
	Record(ctx context.Context, entry *LedgerEntry) error

	// Count returns the number of entries for a subject
	Count(ctx context.Context, subjectRef string) (int, error)
}

// Store is the external clinical record store boundary
type Store interface {
	// Submit creates the observation unless one with the same dedup
	// identifier exists. created is false when the store already had it.
	Submit(ctx context.Context, o *Observation) (id string, created bool, err error)

	// Exists reports whether the store holds the dedup identifier for subjectRef
	Exists(ctx context.Context, subjectRef, dedupID string) (bool, error)

	// Search lists a subject's observations
	Search(ctx context.Context, subjectRef string, filter Filter) (*Page, error)
}
