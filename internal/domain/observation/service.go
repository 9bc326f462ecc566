package observation

import "context"

// Service defines the interface for reading observations back
type Service interface {
	// List returns the caller's observations from the clinical store
	List(ctx context.Context, userID int64, subjectRef string, filter Filter) (*Page, error)
}
