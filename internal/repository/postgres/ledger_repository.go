package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// ledgerBatch bounds the IN list of a single lookup
const ledgerBatch = 200

// LedgerRepository implements observation.LedgerRepository
type LedgerRepository struct {
	db     *sql.DB
	driver string
}

// NewLedgerRepository creates a new submission ledger repository
func NewLedgerRepository(db *sql.DB, driver string) observation.LedgerRepository {
	return &LedgerRepository{db: db, driver: driver}
}

// Existing returns which of dedupIDs are already recorded for subjectRef
func (r *LedgerRepository) Existing(ctx context.Context, subjectRef string, dedupIDs []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(dedupIDs); start += ledgerBatch {
		end := start + ledgerBatch
		if end > len(dedupIDs) {
			end = len(dedupIDs)
		}
		chunk := dedupIDs[start:end]

		query := `SELECT dedup_id FROM submitted_observations WHERE subject_ref = ? AND dedup_id IN (` + placeholders(len(chunk)) + `)`
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, subjectRef)
		for _, id := range chunk {
			args = append(args, id)
		}

		if err := r.collect(ctx, Rebind(r.driver, query), args, found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (r *LedgerRepository) collect(ctx context.Context, query string, args []interface{}, into map[string]bool) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.DatabaseError("Failed to query submission ledger", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return errors.DatabaseError("Failed to scan submission ledger", err)
		}
		into[id] = true
	}
	if err := rows.Err(); err != nil {
		return errors.DatabaseError("Failed to iterate submission ledger", err)
	}
	return nil
}

// Record stores an entry. Recording a known identifier is a no-op.
func (r *LedgerRepository) Record(ctx context.Context, entry *observation.LedgerEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO submitted_observations (subject_ref, dedup_id, store_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (subject_ref, dedup_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, Rebind(r.driver, query),
		entry.SubjectRef, entry.DedupID, entry.StoreID, entry.CreatedAt.UTC())
	if err != nil {
		return errors.DatabaseError("Failed to record submission", err)
	}
	return nil
}

// Count returns the number of recorded submissions for a subject
func (r *LedgerRepository) Count(ctx context.Context, subjectRef string) (int, error) {
	query := `SELECT COUNT(*) FROM submitted_observations WHERE subject_ref = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, Rebind(r.driver, query), subjectRef).Scan(&n); err != nil {
		return 0, errors.DatabaseError("Failed to count submissions", err)
	}
	return n, nil
}
