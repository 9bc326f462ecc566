package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/integration"
	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

const integrationColumns = `id, user_id, vendor, status, subject_ref, vendor_user_id, timezone,
	checkpoint, authorizing_until, last_sync_at, last_sync_status, created_at, updated_at`

// IntegrationRepository implements integration.Repository
type IntegrationRepository struct {
	db     *sql.DB
	driver string
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(db *sql.DB, driver string) integration.Repository {
	return &IntegrationRepository{db: db, driver: driver}
}

func (r *IntegrationRepository) q(query string) string {
	return Rebind(r.driver, query)
}

// Create inserts a new integration
func (r *IntegrationRepository) Create(ctx context.Context, in *integration.Integration) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO integrations (user_id, vendor, status, subject_ref, vendor_user_id, timezone,
			authorizing_until, last_sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, r.q(query),
		in.UserID, in.Vendor, string(in.Status), in.SubjectRef, in.VendorUserID, in.Timezone,
		nullTime(in.AuthorizingUntil), in.LastSyncStatus, now, now,
	).Scan(&in.ID)
	if err != nil {
		return errors.DatabaseError("Failed to create integration", err)
	}

	in.CreatedAt = now
	in.UpdatedAt = now
	return nil
}

// GetByID retrieves an integration by ID
func (r *IntegrationRepository) GetByID(ctx context.Context, id int64) (*integration.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = ?`
	return r.getOne(ctx, r.db.QueryRowContext(ctx, r.q(query), id))
}

// GetByVendor retrieves the integration for a user and vendor
func (r *IntegrationRepository) GetByVendor(ctx context.Context, userID int64, vendor string) (*integration.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE user_id = ? AND vendor = ?`
	return r.getOne(ctx, r.db.QueryRowContext(ctx, r.q(query), userID, vendor))
}

func (r *IntegrationRepository) getOne(_ context.Context, row *sql.Row) (*integration.Integration, error) {
	in, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Integration")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get integration", err)
	}
	return in, nil
}

// List retrieves all integrations for a user
func (r *IntegrationRepository) List(ctx context.Context, userID int64) ([]*integration.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE user_id = ? ORDER BY vendor`
	return r.list(ctx, r.q(query), userID)
}

// ListByStatus retrieves integrations of every user in a status
func (r *IntegrationRepository) ListByStatus(ctx context.Context, status integration.Status) ([]*integration.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE status = ? ORDER BY id`
	return r.list(ctx, r.q(query), string(status))
}

func (r *IntegrationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*integration.Integration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list integrations", err)
	}
	defer rows.Close()

	var out []*integration.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, errors.DatabaseError("Failed to scan integration", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate integrations", err)
	}
	return out, nil
}

// Transition moves an integration between statuses if it is still in from
func (r *IntegrationRepository) Transition(ctx context.Context, id int64, from, to integration.Status, authorizingUntil *time.Time) (bool, error) {
	query := `
		UPDATE integrations SET status = ?, authorizing_until = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.conditional(ctx, "transition integration", r.q(query),
		string(to), nullTime(authorizingUntil), time.Now().UTC(), id, string(from))
}

// MarkConnected moves an authorizing integration to connected. An empty
// timezone keeps the stored one.
func (r *IntegrationRepository) MarkConnected(ctx context.Context, id int64, vendorUserID, timezone string) (bool, error) {
	query := `
		UPDATE integrations SET status = ?, vendor_user_id = ?,
			timezone = CASE WHEN ? = '' THEN timezone ELSE ? END,
			authorizing_until = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.conditional(ctx, "mark integration connected", r.q(query),
		string(integration.StatusConnected), vendorUserID, timezone, timezone,
		time.Now().UTC(), id, string(integration.StatusAuthorizing))
}

// UpdateSubject replaces the clinical subject reference
func (r *IntegrationRepository) UpdateSubject(ctx context.Context, id int64, subjectRef string) error {
	query := `UPDATE integrations SET subject_ref = ?, updated_at = ? WHERE id = ?`
	ok, err := r.conditional(ctx, "update integration subject", r.q(query), subjectRef, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("Integration")
	}
	return nil
}

// AdvanceCheckpoint sets the checkpoint when day is after the stored one.
// Checkpoints are stored as YYYY-MM-DD so text order is date order.
func (r *IntegrationRepository) AdvanceCheckpoint(ctx context.Context, id int64, day time.Time) (bool, error) {
	query := `
		UPDATE integrations SET checkpoint = ?, updated_at = ?
		WHERE id = ? AND (checkpoint IS NULL OR checkpoint < ?)
	`
	d := day.UTC().Format(observation.DateLayout)
	return r.conditional(ctx, "advance checkpoint", r.q(query), d, time.Now().UTC(), id, d)
}

// RecordSync stores the time and outcome of the latest run
func (r *IntegrationRepository) RecordSync(ctx context.Context, id int64, at time.Time, status string) error {
	query := `UPDATE integrations SET last_sync_at = ?, last_sync_status = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.q(query), at.UTC(), status, time.Now().UTC(), id)
	if err != nil {
		return errors.DatabaseError("Failed to record sync", err)
	}
	return nil
}

// CountByStatus returns per-vendor counts for a status
func (r *IntegrationRepository) CountByStatus(ctx context.Context, status integration.Status) (map[string]int, error) {
	query := `SELECT vendor, COUNT(*) FROM integrations WHERE status = ? GROUP BY vendor`
	rows, err := r.db.QueryContext(ctx, r.q(query), string(status))
	if err != nil {
		return nil, errors.DatabaseError("Failed to count integrations", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var vendor string
		var n int
		if err := rows.Scan(&vendor, &n); err != nil {
			return nil, errors.DatabaseError("Failed to scan integration count", err)
		}
		counts[vendor] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to iterate integration counts", err)
	}
	return counts, nil
}

func (r *IntegrationRepository) conditional(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.DatabaseError("Failed to "+op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.DatabaseError("Failed to get affected rows", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(s rowScanner) (*integration.Integration, error) {
	var in integration.Integration
	var status string
	var checkpoint sql.NullString
	var authorizingUntil, lastSyncAt sql.NullTime

	err := s.Scan(
		&in.ID, &in.UserID, &in.Vendor, &status, &in.SubjectRef, &in.VendorUserID, &in.Timezone,
		&checkpoint, &authorizingUntil, &lastSyncAt, &in.LastSyncStatus, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	in.Status = integration.Status(status)
	if checkpoint.Valid && checkpoint.String != "" {
		day, err := observation.ParseDay(checkpoint.String)
		if err != nil {
			return nil, err
		}
		in.Checkpoint = &day
	}
	in.AuthorizingUntil = timePtr(authorizingUntil)
	in.LastSyncAt = timePtr(lastSyncAt)
	in.CreatedAt = in.CreatedAt.UTC()
	in.UpdatedAt = in.UpdatedAt.UTC()
	return &in, nil
}
