package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// CredentialRepository implements credential.Repository. Rows hold sealed
// blobs only.
type CredentialRepository struct {
	db     *sql.DB
	driver string
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sql.DB, driver string) credential.Repository {
	return &CredentialRepository{db: db, driver: driver}
}

// Upsert replaces the sealed payload for an integration
func (r *CredentialRepository) Upsert(ctx context.Context, integrationID int64, payload string, expiresAt *time.Time) error {
	query := `
		INSERT INTO credentials (integration_id, payload, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (integration_id) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, Rebind(r.driver, query),
		integrationID, payload, nullTime(expiresAt), time.Now().UTC())
	if err != nil {
		return errors.DatabaseError("Failed to store credential", err)
	}
	return nil
}

// Reseal replaces the payload only if the row still holds oldPayload
func (r *CredentialRepository) Reseal(ctx context.Context, integrationID int64, oldPayload, newPayload string) (bool, error) {
	query := `UPDATE credentials SET payload = ?, updated_at = ? WHERE integration_id = ? AND payload = ?`
	res, err := r.db.ExecContext(ctx, Rebind(r.driver, query),
		newPayload, time.Now().UTC(), integrationID, oldPayload)
	if err != nil {
		return false, errors.DatabaseError("Failed to reseal credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.DatabaseError("Failed to reseal credential", err)
	}
	return n == 1, nil
}

// Get returns the sealed record
func (r *CredentialRepository) Get(ctx context.Context, integrationID int64) (*credential.SealedRecord, error) {
	query := `SELECT integration_id, payload, expires_at, updated_at FROM credentials WHERE integration_id = ?`

	var rec credential.SealedRecord
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx, Rebind(r.driver, query), integrationID).Scan(
		&rec.IntegrationID, &rec.Payload, &expiresAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Credential")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get credential", err)
	}
	rec.ExpiresAt = timePtr(expiresAt)
	return &rec, nil
}

// Delete removes the sealed record
func (r *CredentialRepository) Delete(ctx context.Context, integrationID int64) error {
	query := `DELETE FROM credentials WHERE integration_id = ?`
	if _, err := r.db.ExecContext(ctx, Rebind(r.driver, query), integrationID); err != nil {
		return errors.DatabaseError("Failed to delete credential", err)
	}
	return nil
}
