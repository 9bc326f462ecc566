package sealed

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/domain/credential"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
)

// Store implements credential.Store on top of a blob repository. The
// integration id is bound as additional data, so a blob copied onto another
// integration's row fails to open instead of leaking the wrong tokens.
type Store struct {
	repo   credential.Repository
	sealer *Sealer
	logger *logger.Logger
}

// NewStore creates a sealed credential store
func NewStore(repo credential.Repository, sealer *Sealer, log *logger.Logger) *Store {
	return &Store{repo: repo, sealer: sealer, logger: log}
}

var _ credential.Store = (*Store)(nil)

// Put seals c with the primary key and replaces any previous credential.
func (s *Store) Put(ctx context.Context, integrationID int64, c *credential.Credential) error {
	if c == nil {
		return errors.BadRequest("credential is required")
	}
	blob, err := s.seal(integrationID, c)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if !c.ExpiresAt.IsZero() {
		t := c.ExpiresAt.UTC()
		expiresAt = &t
	}
	return s.repo.Upsert(ctx, integrationID, blob, expiresAt)
}

func (s *Store) seal(integrationID int64, c *credential.Credential) (string, error) {
	plaintext, err := json.Marshal(c)
	if err != nil {
		return "", errors.Internal("Failed to encode credential", err)
	}
	blob, err := s.sealer.Seal(plaintext, aadFor(integrationID))
	if err != nil {
		return "", errors.Internal("Failed to seal credential", err)
	}
	return blob, nil
}

// Get opens the stored credential. Missing rows surface the repository's
// NOT_FOUND; anything unreadable is CORRUPT_CREDENTIAL.
func (s *Store) Get(ctx context.Context, integrationID int64) (*credential.Credential, error) {
	rec, err := s.repo.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	plaintext, stale, err := s.sealer.Open(rec.Payload, aadFor(integrationID))
	if err != nil {
		return nil, errors.CorruptCredential(err)
	}

	var c credential.Credential
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return nil, errors.CorruptCredential(stderrors.Join(ErrCorrupt, err))
	}
	if c.AccessToken == "" {
		return nil, errors.CorruptCredential(stderrors.New("credential has no access token"))
	}

	if stale {
		s.reseal(ctx, integrationID, rec.Payload, &c)
	}

	return &c, nil
}

// reseal rotates a stale blob onto the primary key and cipher. The swap only
// lands if the row still holds the blob that was read, so a concurrent
// Delete or Put always wins.
func (s *Store) reseal(ctx context.Context, integrationID int64, oldPayload string, c *credential.Credential) {
	log := s.logger.WithFields(map[string]interface{}{"integration_id": integrationID})
	blob, err := s.seal(integrationID, c)
	if err != nil {
		log.WarnWithErr(err, "Failed to reseal credential")
		return
	}
	ok, err := s.repo.Reseal(ctx, integrationID, oldPayload, blob)
	if err != nil {
		log.WarnWithErr(err, "Failed to reseal credential")
		return
	}
	if !ok {
		log.Debug("Credential changed before reseal; keeping the newer one")
	}
}

// Delete destroys the credential.
func (s *Store) Delete(ctx context.Context, integrationID int64) error {
	return s.repo.Delete(ctx, integrationID)
}

func aadFor(integrationID int64) []byte {
	return []byte("integration:" + strconv.FormatInt(integrationID, 10))
}
