// credential_repository.go implements CredentialRepository, providing database
// queries for provider credential upsert, lookup by owner and provider, and
// deletion. Missing rows are reported as (nil, nil) / (false, nil); mapping
// that onto the vault error taxonomy is the store's job.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voice-companion/credential-vault/internal/db/models"
)

// CredentialRepository handles provider credential database operations
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert writes a credential, overwriting any existing row for the same
// (owner_scope, provider) pair. The ON CONFLICT clause makes the write atomic
// at the persistence layer, so concurrent saves for the same key are safe
// without application-level locking. The passed credential is updated in
// place with the row's id and timestamps.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.ProviderCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	query := `
		INSERT INTO provider_credentials (id, owner_scope, provider, ciphertext, is_encrypted, custom_endpoint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_scope, provider) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			is_encrypted = EXCLUDED.is_encrypted,
			custom_endpoint = EXCLUDED.custom_endpoint,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		cred.ID,
		cred.OwnerScope,
		cred.Provider,
		cred.Ciphertext,
		cred.IsEncrypted,
		cred.CustomEndpoint,
		cred.CreatedAt,
		cred.UpdatedAt,
	)
	return row.Scan(&cred.ID, &cred.CreatedAt)
}

// GetByOwnerAndProvider retrieves a credential by its natural key.
// Returns (nil, nil) when no row exists.
func (r *CredentialRepository) GetByOwnerAndProvider(ctx context.Context, ownerScope, provider string) (*models.ProviderCredential, error) {
	query := `
		SELECT id, owner_scope, provider, ciphertext, is_encrypted, custom_endpoint, created_at, updated_at
		FROM provider_credentials
		WHERE owner_scope = $1 AND provider = $2
	`

	cred := &models.ProviderCredential{}
	err := r.db.GetContext(ctx, cred, query, ownerScope, provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// GetByID retrieves a credential by row id. Returns (nil, nil) when missing.
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.ProviderCredential, error) {
	query := `
		SELECT id, owner_scope, provider, ciphertext, is_encrypted, custom_endpoint, created_at, updated_at
		FROM provider_credentials
		WHERE id = $1
	`

	cred := &models.ProviderCredential{}
	err := r.db.GetContext(ctx, cred, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// ListByOwner returns all credentials for an owner scope, newest first.
func (r *CredentialRepository) ListByOwner(ctx context.Context, ownerScope string) ([]*models.ProviderCredential, error) {
	query := `
		SELECT id, owner_scope, provider, ciphertext, is_encrypted, custom_endpoint, created_at, updated_at
		FROM provider_credentials
		WHERE owner_scope = $1
		ORDER BY updated_at DESC
	`

	creds := []*models.ProviderCredential{}
	if err := r.db.SelectContext(ctx, &creds, query, ownerScope); err != nil {
		return nil, err
	}
	return creds, nil
}

// DeleteByOwnerAndProvider removes a credential by its natural key.
// The bool result reports whether a row was actually deleted.
func (r *CredentialRepository) DeleteByOwnerAndProvider(ctx context.Context, ownerScope, provider string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE owner_scope = $1 AND provider = $2`,
		ownerScope, provider,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteByID removes a credential by row id. The bool result reports whether
// a row was actually deleted.
func (r *CredentialRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM provider_credentials WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
