package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voice-companion/credential-vault/internal/crypto"
	"github.com/voice-companion/credential-vault/internal/db/models"
	"github.com/voice-companion/credential-vault/internal/db/repositories"
	"github.com/voice-companion/credential-vault/internal/providers"
)

// Store persists provider credentials encrypted at rest. The plaintext secret
// exists only transiently in memory: Save encrypts before the row is written,
// and reads return a redacted display instead of the secret. Only the
// resolver's reveal path decrypts, immediately before handing the secret to a
// service caller.
type Store struct {
	repo           *repositories.CredentialRepository
	cipher         *crypto.SecretCipher
	allowPlaintext bool
}

// NewStore creates a credential store. cipher may be nil only when
// allowPlaintext is true; that combination stores secrets unencrypted and is
// logged loudly because it should never survive past local development.
func NewStore(repo *repositories.CredentialRepository, cipher *crypto.SecretCipher, allowPlaintext bool) (*Store, error) {
	if cipher == nil && !allowPlaintext {
		return nil, ErrEncryptionUnavailable
	}
	if cipher == nil {
		slog.Warn("credential store running WITHOUT encryption at rest; secrets will be stored in plaintext")
	}
	return &Store{repo: repo, cipher: cipher, allowPlaintext: allowPlaintext}, nil
}

// Redact returns the partial, non-reversible rendering of a secret that is
// safe for UI and API exposure: the last four characters. Secrets too short
// to safely expose a suffix are fully masked.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// Save encrypts and stores a credential, overwriting any existing one for the
// same owner and provider. The returned credential carries the redacted
// display, never the secret.
func (s *Store) Save(ctx context.Context, ownerScope, provider, secret string, customEndpoint *string) (*models.ProviderCredential, error) {
	if !providers.IsSupported(provider) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	stored := secret
	encrypted := false
	if s.cipher != nil {
		sealed, err := s.cipher.Seal(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credential: %w", err)
		}
		stored = sealed
		encrypted = true
	} else {
		slog.Warn("storing credential unencrypted", "provider", provider)
	}

	cred := &models.ProviderCredential{
		OwnerScope:     ownerScope,
		Provider:       provider,
		Ciphertext:     stored,
		IsEncrypted:    encrypted,
		CustomEndpoint: customEndpoint,
	}
	if err := s.repo.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	cred.RedactedKey = Redact(secret)
	return cred, nil
}

// Get retrieves one credential with its redacted display populated.
func (s *Store) Get(ctx context.Context, ownerScope, provider string) (*models.ProviderCredential, error) {
	cred, err := s.repo.GetByOwnerAndProvider(ctx, ownerScope, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrCredentialNotFound
	}
	s.redact(cred)
	return cred, nil
}

// GetByID retrieves one credential by row id (admin surface).
func (s *Store) GetByID(ctx context.Context, id string) (*models.ProviderCredential, error) {
	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrCredentialNotFound
	}
	s.redact(cred)
	return cred, nil
}

// List returns all credentials for an owner scope, redacted.
func (s *Store) List(ctx context.Context, ownerScope string) ([]*models.ProviderCredential, error) {
	creds, err := s.repo.ListByOwner(ctx, ownerScope)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	for _, cred := range creds {
		s.redact(cred)
	}
	return creds, nil
}

// Delete removes a credential by its natural key. Deleting a missing
// credential reports ErrCredentialNotFound rather than succeeding silently so
// the API can answer 404.
func (s *Store) Delete(ctx context.Context, ownerScope, provider string) error {
	deleted, err := s.repo.DeleteByOwnerAndProvider(ctx, ownerScope, provider)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if !deleted {
		return ErrCredentialNotFound
	}
	return nil
}

// DeleteByID removes a credential by row id (admin surface).
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if !deleted {
		return ErrCredentialNotFound
	}
	return nil
}

// reveal decrypts a stored credential's secret. The returned plaintext must
// be used immediately and never logged or serialized.
func (s *Store) reveal(cred *models.ProviderCredential) (string, error) {
	if !cred.IsEncrypted {
		return cred.Ciphertext, nil
	}
	if s.cipher == nil {
		return "", ErrEncryptionUnavailable
	}
	secret, err := s.cipher.Open(cred.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential %s: %w", cred.ID, err)
	}
	return secret, nil
}

// redact populates RedactedKey from the secret, decrypting transiently. A
// credential that fails to decrypt (rotated key, corrupted row) still lists,
// with a fully masked display.
func (s *Store) redact(cred *models.ProviderCredential) {
	secret, err := s.reveal(cred)
	if err != nil {
		slog.Warn("could not decrypt credential for display", "id", cred.ID, "provider", cred.Provider, "error", err)
		cred.RedactedKey = "****"
		return
	}
	cred.RedactedKey = Redact(secret)
}
