// Package models defines the database model types for the credential vault.
// Each type corresponds to a database table and uses struct tags for both JSON
// serialization and sqlx row scanning. Models are pure data types — encryption
// and resolution logic lives in internal/vault, query logic in the
// repositories layer.
package models

import "time"

// PoolOwnerScope is the distinguished owner_scope for admin-managed pool
// credentials shared across users who lack their own.
const PoolOwnerScope = "pool"

// ProviderCredential is a stored credential for one upstream provider. The
// secret material is held only as ciphertext (or, when the operator has
// explicitly allowed plaintext storage, with IsEncrypted=false); the plaintext
// never appears in this struct.
type ProviderCredential struct {
	ID             string     `db:"id" json:"id"`
	OwnerScope     string     `db:"owner_scope" json:"owner_scope"`
	Provider       string     `db:"provider" json:"provider"`
	Ciphertext     string     `db:"ciphertext" json:"-"`
	IsEncrypted    bool       `db:"is_encrypted" json:"is_encrypted"`
	CustomEndpoint *string    `db:"custom_endpoint" json:"custom_endpoint,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	// RedactedKey is derived at read time by the vault store (never stored):
	// a partial rendering of the secret safe for UI exposure, e.g. "…a1b2".
	RedactedKey string `db:"-" json:"redacted_key,omitempty"`
}

// IsPool reports whether this is a shared pool credential.
func (c *ProviderCredential) IsPool() bool {
	return c.OwnerScope == PoolOwnerScope
}
