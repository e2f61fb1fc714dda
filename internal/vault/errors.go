// Package vault implements the credential store, the tiered resolver, and the
// validator for provider API keys. The store owns encryption at rest and
// redaction; the resolver owns the user → pool → deployment-default
// precedence; the validator owns the two-stage format/liveness check.
package vault

import "errors"

var (
	// ErrCredentialNotFound is returned when no credential exists for the
	// requested owner and provider (store), or when none of the three
	// resolution tiers has an entry (resolver).
	ErrCredentialNotFound = errors.New("vault: credential not found")

	// ErrEncryptionUnavailable is returned by Save when no encryption key is
	// configured and plaintext storage has not been explicitly allowed.
	ErrEncryptionUnavailable = errors.New("vault: encryption key not configured")

	// ErrUnsupportedProvider is returned when the provider identifier is not
	// in the catalog.
	ErrUnsupportedProvider = errors.New("vault: unsupported provider")
)
