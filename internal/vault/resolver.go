package vault

import (
	"context"
	"fmt"

	"github.com/voice-companion/credential-vault/internal/config"
	"github.com/voice-companion/credential-vault/internal/db/models"
	"github.com/voice-companion/credential-vault/internal/providers"
	"github.com/voice-companion/credential-vault/internal/telemetry"
)

// Resolution tiers, in precedence order. A credential found at a higher tier
// always wins, even if a lower tier would also match.
const (
	TierUser    = "user"
	TierPool    = "pool"
	TierDefault = "default"
)

// ResolvedCredential is the outcome of a resolution: the plaintext secret,
// the endpoint to call it against, and the tier that supplied it. It is
// handed directly to the outbound provider client and must never be
// serialized or logged.
type ResolvedCredential struct {
	Secret   string
	Endpoint string
	Tier     string
}

// Resolver walks the user → pool → deployment-default precedence for a
// provider credential. The endpoint always comes from the same tier as the
// secret: a user credential without a custom endpoint falls back to the
// provider's catalog endpoint, not to the pool's custom endpoint.
type Resolver struct {
	store     *Store
	providers *config.ProvidersConfig
}

func NewResolver(store *Store, providersCfg *config.ProvidersConfig) *Resolver {
	return &Resolver{store: store, providers: providersCfg}
}

// Resolve returns the effective credential for a user and provider.
// ErrCredentialNotFound means no tier had a key configured.
func (r *Resolver) Resolve(ctx context.Context, userID, provider string) (*ResolvedCredential, error) {
	entry, err := providers.Lookup(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	if userID != "" {
		resolved, err := r.fromStore(ctx, userID, provider, entry.DefaultEndpoint, TierUser)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			return resolved, nil
		}
	}

	resolved, err := r.fromStore(ctx, models.PoolOwnerScope, provider, entry.DefaultEndpoint, TierPool)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}

	if def, ok := r.providers.Defaults()[provider]; ok {
		endpoint := def.Endpoint
		if endpoint == "" {
			endpoint = entry.DefaultEndpoint
		}
		telemetry.CredentialResolutionsTotal.WithLabelValues(provider, TierDefault).Inc()
		return &ResolvedCredential{Secret: def.APIKey, Endpoint: endpoint, Tier: TierDefault}, nil
	}

	return nil, fmt.Errorf("%w: no credential for provider %s at any tier", ErrCredentialNotFound, provider)
}

// fromStore checks one stored tier. A missing row is not an error; it just
// means resolution continues at the next tier.
func (r *Resolver) fromStore(ctx context.Context, ownerScope, provider, defaultEndpoint, tier string) (*ResolvedCredential, error) {
	cred, err := r.store.repo.GetByOwnerAndProvider(ctx, ownerScope, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s credential: %w", tier, err)
	}
	if cred == nil {
		return nil, nil
	}

	secret, err := r.store.reveal(cred)
	if err != nil {
		return nil, err
	}

	endpoint := defaultEndpoint
	if cred.CustomEndpoint != nil && *cred.CustomEndpoint != "" {
		endpoint = *cred.CustomEndpoint
	}
	telemetry.CredentialResolutionsTotal.WithLabelValues(provider, tier).Inc()
	return &ResolvedCredential{Secret: secret, Endpoint: endpoint, Tier: tier}, nil
}
