// Package apikeys implements the self-service credential endpoints: providers
// catalog, validation, and the caller's own stored credentials. Every handler
// operates on the owner scope of the authenticated user; the pool scope is
// managed by the admin handlers in the sibling admin package.
package apikeys

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voice-companion/credential-vault/internal/api/respond"
	"github.com/voice-companion/credential-vault/internal/db/models"
	"github.com/voice-companion/credential-vault/internal/providers"
	"github.com/voice-companion/credential-vault/internal/vault"
)

// Handlers handles credential self-service endpoints
type Handlers struct {
	store     *vault.Store
	resolver  *vault.Resolver
	validator *vault.Validator
}

// NewHandlers creates a new Handlers instance
func NewHandlers(store *vault.Store, resolver *vault.Resolver, validator *vault.Validator) *Handlers {
	return &Handlers{store: store, resolver: resolver, validator: validator}
}

// SaveRequest is the body for storing or overwriting a credential.
type SaveRequest struct {
	Provider       string  `json:"provider" binding:"required"`
	APIKey         string  `json:"api_key" binding:"required"`
	CustomEndpoint *string `json:"custom_endpoint"`
}

// ValidateRequest is the body for validating a candidate key without storing it.
type ValidateRequest struct {
	Provider       string `json:"provider" binding:"required"`
	APIKey         string `json:"api_key" binding:"required"`
	CustomEndpoint string `json:"custom_endpoint"`
}

// credentialJSON maps a stored credential to its JSON-safe shape. The
// ciphertext never leaves the store layer; only the redacted display does.
func credentialJSON(cred *models.ProviderCredential) gin.H {
	return gin.H{
		"id":              cred.ID,
		"provider":        cred.Provider,
		"redacted_key":    cred.RedactedKey,
		"custom_endpoint": cred.CustomEndpoint,
		"is_encrypted":    cred.IsEncrypted,
		"created_at":      cred.CreatedAt.Format(time.RFC3339),
		"updated_at":      cred.UpdatedAt.Format(time.RFC3339),
	}
}

// ListProvidersHandler returns the provider catalog.
// GET /api/apikeys/providers
func (h *Handlers) ListProvidersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := providers.All()
		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{
				"name":             e.Name,
				"display_name":     e.DisplayName,
				"default_endpoint": e.DefaultEndpoint,
				"key_hint":         e.KeyHint,
			})
		}
		respond.OK(c, http.StatusOK, gin.H{"providers": out})
	}
}

// ValidateHandler checks a candidate key without persisting it.
// POST /api/apikeys/validate
func (h *Handlers) ValidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ValidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "invalid_body", "provider and api_key are required")
			return
		}

		result, err := h.validator.Validate(c.Request.Context(), req.Provider, req.APIKey, req.CustomEndpoint)
		if err != nil {
			if errors.Is(err, vault.ErrUnsupportedProvider) {
				respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "unsupported_provider", "unknown provider: "+req.Provider)
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "validation_failed", "credential validation failed")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{
			"provider": req.Provider,
			"valid":    result.Valid,
			"code":     result.Code,
			"detail":   result.Detail,
		})
	}
}

// ListHandler lists the caller's stored credentials, redacted.
// GET /api/apikeys
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		creds, err := h.store.List(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "list_failed", "failed to list credentials")
			return
		}

		out := make([]gin.H, 0, len(creds))
		for _, cred := range creds {
			out = append(out, credentialJSON(cred))
		}
		respond.OK(c, http.StatusOK, gin.H{"credentials": out})
	}
}

// SaveHandler stores or overwrites the caller's credential for a provider.
// POST /api/apikeys
func (h *Handlers) SaveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "invalid_body", "provider and api_key are required")
			return
		}

		userID := c.GetString("user_id")
		cred, err := h.store.Save(c.Request.Context(), userID, req.Provider, req.APIKey, req.CustomEndpoint)
		if err != nil {
			switch {
			case errors.Is(err, vault.ErrUnsupportedProvider):
				respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "unsupported_provider", "unknown provider: "+req.Provider)
			case errors.Is(err, vault.ErrEncryptionUnavailable):
				respond.Error(c, http.StatusServiceUnavailable, respond.KindInternal, "encryption_unavailable", "credential encryption is not configured")
			default:
				respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "save_failed", "failed to store credential")
			}
			return
		}

		respond.OK(c, http.StatusCreated, gin.H{"credential": credentialJSON(cred)})
	}
}

// ResolutionHandler reports which tier would supply the caller's credential
// for a provider, without revealing the secret. Useful for debugging "which
// key is my chat actually using?" questions: the response carries the winning
// tier, the effective endpoint, and the redacted display only.
// GET /api/apikeys/resolve/:provider
func (h *Handlers) ResolutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		provider := c.Param("provider")

		resolved, err := h.resolver.Resolve(c.Request.Context(), userID, provider)
		if err != nil {
			switch {
			case errors.Is(err, vault.ErrUnsupportedProvider):
				respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "unsupported_provider", "unknown provider: "+provider)
			case errors.Is(err, vault.ErrCredentialNotFound):
				respond.Error(c, http.StatusNotFound, respond.KindNotFound, "credential_not_found", "no credential for provider "+provider+" at any tier")
			default:
				respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "resolution_failed", "failed to resolve credential")
			}
			return
		}

		respond.OK(c, http.StatusOK, gin.H{
			"provider":     provider,
			"tier":         resolved.Tier,
			"endpoint":     resolved.Endpoint,
			"redacted_key": vault.Redact(resolved.Secret),
		})
	}
}

// DeleteHandler removes the caller's credential for a provider.
// DELETE /api/apikeys/:provider
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		provider := c.Param("provider")

		if err := h.store.Delete(c.Request.Context(), userID, provider); err != nil {
			if errors.Is(err, vault.ErrCredentialNotFound) {
				respond.Error(c, http.StatusNotFound, respond.KindNotFound, "credential_not_found", "no stored credential for provider "+provider)
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "delete_failed", "failed to delete credential")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{"deleted": provider})
	}
}
