// Package admin implements the administrative HTTP handlers for the vault.
// These handlers manage the shared pool credential tier and require the
// authenticated user to be a superuser (enforced by middleware.RequireAdmin
// in router.go, not re-checked here).
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voice-companion/credential-vault/internal/api/respond"
	"github.com/voice-companion/credential-vault/internal/db/models"
	"github.com/voice-companion/credential-vault/internal/vault"
)

// PoolHandlers handles pool credential management endpoints
type PoolHandlers struct {
	store *vault.Store
}

// NewPoolHandlers creates a new PoolHandlers instance
func NewPoolHandlers(store *vault.Store) *PoolHandlers {
	return &PoolHandlers{store: store}
}

// AddRequest is the body for adding a pool credential.
type AddRequest struct {
	Provider       string  `json:"provider" binding:"required"`
	APIKey         string  `json:"api_key" binding:"required"`
	CustomEndpoint *string `json:"custom_endpoint"`
}

func poolCredentialJSON(cred *models.ProviderCredential) gin.H {
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

// ListHandler lists pool credentials, redacted.
// GET /api/admin/apikeys
func (h *PoolHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creds, err := h.store.List(c.Request.Context(), models.PoolOwnerScope)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "list_failed", "failed to list pool credentials")
			return
		}

		out := make([]gin.H, 0, len(creds))
		for _, cred := range creds {
			out = append(out, poolCredentialJSON(cred))
		}
		respond.OK(c, http.StatusOK, gin.H{"credentials": out})
	}
}

// AddHandler stores or overwrites a pool credential.
// POST /api/admin/apikeys
func (h *PoolHandlers) AddHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "invalid_body", "provider and api_key are required")
			return
		}

		cred, err := h.store.Save(c.Request.Context(), models.PoolOwnerScope, req.Provider, req.APIKey, req.CustomEndpoint)
		if err != nil {
			switch {
			case errors.Is(err, vault.ErrUnsupportedProvider):
				respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "unsupported_provider", "unknown provider: "+req.Provider)
			case errors.Is(err, vault.ErrEncryptionUnavailable):
				respond.Error(c, http.StatusServiceUnavailable, respond.KindInternal, "encryption_unavailable", "credential encryption is not configured")
			default:
				respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "save_failed", "failed to store pool credential")
			}
			return
		}

		respond.OK(c, http.StatusCreated, gin.H{"credential": poolCredentialJSON(cred)})
	}
}

// DeleteHandler removes a pool credential by row id.
// DELETE /api/admin/apikeys/:key_id
func (h *PoolHandlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID := c.Param("key_id")

		// Deleting by id could reach any owner scope; restrict the admin
		// surface to pool rows so user credentials stay self-service only.
		cred, err := h.store.GetByID(c.Request.Context(), keyID)
		if err != nil {
			if errors.Is(err, vault.ErrCredentialNotFound) {
				respond.Error(c, http.StatusNotFound, respond.KindNotFound, "credential_not_found", "no pool credential with id "+keyID)
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "delete_failed", "failed to load credential")
			return
		}
		if !cred.IsPool() {
			respond.Error(c, http.StatusNotFound, respond.KindNotFound, "credential_not_found", "no pool credential with id "+keyID)
			return
		}

		if err := h.store.DeleteByID(c.Request.Context(), keyID); err != nil {
			if errors.Is(err, vault.ErrCredentialNotFound) {
				respond.Error(c, http.StatusNotFound, respond.KindNotFound, "credential_not_found", "no pool credential with id "+keyID)
				return
			}
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "delete_failed", "failed to delete pool credential")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{"deleted": keyID})
	}
}
