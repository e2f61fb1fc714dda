// Package account implements the authentication surface: password login
// issuing JWTs, and personal access token management for machine callers.
package account

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voice-companion/credential-vault/internal/api/respond"
	"github.com/voice-companion/credential-vault/internal/auth"
	"github.com/voice-companion/credential-vault/internal/config"
	"github.com/voice-companion/credential-vault/internal/db/models"
	"github.com/voice-companion/credential-vault/internal/db/repositories"
)

// Handlers handles login and personal access token endpoints
type Handlers struct {
	cfg       *config.Config
	userRepo  *repositories.UserRepository
	tokenRepo *repositories.AccessTokenRepository
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg *config.Config, userRepo *repositories.UserRepository, tokenRepo *repositories.AccessTokenRepository) *Handlers {
	return &Handlers{cfg: cfg, userRepo: userRepo, tokenRepo: tokenRepo}
}

// LoginRequest is the body for password login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateTokenRequest is the body for minting a personal access token.
type CreateTokenRequest struct {
	Name string `json:"name" binding:"required"`
	// ExpiresInDays of 0 means the token never expires.
	ExpiresInDays int `json:"expires_in_days"`
}

// LoginHandler exchanges email+password for a JWT.
// POST /api/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "invalid_body", "email and password are required")
			return
		}

		user, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "login_failed", "login failed")
			return
		}

		// The same rejection for unknown email and wrong password, so the
		// endpoint cannot be used to enumerate accounts.
		if user == nil || !user.IsActive || !auth.CheckPassword(req.Password, user.PasswordHash) {
			respond.Error(c, http.StatusUnauthorized, respond.KindUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, user.IsSuperuser, h.cfg.Auth.JWTExpiry)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "login_failed", "failed to issue token")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{
			"access_token": token,
			"token_type":   "bearer",
			"expires_in":   int(h.cfg.Auth.JWTExpiry.Seconds()),
			"user": gin.H{
				"id":           user.ID,
				"email":        user.Email,
				"display_name": user.DisplayName,
				"is_superuser": user.IsSuperuser,
			},
		})
	}
}

// ListTokensHandler lists the caller's personal access tokens. Only the
// display prefix is returned; the full token is shown once at creation.
// GET /api/tokens
func (h *Handlers) ListTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		tokens, err := h.tokenRepo.ListByUser(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "list_failed", "failed to list tokens")
			return
		}

		out := make([]gin.H, 0, len(tokens))
		for _, tok := range tokens {
			entry := gin.H{
				"id":           tok.ID,
				"name":         tok.Name,
				"token_prefix": tok.TokenPrefix,
				"created_at":   tok.CreatedAt.Format(time.RFC3339),
			}
			if tok.ExpiresAt != nil {
				entry["expires_at"] = tok.ExpiresAt.Format(time.RFC3339)
			}
			if tok.LastUsedAt != nil {
				entry["last_used_at"] = tok.LastUsedAt.Format(time.RFC3339)
			}
			out = append(out, entry)
		}
		respond.OK(c, http.StatusOK, gin.H{"tokens": out})
	}
}

// CreateTokenHandler mints a personal access token and returns the full value
// exactly once.
// POST /api/tokens
func (h *Handlers) CreateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "invalid_body", "name is required")
			return
		}
		if req.ExpiresInDays < 0 {
			respond.Error(c, http.StatusBadRequest, respond.KindBadRequest, "invalid_expiry", "expires_in_days must not be negative")
			return
		}

		fullToken, hash, displayPrefix, err := auth.GenerateAccessToken(h.cfg.Auth.TokenPrefix)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "token_generation_failed", "failed to generate token")
			return
		}

		token := &models.AccessToken{
			UserID:      c.GetString("user_id"),
			Name:        req.Name,
			TokenHash:   hash,
			TokenPrefix: displayPrefix,
		}
		if req.ExpiresInDays > 0 {
			expiry := time.Now().AddDate(0, 0, req.ExpiresInDays)
			token.ExpiresAt = &expiry
		}

		if err := h.tokenRepo.Create(c.Request.Context(), token); err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "token_creation_failed", "failed to store token")
			return
		}

		payload := gin.H{
			"id":           token.ID,
			"name":         token.Name,
			"token":        fullToken, // only returned once
			"token_prefix": token.TokenPrefix,
			"created_at":   token.CreatedAt.Format(time.RFC3339),
		}
		if token.ExpiresAt != nil {
			payload["expires_at"] = token.ExpiresAt.Format(time.RFC3339)
		}
		respond.OK(c, http.StatusCreated, gin.H{"token": payload})
	}
}

// DeleteTokenHandler revokes one of the caller's tokens.
// DELETE /api/tokens/:id
func (h *Handlers) DeleteTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		tokenID := c.Param("id")

		token, err := h.tokenRepo.GetByID(c.Request.Context(), tokenID)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "delete_failed", "failed to load token")
			return
		}
		// Ownership check; admins do not get to revoke others' tokens here.
		if token == nil || token.UserID != userID {
			respond.Error(c, http.StatusNotFound, respond.KindNotFound, "token_not_found", "no token with id "+tokenID)
			return
		}

		deleted, err := h.tokenRepo.Delete(c.Request.Context(), tokenID)
		if err != nil || !deleted {
			respond.Error(c, http.StatusInternalServerError, respond.KindInternal, "delete_failed", "failed to delete token")
			return
		}

		respond.OK(c, http.StatusOK, gin.H{"deleted": tokenID})
	}
}
