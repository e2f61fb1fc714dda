// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB
// work. Auth populates the user identity; admin checks read from that context.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voice-companion/credential-vault/internal/auth"
	"github.com/voice-companion/credential-vault/internal/db/models"
	"github.com/voice-companion/credential-vault/internal/db/repositories"
	"github.com/voice-companion/credential-vault/internal/safego"
)

// AuthMiddleware validates authentication (JWT or personal access token).
func AuthMiddleware(userRepo *repositories.UserRepository, tokenRepo *repositories.AccessTokenRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token, err := auth.ExtractBearerToken(authHeader)
		if err != nil {
			abortUnauthorized(c, "missing_credentials", err.Error())
			return
		}

		// JWT validation is attempted first because it is entirely stateless —
		// it requires only a cryptographic check against the JWT secret with no
		// database round-trip. Access token validation always requires a DB
		// query (prefix lookup + bcrypt comparison), so JWT is the
		// lower-latency path for browser sessions.
		if claims, jerr := auth.ValidateJWT(token); jerr == nil {
			user, uerr := userRepo.GetByID(c.Request.Context(), claims.UserID)
			if uerr != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false, "error": "internal", "code": "user_load_failed",
					"detail": "failed to load user",
				})
				return
			}
			if user == nil || !user.IsActive {
				abortUnauthorized(c, "invalid_credentials", "user not found or inactive")
				return
			}

			c.Set("user", user)
			c.Set("user_id", user.ID)
			c.Set("is_admin", user.IsSuperuser)
			c.Set("auth_method", "jwt")
			c.Next()
			return
		}

		// Try a personal access token.
		// We never store the raw token — only its bcrypt hash. The 10-character
		// prefix is stored plaintext alongside the hash so we can do a fast
		// indexed DB query to narrow the candidate set, then run the expensive
		// bcrypt comparison only on those few rows. Without the prefix, every
		// request would require scanning the entire access_tokens table and
		// running bcrypt on each row.
		accessToken, err := authenticateAccessToken(c.Request.Context(), token, tokenRepo)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false, "error": "internal", "code": "auth_failed",
				"detail": "authentication failed",
			})
			return
		}
		if accessToken == nil {
			abortUnauthorized(c, "invalid_credentials", "invalid token")
			return
		}
		if accessToken.Expired(time.Now()) {
			abortUnauthorized(c, "token_expired", "access token expired")
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), accessToken.UserID)
		if err != nil || user == nil || !user.IsActive {
			abortUnauthorized(c, "invalid_credentials", "user not found or inactive")
			return
		}

		// Update last-used asynchronously. This is intentionally
		// fire-and-forget: last-used tracking is best-effort, and a synchronous
		// DB write on every authenticated request would raise P99 latency
		// across all endpoints. The 5-second timeout prevents leaked goroutines
		// if the DB is temporarily unreachable.
		tokenID := accessToken.ID
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tokenRepo.UpdateLastUsed(ctx, tokenID)
		})

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Set("is_admin", user.IsSuperuser)
		c.Set("access_token_id", accessToken.ID)
		c.Set("auth_method", "access_token")
		c.Next()
	}
}

// RequireAdmin aborts with 403 unless the authenticated user is a superuser.
// Must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("is_admin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "error": "forbidden", "code": "admin_required",
				"detail": "administrator privileges required",
			})
			return
		}
		c.Next()
	}
}

// authenticateAccessToken attempts to authenticate an access token by prefix
// lookup and bcrypt validation. Returns (nil, nil) when no candidate matches.
func authenticateAccessToken(ctx context.Context, providedToken string, tokenRepo *repositories.AccessTokenRepository) (*models.AccessToken, error) {
	prefix := providedToken
	if len(providedToken) > auth.DisplayPrefixLength {
		prefix = providedToken[:auth.DisplayPrefixLength]
	}

	candidates, err := tokenRepo.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		if auth.ValidateAccessToken(providedToken, candidate.TokenHash) {
			return candidate, nil
		}
	}
	return nil, nil
}

func abortUnauthorized(c *gin.Context, code, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false, "error": "unauthorized", "code": code, "detail": detail,
	})
}
