// Package api wires together all HTTP routes for the credential vault.
//
// Route grouping philosophy:
//   - /health is unauthenticated so load balancers and orchestrators can probe
//     liveness without credentials.
//   - /api/auth/login is unauthenticated by nature but sits behind a stricter
//     rate limiter than the rest of the API to slow brute-force attempts.
//   - Everything else under /api requires a bearer token (JWT or personal
//     access token); the /api/admin subtree additionally requires the
//     superuser flag, enforced by middleware.RequireAdmin wrapping the same
//     store contract the self-service handlers use.
//   - /api/apikeys/validate has its own rate limiter because live validation
//     fans out to upstream provider APIs and must stay well under their
//     limits regardless of how hard a client hammers us.
package api

import (
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/voice-companion/credential-vault/internal/api/account"
	"github.com/voice-companion/credential-vault/internal/api/admin"
	"github.com/voice-companion/credential-vault/internal/api/apikeys"
	"github.com/voice-companion/credential-vault/internal/config"
	"github.com/voice-companion/credential-vault/internal/crypto"
	"github.com/voice-companion/credential-vault/internal/db/repositories"
	"github.com/voice-companion/credential-vault/internal/middleware"
	"github.com/voice-companion/credential-vault/internal/vault"
)

// BackgroundServices holds references to resources that must be stopped during
// graceful shutdown. The caller (cmd/server) is responsible for calling
// Shutdown() after the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	limiters    []middleware.Limiter
	redisClient *redis.Client
}

// Shutdown stops limiter goroutines and closes the Redis connection if one
// was opened.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, l := range bg.limiters {
		l.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, database *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(database)
	tokenRepo := repositories.NewAccessTokenRepository(database)
	credRepo := repositories.NewCredentialRepository(sqlx.NewDb(database, "postgres"))

	// Build the cipher from the configured key material. A nil cipher is only
	// tolerated by the store when plaintext storage was explicitly allowed;
	// config.Validate already rejected the missing-key-without-opt-in case at
	// startup, so a failure here means malformed key material.
	var cipher *crypto.SecretCipher
	if cfg.Credentials.EncryptionKey != "" {
		var err error
		cipher, err = crypto.NewSecretCipherFromString(cfg.Credentials.EncryptionKey)
		if err != nil {
			log.Fatalf("Failed to initialize secret cipher: %v", err)
		}
	}

	store, err := vault.NewStore(credRepo, cipher, cfg.Credentials.AllowPlaintext)
	if err != nil {
		log.Fatalf("Failed to initialize credential store: %v", err)
	}
	resolver := vault.NewResolver(store, &cfg.Providers)
	validator := vault.NewValidator(cfg.Credentials.LiveValidation, cfg.Credentials.ValidationTimeout)

	// Rate limiters: Redis-backed when a Redis host is configured so limits
	// hold across replicas, in-memory token buckets otherwise.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddress(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slog.Info("rate limiting backed by redis", "addr", cfg.Redis.GetAddress())
	}

	generalCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		generalCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		generalCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	generalLimiter := newLimiter(redisClient, generalCfg)
	authLimiter := newLimiter(redisClient, middleware.AuthRateLimitConfig())
	validationLimiter := newLimiter(redisClient, middleware.ValidationRateLimitConfig())

	// Initialize handlers
	accountHandlers := account.NewHandlers(cfg, userRepo, tokenRepo)
	apikeyHandlers := apikeys.NewHandlers(store, resolver, validator)
	poolHandlers := admin.NewPoolHandlers(store)

	// Global middleware. Security headers run last in the chain declaration
	// but apply to every response, including aborts from earlier middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check (public)
	router.GET("/health", healthCheckHandler(database))

	api := router.Group("/api")
	{
		// Login: public, strictly rate limited.
		authGroup := api.Group("/auth")
		if cfg.Security.RateLimiting.Enabled {
			authGroup.Use(middleware.RateLimitMiddleware(authLimiter, middleware.AuthRateLimitConfig()))
		}
		authGroup.POST("/login", accountHandlers.LoginHandler())

		// Everything below requires a bearer token.
		authenticated := api.Group("")
		if cfg.Security.RateLimiting.Enabled {
			authenticated.Use(middleware.RateLimitMiddleware(generalLimiter, generalCfg))
		}
		authenticated.Use(middleware.AuthMiddleware(userRepo, tokenRepo))
		{
			apikeysGroup := authenticated.Group("/apikeys")
			apikeysGroup.GET("/providers", apikeyHandlers.ListProvidersHandler())
			apikeysGroup.GET("", apikeyHandlers.ListHandler())
			apikeysGroup.POST("", apikeyHandlers.SaveHandler())
			apikeysGroup.DELETE("/:provider", apikeyHandlers.DeleteHandler())
			apikeysGroup.GET("/resolve/:provider", apikeyHandlers.ResolutionHandler())

			// Validation gets its own, tighter limiter on top of the general
			// one because a live probe spends upstream provider quota.
			validateGroup := authenticated.Group("/apikeys")
			if cfg.Security.RateLimiting.Enabled {
				validateGroup.Use(middleware.RateLimitMiddleware(validationLimiter, middleware.ValidationRateLimitConfig()))
			}
			validateGroup.POST("/validate", apikeyHandlers.ValidateHandler())

			tokensGroup := authenticated.Group("/tokens")
			tokensGroup.GET("", accountHandlers.ListTokensHandler())
			tokensGroup.POST("", accountHandlers.CreateTokenHandler())
			tokensGroup.DELETE("/:id", accountHandlers.DeleteTokenHandler())

			adminGroup := authenticated.Group("/admin")
			adminGroup.Use(middleware.RequireAdmin())
			{
				adminGroup.GET("/apikeys", poolHandlers.ListHandler())
				adminGroup.POST("/apikeys", poolHandlers.AddHandler())
				adminGroup.DELETE("/apikeys/:key_id", poolHandlers.DeleteHandler())
			}
		}
	}

	bg := &BackgroundServices{
		limiters:    []middleware.Limiter{generalLimiter, authLimiter, validationLimiter},
		redisClient: redisClient,
	}
	return router, bg
}

// newLimiter picks the Redis backend when a client is available, otherwise an
// in-process token bucket.
func newLimiter(redisClient *redis.Client, cfg middleware.RateLimitConfig) middleware.Limiter {
	if redisClient != nil {
		return middleware.NewRedisLimiter(redisClient, cfg)
	}
	return middleware.NewMemoryLimiter(cfg)
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware provides structured request logging via slog. Secrets
// never appear here: only method, path, status, and timing are recorded, and
// query strings are dropped because validate/save bodies must stay out of
// logs entirely.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
