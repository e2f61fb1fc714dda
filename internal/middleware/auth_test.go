package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/voice-companion/credential-vault/internal/auth"
	"github.com/voice-companion/credential-vault/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var userCols = []string{
	"id", "email", "display_name", "password_hash", "is_active", "is_superuser",
	"created_at", "updated_at",
}

var tokenCols = []string{
	"id", "user_id", "name", "token_hash", "token_prefix", "expires_at",
	"last_used_at", "created_at",
}

func activeUserRow(id string, admin bool) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(id, "u@example.com", "Test User", "$2a$12$hash", true, admin, time.Now(), time.Now())
}

func newAuthRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	userRepo := repositories.NewUserRepository(db)
	tokenRepo := repositories.NewAccessTokenRepository(db)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(userRepo, tokenRepo))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  c.GetString("user_id"),
			"is_admin": c.GetBool("is_admin"),
			"method":   c.GetString("auth_method"),
		})
	})
	return router, mock
}

func doRequest(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Header handling
// ---------------------------------------------------------------------------

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	router, _ := newAuthRouter(t)
	w := doRequest(router, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	router, _ := newAuthRouter(t)
	w := doRequest(router, "Basic dXNlcjpwYXNz")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// JWT path
// ---------------------------------------------------------------------------

func TestAuthMiddleware_ValidJWT(t *testing.T) {
	router, mock := newAuthRouter(t)
	token, err := auth.GenerateJWT("user-1", "u@example.com", false, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(activeUserRow("user-1", false))

	w := doRequest(router, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware_JWTForInactiveUser(t *testing.T) {
	router, mock := newAuthRouter(t)
	token, _ := auth.GenerateJWT("user-1", "u@example.com", false, time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "u@example.com", "Test User", "$2a$12$hash", false, false, time.Now(), time.Now()))

	w := doRequest(router, "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for inactive user", w.Code)
	}
}

func TestAuthMiddleware_ExpiredJWTFallsThroughToTokenLookup(t *testing.T) {
	router, mock := newAuthRouter(t)
	expired, _ := auth.GenerateJWT("user-1", "u@example.com", false, -time.Minute)

	// The expired JWT is treated as a candidate access token; no candidates
	// match its prefix, so the request is rejected.
	mock.ExpectQuery("SELECT (.+) FROM access_tokens").
		WillReturnRows(sqlmock.NewRows(tokenCols))

	w := doRequest(router, "Bearer "+expired)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for expired JWT", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Access token path
// ---------------------------------------------------------------------------

func TestAuthMiddleware_ValidAccessToken(t *testing.T) {
	router, mock := newAuthRouter(t)
	token, hash, prefix, err := auth.GenerateAccessToken("cv")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM access_tokens").
		WithArgs(prefix).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", "user-1", "ci token", hash, prefix, nil, nil, time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(activeUserRow("user-1", true))

	w := doRequest(router, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware_ExpiredAccessToken(t *testing.T) {
	router, mock := newAuthRouter(t)
	token, hash, prefix, _ := auth.GenerateAccessToken("cv")
	past := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM access_tokens").
		WithArgs(prefix).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", "user-1", "old token", hash, prefix, past, nil, time.Now()))

	w := doRequest(router, "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for expired token", w.Code)
	}
}

func TestAuthMiddleware_WrongAccessToken(t *testing.T) {
	router, mock := newAuthRouter(t)
	_, hash, prefix, _ := auth.GenerateAccessToken("cv")

	// A different token sharing the stored prefix must fail bcrypt comparison.
	impostor := prefix + "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	mock.ExpectQuery("SELECT (.+) FROM access_tokens").
		WithArgs(prefix).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", "user-1", "token", hash, prefix, nil, nil, time.Now()))

	w := doRequest(router, "Bearer "+impostor)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for wrong token", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(isAdmin bool) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) { c.Set("is_admin", isAdmin) })
		router.Use(RequireAdmin())
		router.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	t.Run("admin passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})
}
