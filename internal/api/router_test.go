package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/voice-companion/credential-vault/internal/auth"
	"github.com/voice-companion/credential-vault/internal/config"
)

func TestMain(m *testing.M) {
	os.Setenv("CV_JWT_SECRET", "router-test-secret-router-test-secret")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// testConfig returns the minimum viable configuration for router tests:
// encryption enabled, rate limiting off so repeated requests in one test do
// not trip the limiter.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Credentials.EncryptionKey = "router-test-passphrase-0123456789"
	cfg.Credentials.ValidationTimeout = time.Second
	cfg.Auth.TokenPrefix = "cv"
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	return cfg
}

func newRouterUnderTest(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	router, bg := NewRouter(testConfig(), db)
	t.Cleanup(bg.Shutdown)
	return mock, router
}

var userCols = []string{
	"id", "email", "display_name", "password_hash", "is_active", "is_superuser",
	"created_at", "updated_at",
}

func userRow(superuser bool) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice@example.com", "Alice", "irrelevant", true, superuser, time.Now(), time.Now())
}

func bearerFor(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateJWT("user-1", "alice@example.com", false, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return "Bearer " + token
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthIsPublic(t *testing.T) {
	_, router := newRouterUnderTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	_, router := newRouterUnderTest(t)

	for _, path := range []string{"/api/apikeys", "/api/apikeys/providers", "/api/tokens", "/api/admin/apikeys"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without credentials: status = %d, want 401", path, w.Code)
		}
	}
}

func TestAuthenticatedListThroughFullChain(t *testing.T) {
	mock, router := newRouterUnderTest(t)

	// Auth middleware loads the user, then the handler lists credentials.
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(userRow(false))
	mock.ExpectQuery("SELECT (.+) FROM provider_credentials").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_scope", "provider", "ciphertext", "is_encrypted",
			"custom_endpoint", "created_at", "updated_at",
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/apikeys", nil)
	req.Header.Set("Authorization", bearerFor(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdminSurfaceForbiddenForRegularUsers(t *testing.T) {
	mock, router := newRouterUnderTest(t)

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(userRow(false))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/apikeys", nil)
	req.Header.Set("Authorization", bearerFor(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body: %s)", w.Code, w.Body.String())
	}
}

func TestAdminSurfaceForSuperusers(t *testing.T) {
	mock, router := newRouterUnderTest(t)

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("user-1").
		WillReturnRows(userRow(true))
	mock.ExpectQuery("SELECT (.+) FROM provider_credentials").
		WithArgs("pool").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_scope", "provider", "ciphertext", "is_encrypted",
			"custom_endpoint", "created_at", "updated_at",
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/apikeys", nil)
	req.Header.Set("Authorization", bearerFor(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSecurityHeadersOnResponses(t *testing.T) {
	_, router := newRouterUnderTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected an X-Request-ID header")
	}
}

func TestCORSPreflight(t *testing.T) {
	_, router := newRouterUnderTest(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/apikeys", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
