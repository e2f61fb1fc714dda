package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testEncryptionKey is a plausible passphrase-mode key for tests that need a
// valid configuration.
const testEncryptionKey = "unit-test-passphrase-0123456789"

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "vault",
				Password: "secret",
				Name:     "credential_vault",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=vault password=secret dbname=credential_vault sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "",
				Name:     "dbname",
				SSLMode:  "prefer",
			},
			want: "host=localhost port=5432 user=user password= dbname=dbname sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// chdirEmpty moves the test into an empty directory so a developer's local
// config.yaml cannot leak into Load("").
func chdirEmpty(t *testing.T) {
	t.Helper()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("CRED_ENCRYPTION_KEY", testEncryptionKey)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.GetAddress() != "0.0.0.0:8080" {
		t.Errorf("GetAddress() = %q", cfg.Server.GetAddress())
	}
	if cfg.Auth.TokenPrefix != "cv" {
		t.Errorf("Auth.TokenPrefix = %q, want cv", cfg.Auth.TokenPrefix)
	}
	if cfg.Auth.JWTExpiry != time.Hour {
		t.Errorf("Auth.JWTExpiry = %v, want 1h", cfg.Auth.JWTExpiry)
	}
	if cfg.Credentials.AllowPlaintext {
		t.Error("AllowPlaintext should default to false")
	}
	if cfg.Credentials.LiveValidation {
		t.Error("LiveValidation should default to false")
	}
	if cfg.Credentials.ValidationTimeout != 10*time.Second {
		t.Errorf("ValidationTimeout = %v, want 10s", cfg.Credentials.ValidationTimeout)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis should be disabled without a host")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("CRED_ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("CV_SERVER_PORT", "9191")
	t.Setenv("CV_DATABASE_HOST", "db.internal")
	t.Setenv("CV_CREDENTIALS_LIVE_VALIDATION", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want db.internal", cfg.Database.Host)
	}
	if !cfg.Credentials.LiveValidation {
		t.Error("expected live validation enabled via env")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("CRED_ENCRYPTION_KEY", testEncryptionKey)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 8443
credentials:
  validation_timeout: 3s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Credentials.ValidationTimeout != 3*time.Second {
		t.Errorf("ValidationTimeout = %v, want 3s", cfg.Credentials.ValidationTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingEncryptionKeyRejected(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("CRED_ENCRYPTION_KEY", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected an error when CRED_ENCRYPTION_KEY is unset and plaintext is not allowed")
	}
	if !strings.Contains(err.Error(), "CRED_ENCRYPTION_KEY") {
		t.Errorf("error should name the missing variable, got: %v", err)
	}
}

func TestLoad_MissingKeyAllowedWithExplicitOptIn(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("CRED_ENCRYPTION_KEY", "")
	t.Setenv("CV_CREDENTIALS_ALLOW_PLAINTEXT", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Credentials.AllowPlaintext {
		t.Error("expected AllowPlaintext=true")
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Database.Host = "localhost"
	cfg.Database.Name = "credential_vault"
	cfg.Database.User = "vault"
	cfg.Credentials.EncryptionKey = testEncryptionKey
	cfg.Credentials.ValidationTimeout = 10 * time.Second
	cfg.Logging.Level = "info"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: ""},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Server.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "missing db host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database.host",
		},
		{
			name:    "no encryption key without opt-in",
			mutate:  func(c *Config) { c.Credentials.EncryptionKey = "" },
			wantErr: "CRED_ENCRYPTION_KEY",
		},
		{
			name: "no encryption key with opt-in",
			mutate: func(c *Config) {
				c.Credentials.EncryptionKey = ""
				c.Credentials.AllowPlaintext = true
			},
			wantErr: "",
		},
		{
			name:    "non-positive validation timeout",
			mutate:  func(c *Config) { c.Credentials.ValidationTimeout = 0 },
			wantErr: "validation_timeout",
		},
		{
			name: "tls without cert",
			mutate: func(c *Config) {
				c.Security.TLS.Enabled = true
				c.Security.TLS.KeyFile = "key.pem"
			},
			wantErr: "cert_file",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ProvidersConfig
// ---------------------------------------------------------------------------

func TestProvidersDefaults_OmitsUnsetProviders(t *testing.T) {
	p := &ProvidersConfig{
		OpenAI: ProviderDefault{APIKey: "sk-proj-defaultdefaultdefault"},
	}

	defaults := p.Defaults()
	if len(defaults) != 1 {
		t.Fatalf("expected 1 default, got %d", len(defaults))
	}
	if _, ok := defaults["openai"]; !ok {
		t.Error("expected an openai default")
	}
}

func TestProvidersDefaults_AzureEndpointFromRegion(t *testing.T) {
	p := &ProvidersConfig{
		AzureTTS:       ProviderDefault{APIKey: "0123456789abcdef0123456789abcdef"},
		AzureTTSRegion: "westeurope",
	}

	def, ok := p.Defaults()["azure_tts"]
	if !ok {
		t.Fatal("expected an azure_tts default")
	}
	want := "https://westeurope.tts.speech.microsoft.com"
	if def.Endpoint != want {
		t.Errorf("Endpoint = %q, want %q", def.Endpoint, want)
	}
}

func TestProvidersDefaults_ExplicitAzureEndpointWins(t *testing.T) {
	p := &ProvidersConfig{
		AzureTTS: ProviderDefault{
			APIKey:   "0123456789abcdef0123456789abcdef",
			Endpoint: "https://proxy.internal",
		},
		AzureTTSRegion: "westeurope",
	}

	if got := p.Defaults()["azure_tts"].Endpoint; got != "https://proxy.internal" {
		t.Errorf("Endpoint = %q, want explicit endpoint preserved", got)
	}
}
