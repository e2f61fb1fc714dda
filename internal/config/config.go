// Package config loads and validates the credential vault configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CV_ prefix (e.g., CV_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// A handful of secret variables have no CV_ prefix because they are injected by
// infrastructure tooling (Kubernetes secrets, Vault agent) that does not know
// the application-specific prefix: CRED_ENCRYPTION_KEY, and the per-provider
// default keys OPENAI_API_KEY, ANTHROPIC_API_KEY, ELEVENLABS_API_KEY,
// AZURE_TTS_KEY / AZURE_TTS_REGION, which form the deployment-default
// resolution tier.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration. It is built once at process
// start and treated as immutable thereafter; components receive it (or a
// sub-struct) at construction time.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection used for distributed rate
// limiting. When Host is empty the server falls back to an in-memory limiter,
// which is fine for a single instance but not for a replicated deployment.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GetAddress returns the Redis address in host:port format
func (c *RedisConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a Redis host has been configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// TokenPrefix is the prefix for generated personal access tokens (e.g. "cv")
	TokenPrefix string `mapstructure:"token_prefix"`
	// JWTExpiry is the lifetime of issued login JWTs
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

// CredentialsConfig governs encryption at rest and validation behaviour for
// stored provider credentials.
type CredentialsConfig struct {
	// EncryptionKey is the key material for AES-256-GCM encryption of stored
	// secrets. Either a base64url-encoded 32-byte key (as printed by
	// `generate-key`) or an arbitrary passphrase of at least 16 characters,
	// which is stretched with PBKDF2. Sourced from CRED_ENCRYPTION_KEY.
	EncryptionKey string `mapstructure:"encryption_key"`
	// AllowPlaintext permits storing secrets unencrypted when no encryption
	// key is configured. This must be an explicit operator decision; the
	// default is to refuse to start without a key.
	AllowPlaintext bool `mapstructure:"allow_plaintext"`
	// LiveValidation enables the optional network probe against the provider
	// when validating a credential. Disabled by default because it costs
	// provider quota and request latency.
	LiveValidation bool `mapstructure:"live_validation"`
	// ValidationTimeout bounds the live validation round trip. Probes are
	// never retried: a validation call is user-triggered and repeatable.
	ValidationTimeout time.Duration `mapstructure:"validation_timeout"`
}

// ProviderDefault is the deployment-configured fallback credential for a
// single provider — the lowest tier of the resolution order.
type ProviderDefault struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ProvidersConfig holds the per-provider deployment defaults, keyed by
// provider identifier (openai, anthropic, elevenlabs, azure_tts).
type ProvidersConfig struct {
	OpenAI     ProviderDefault `mapstructure:"openai"`
	Anthropic  ProviderDefault `mapstructure:"anthropic"`
	ElevenLabs ProviderDefault `mapstructure:"elevenlabs"`
	AzureTTS   ProviderDefault `mapstructure:"azure_tts"`
	// AzureTTSRegion builds the default Azure endpoint when no explicit
	// endpoint is configured (AZURE_TTS_REGION).
	AzureTTSRegion string `mapstructure:"azure_tts_region"`
}

// Defaults returns the configured fallback credentials as a map keyed by
// provider identifier, omitting providers without a configured key.
func (p *ProvidersConfig) Defaults() map[string]ProviderDefault {
	all := map[string]ProviderDefault{
		"openai":     p.OpenAI,
		"anthropic":  p.Anthropic,
		"elevenlabs": p.ElevenLabs,
		"azure_tts":  p.azureTTSDefault(),
	}
	out := make(map[string]ProviderDefault)
	for name, def := range all {
		if def.APIKey != "" {
			out[name] = def
		}
	}
	return out
}

func (p *ProvidersConfig) azureTTSDefault() ProviderDefault {
	def := p.AzureTTS
	if def.Endpoint == "" && p.AzureTTSRegion != "" {
		def.Endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com", p.AzureTTSRegion)
	}
	return def
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds pprof configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.host",
		"redis.port",
		"redis.password",
		"redis.db",

		// Auth
		"auth.token_prefix",
		"auth.jwt_expiry",

		// Credentials
		"credentials.allow_plaintext",
		"credentials.live_validation",
		"credentials.validation_timeout",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}

	// Secret material arrives under infrastructure-conventional names without
	// the CV_ prefix. These bindings carry the explicit variable name.
	secretKeys := map[string]string{
		"credentials.encryption_key":    "CRED_ENCRYPTION_KEY",
		"providers.openai.api_key":      "OPENAI_API_KEY",
		"providers.openai.endpoint":     "OPENAI_BASE_URL",
		"providers.anthropic.api_key":   "ANTHROPIC_API_KEY",
		"providers.anthropic.endpoint":  "ANTHROPIC_BASE_URL",
		"providers.elevenlabs.api_key":  "ELEVENLABS_API_KEY",
		"providers.elevenlabs.endpoint": "ELEVENLABS_BASE_URL",
		"providers.azure_tts.api_key":   "AZURE_TTS_KEY",
		"providers.azure_tts_region":    "AZURE_TTS_REGION",
	}
	for key, envName := range secretKeys {
		if err := v.BindEnv(key, envName); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", envName, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/credential-vault")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	} else {
		// Log config file edits so operators get confirmation that a change
		// was picked up by the watcher, even though a restart is needed for
		// anything outside the logging section.
		v.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("config file changed; restart to apply", "file", e.Name)
		})
		v.WatchConfig()
	}

	v.SetEnvPrefix("CV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be
	// indirected through a second environment variable.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Credentials.EncryptionKey = os.ExpandEnv(cfg.Credentials.EncryptionKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "credential_vault")
	v.SetDefault("database.user", "vault")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults (disabled unless a host is configured)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.token_prefix", "cv")
	v.SetDefault("auth.jwt_expiry", "1h")

	// Credential policy defaults
	v.SetDefault("credentials.allow_plaintext", false)
	v.SetDefault("credentials.live_validation", false)
	v.SetDefault("credentials.validation_timeout", "10s")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "credential-vault")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// An absent encryption key is only acceptable when the operator has
	// explicitly opted into plaintext storage.
	if c.Credentials.EncryptionKey == "" && !c.Credentials.AllowPlaintext {
		return fmt.Errorf("CRED_ENCRYPTION_KEY is required; set credentials.allow_plaintext=true to explicitly permit unencrypted storage")
	}

	if c.Credentials.ValidationTimeout <= 0 {
		return fmt.Errorf("credentials.validation_timeout must be positive")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
