// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.murmur/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: Model selection, temperature, max tokens, embedder
//   - Agent: step limits, history window, tool output caps
//   - Storage: PostgreSQL connection (see storage.go)
//   - Tools: SearXNG search, page fetching (see tools.go)
//   - Server: listen address, auth secret, CORS, rate limits
//   - Telemetry: OTLP tracing (see observability.go)
//
// Security: Sensitive data (passwords, secrets) are never logged; config directory uses 0750 permissions.
// Validation: Comprehensive range checks in validation.go with clear error messages.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxSteps indicates the agent step limit is out of range.
	ErrInvalidMaxSteps = errors.New("invalid max steps")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingAuthSecret indicates the auth secret is not set.
	ErrMissingAuthSecret = errors.New("missing auth secret")

	// ErrInvalidAuthSecret indicates the auth secret is too short.
	ErrInvalidAuthSecret = errors.New("invalid auth secret")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation Learning).
	// Our pgvector schema uses 768 dimensions; see memory.VectorDimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultMaxHistoryMessages is the default number of messages to load per turn.
	DefaultMaxHistoryMessages int32 = 100

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages int32 = 10000

	// MinHistoryMessages is the minimum allowed value for MaxHistoryMessages.
	MinHistoryMessages int32 = 10

	// DefaultMaxSteps is the default model invocation limit per turn.
	DefaultMaxSteps = 5

	// MaxAllowedSteps bounds the configurable step limit.
	MaxAllowedSteps = 25
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "gemini-2.5-flash")
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Agent turn configuration
	MaxSteps           int   `mapstructure:"max_steps" json:"max_steps"` // Model invocations per turn before degraded finalize
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Memory configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	MemoryTopK    int    `mapstructure:"memory_top_k" json:"memory_top_k"`

	// Tool configuration (see tools.go for type definitions)
	SearXNG SearXNGConfig `mapstructure:"searxng" json:"searxng"`
	Fetch   FetchConfig   `mapstructure:"fetch" json:"fetch"`

	// Telemetry configuration (see observability.go for type definition)
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`

	// Server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	AuthSecret  string   `mapstructure:"auth_secret" json:"auth_secret"` // SENSITIVE: masked in MarshalJSON
	TokenTTLMin int      `mapstructure:"token_ttl_min" json:"token_ttl_min"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateLimit   float64  `mapstructure:"rate_limit" json:"rate_limit"`   // Requests per second per client IP
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.murmur/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".murmur")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Agent defaults
	viper.SetDefault("max_steps", DefaultMaxSteps)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "murmur")
	viper.SetDefault("postgres_password", "murmur_dev_password")
	viper.SetDefault("postgres_db_name", "murmur")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Memory defaults
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("memory_top_k", 5)

	// SearXNG defaults
	viper.SetDefault("searxng.base_url", "http://localhost:8888")

	// Fetch defaults
	viper.SetDefault("fetch.timeout_ms", 30000)
	viper.SetDefault("fetch.max_body_bytes", 2<<20)

	// Server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("token_ttl_min", 60*24)
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_limit", 5.0)
	viper.SetDefault("rate_burst", 10)

	// Telemetry defaults
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.environment", "dev")
	viper.SetDefault("telemetry.service_name", "murmur")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Secrets come only from the environment:
//  1. GEMINI_API_KEY - Read directly by Genkit (not via Viper), validated in cfg.Validate()
//  2. MURMUR_AUTH_SECRET - HMAC secret for session token signing
//  3. DATABASE_URL - parsed in parseDatabaseURL (overrides postgres_* keys)
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Auth secret (session token signing)
	mustBind("auth_secret", "MURMUR_AUTH_SECRET")

	// Server overrides
	mustBind("listen_addr", "MURMUR_LISTEN_ADDR")
	mustBind("cors_origins", "MURMUR_CORS_ORIGINS")
	mustBind("trust_proxy", "MURMUR_TRUST_PROXY")

	// AI provider and model overrides
	mustBind("provider", "MURMUR_PROVIDER")
	mustBind("model_name", "MURMUR_MODEL_NAME")
	mustBind("max_steps", "MURMUR_MAX_STEPS")

	// Tool service overrides
	mustBind("searxng.base_url", "MURMUR_SEARXNG_URL")

	// Telemetry overrides
	mustBind("telemetry.endpoint", "MURMUR_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validation checks its presence in cfg.Validate().
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "my_long_secret_key_123" → "my<████████>23"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - AuthSecret
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
// The compiler will remind you when tests fail.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AuthSecret = maskSecret(a.AuthSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
