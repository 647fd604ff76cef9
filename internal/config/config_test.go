package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// setTestEnv prepares the environment for a Load() test: temp HOME,
// API key set, auth secret set, DATABASE_URL cleared.
func setTestEnv(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GEMINI_API_KEY", "test-api-key")
	t.Setenv("MURMUR_AUTH_SECRET", "0123456789abcdef0123456789abcdef")

	oldDBURL := os.Getenv("DATABASE_URL")
	os.Unsetenv("DATABASE_URL")
	t.Cleanup(func() {
		if oldDBURL != "" {
			_ = os.Setenv("DATABASE_URL", oldDBURL)
		}
	})
}

// TestLoadDefaults tests that default configuration values are loaded correctly
func TestLoadDefaults(t *testing.T) {
	setTestEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ModelName != "gemini-2.5-flash" {
		t.Errorf("expected default ModelName 'gemini-2.5-flash', got %q", cfg.ModelName)
	}

	if cfg.Temperature != 0.7 {
		t.Errorf("expected default Temperature 0.7, got %f", cfg.Temperature)
	}

	if cfg.MaxTokens != 2048 {
		t.Errorf("expected default MaxTokens 2048, got %d", cfg.MaxTokens)
	}

	if cfg.MaxSteps != DefaultMaxSteps {
		t.Errorf("expected default MaxSteps %d, got %d", DefaultMaxSteps, cfg.MaxSteps)
	}

	if cfg.MaxHistoryMessages != DefaultMaxHistoryMessages {
		t.Errorf("expected default MaxHistoryMessages %d, got %d", DefaultMaxHistoryMessages, cfg.MaxHistoryMessages)
	}

	if cfg.PostgresHost != "localhost" {
		t.Errorf("expected default PostgresHost 'localhost', got %q", cfg.PostgresHost)
	}

	if cfg.PostgresPort != 5432 {
		t.Errorf("expected default PostgresPort 5432, got %d", cfg.PostgresPort)
	}

	if cfg.PostgresUser != "murmur" {
		t.Errorf("expected default PostgresUser 'murmur', got %q", cfg.PostgresUser)
	}

	if cfg.EmbedderModel != DefaultGeminiEmbedderModel {
		t.Errorf("expected default EmbedderModel %q, got %q", DefaultGeminiEmbedderModel, cfg.EmbedderModel)
	}

	if cfg.MemoryTopK != 5 {
		t.Errorf("expected default MemoryTopK 5, got %d", cfg.MemoryTopK)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default ListenAddr ':8080', got %q", cfg.ListenAddr)
	}

	if cfg.RateLimit != 5.0 {
		t.Errorf("expected default RateLimit 5.0, got %v", cfg.RateLimit)
	}
}

// TestLoadConfigFile tests loading configuration from a file
func TestLoadConfigFile(t *testing.T) {
	setTestEnv(t)

	home := os.Getenv("HOME")
	configDir := filepath.Join(home, ".murmur")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configContent := `model_name: gemini-2.5-pro
temperature: 0.9
max_tokens: 4096
max_steps: 8
postgres_host: test-host
postgres_port: 5433
postgres_db_name: test_db
`
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ModelName != "gemini-2.5-pro" {
		t.Errorf("expected ModelName 'gemini-2.5-pro', got %q", cfg.ModelName)
	}
	if cfg.Temperature != 0.9 {
		t.Errorf("expected Temperature 0.9, got %f", cfg.Temperature)
	}
	if cfg.MaxSteps != 8 {
		t.Errorf("expected MaxSteps 8, got %d", cfg.MaxSteps)
	}
	if cfg.PostgresHost != "test-host" {
		t.Errorf("expected PostgresHost 'test-host', got %q", cfg.PostgresHost)
	}
	if cfg.PostgresPort != 5433 {
		t.Errorf("expected PostgresPort 5433, got %d", cfg.PostgresPort)
	}
	// Keys absent from the file keep their defaults
	if cfg.MaxHistoryMessages != DefaultMaxHistoryMessages {
		t.Errorf("expected default MaxHistoryMessages, got %d", cfg.MaxHistoryMessages)
	}
}

// TestLoadEnvOverride tests that environment variables beat the config file
func TestLoadEnvOverride(t *testing.T) {
	setTestEnv(t)

	home := os.Getenv("HOME")
	configDir := filepath.Join(home, ".murmur")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("model_name: from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("MURMUR_MODEL_NAME", "from-env")
	t.Setenv("MURMUR_MAX_STEPS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ModelName != "from-env" {
		t.Errorf("env should override file: got ModelName %q", cfg.ModelName)
	}
	if cfg.MaxSteps != 3 {
		t.Errorf("env should override default: got MaxSteps %d", cfg.MaxSteps)
	}
}

// TestLoadMissingAPIKey tests fail-fast when GEMINI_API_KEY is absent
func TestLoadMissingAPIKey(t *testing.T) {
	setTestEnv(t)
	os.Unsetenv("GEMINI_API_KEY")
	t.Cleanup(func() { _ = os.Setenv("GEMINI_API_KEY", "test-api-key") })

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without GEMINI_API_KEY")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", ""},
		{"short fully masked", "abc", maskedValue},
		{"eight chars fully masked", "12345678", maskedValue},
		{"long shows edges", "my_long_secret_key_123", "my<" + maskedValue + ">23"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSecret(tt.secret); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}

// TestMarshalJSONMasksSecrets verifies sensitive fields never appear in JSON output
func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := Config{
		PostgresPassword: "super_secret_password_value",
		AuthSecret:       "another_secret_signing_key_value",
		ModelName:        "gemini-2.5-flash",
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out := string(data)
	if strings.Contains(out, "super_secret_password_value") {
		t.Error("postgres password leaked in JSON output")
	}
	if strings.Contains(out, "another_secret_signing_key_value") {
		t.Error("auth secret leaked in JSON output")
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("expected masked placeholder in JSON output")
	}
}

// TestStringMasksSecrets verifies the Stringer never prints secrets
func TestStringMasksSecrets(t *testing.T) {
	cfg := Config{
		PostgresPassword: "pw_should_not_appear_anywhere",
		AuthSecret:       "secret_should_not_appear_anywhere",
	}

	out := cfg.String()
	if strings.Contains(out, "pw_should_not_appear_anywhere") {
		t.Error("password leaked in String()")
	}
	if strings.Contains(out, "secret_should_not_appear_anywhere") {
		t.Error("auth secret leaked in String()")
	}
}

func TestFullModelName(t *testing.T) {
	tests := []struct {
		name      string
		modelName string
		want      string
	}{
		{"bare name gets googleai prefix", "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{"qualified name passes through", "googleai/gemini-2.5-pro", "googleai/gemini-2.5-pro"},
		{"mock model passes through", "mock/test-model", "mock/test-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Provider: ProviderGemini, ModelName: tt.modelName}
			if got := cfg.FullModelName(); got != tt.want {
				t.Errorf("FullModelName() = %q, want %q", got, tt.want)
			}
		})
	}
}
