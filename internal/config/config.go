// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.canvaschat/config.yaml)
//  3. Default values
//
// Security: API keys are never logged; MarshalJSON masks them. The
// config directory is created with 0750 permissions.
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
	// ErrMissingAPIKey indicates the selected provider's API key is unset.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxTokens indicates the context token budget is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max context tokens")

	// ErrInvalidListenAddr indicates the HTTP listen address is empty.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`     // "googleai" (default) or "openai"
	ModelName string `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "gemini-2.5-flash", "gpt-4o")

	// API keys (also accepted from GEMINI_API_KEY / OPENAI_API_KEY)
	GoogleAPIKey string `mapstructure:"google_api_key" json:"google_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON

	// Context assembly
	MaxContextTokens int `mapstructure:"max_context_tokens" json:"max_context_tokens"`

	// Storage
	DBPath string `mapstructure:"db_path" json:"db_path"` // SQLite database file

	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".canvaschat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(configDir string) {
	viper.SetDefault("provider", ProviderGoogleAI)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("max_context_tokens", 8000)
	viper.SetDefault("db_path", filepath.Join(configDir, "canvaschat.db"))
	viper.SetDefault("listen_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("log_json", false)
	viper.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variables explicitly. API keys
// use the names the provider SDKs already document so a key exported
// for another tool keeps working here.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("google_api_key", "GEMINI_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("provider", "CANVASCHAT_PROVIDER")
	mustBind("model_name", "CANVASCHAT_MODEL_NAME")
	mustBind("db_path", "CANVASCHAT_DB_PATH")
	mustBind("listen_addr", "CANVASCHAT_LISTEN_ADDR")
	mustBind("cors_origins", "CANVASCHAT_CORS_ORIGINS")
	mustBind("log_level", "CANVASCHAT_LOG_LEVEL")
}

// Validate fails fast on configuration no command can run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGoogleAI, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidProvider, c.Provider, ProviderGoogleAI, ProviderOpenAI)
	}

	if c.ModelName == "" || strings.ContainsAny(c.ModelName, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidModelName, c.ModelName)
	}
	if c.MaxContextTokens < 100 {
		return fmt.Errorf("%w: %d (minimum 100)", ErrInvalidMaxTokens, c.MaxContextTokens)
	}
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	return nil
}

// ValidateServe checks requirements specific to serving: the selected
// provider's API key must be present before any model call is
// attempted, so a missing key surfaces at startup, not mid-stream.
func (c *Config) ValidateServe() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	default:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	}
	return nil
}

// FullModelName returns the provider-qualified model name Genkit
// expects, e.g. "googleai/gemini-2.5-flash".
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return c.Provider + "/" + c.ModelName
}

// maskedValue replaces secrets in serialized output.
const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}

// MarshalJSON masks API keys so a logged Config never leaks them.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	masked.GoogleAPIKey = maskSecret(c.GoogleAPIKey)
	masked.OpenAIAPIKey = maskSecret(c.OpenAIAPIKey)
	return json.Marshal(masked)
}

// String renders the config for logs, secrets masked.
func (c *Config) String() string {
	b, err := json.Marshal(*c)
	if err != nil {
		return fmt.Sprintf("Config{marshal error: %v}", err)
	}
	return string(b)
}
