// Package config loads application configuration with multi-source priority.
//
// Sources, highest priority first:
//  1. Environment variables (CASELIGHT_* overrides, DATABASE_URL)
//  2. Config file (~/.caselight/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (the database password) are masked in MarshalJSON and
// String so the config can be logged safely.
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

// AI provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new secrets, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"` // "googleai" (default), "openai", "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Retrieval configuration
	ContextLimit int32 `mapstructure:"context_limit" json:"context_limit"`

	// HTTP server configuration
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".caselight")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGoogleAI)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "text-embedding-004")
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("context_limit", 3)

	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8080)

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "caselight")
	viper.SetDefault("postgres_password", "caselight_dev_password")
	viper.SetDefault("postgres_db_name", "caselight")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds runtime override variables explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit
// plugins, not via Viper; Validate only checks their presence.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "CASELIGHT_PROVIDER")
	mustBind("model_name", "CASELIGHT_MODEL_NAME")
	mustBind("embedder_model", "CASELIGHT_EMBEDDER_MODEL")
	mustBind("ollama_host", "CASELIGHT_OLLAMA_HOST")
	mustBind("context_limit", "CASELIGHT_CONTEXT_LIMIT")
	mustBind("host", "CASELIGHT_HOST")
	mustBind("port", "CASELIGHT_PORT")
	mustBind("log_level", "CASELIGHT_LOG_LEVEL")
	mustBind("log_json", "CASELIGHT_LOG_JSON")
}

// FullModelName returns the provider-qualified model name for Genkit.
// A ModelName already containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	return c.qualify(c.ModelName)
}

// FullEmbedderName returns the provider-qualified embedder name.
func (c *Config) FullEmbedderName() string {
	return c.qualify(c.EmbedderModel)
}

func (c *Config) qualify(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + name
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + name
	default:
		return ProviderGoogleAI + "/" + name
	}
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep two characters on each end for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
