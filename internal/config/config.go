// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docchat/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - LLM: provider selection, chat and grader models
//   - Embedding: embedder provider, model and vector dimension
//   - Retrieval: chunking parameters, top-K, similarity threshold
//   - Storage: PostgreSQL connection (see storage.go)
//   - Auth: JWT secret and token lifetime
//
// Sensitive values (passwords, secrets) are masked in MarshalJSON and never
// logged. Validation is fail-fast with sentinel errors for errors.Is checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingJWTSecret indicates the JWT signing secret is not set.
	ErrMissingJWTSecret = errors.New("missing JWT secret")

	// ErrInvalidJWTSecret indicates the JWT secret is too short.
	ErrInvalidJWTSecret = errors.New("invalid JWT secret")

	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedModel indicates the embedding model is invalid.
	ErrInvalidEmbedModel = errors.New("invalid embedding model")

	// ErrInvalidEmbedDimension indicates the embedding dimension does not
	// match the database schema.
	ErrInvalidEmbedDimension = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates chunk size/overlap are out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTokenTTL indicates the access token lifetime is invalid.
	ErrInvalidTokenTTL = errors.New("invalid token TTL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// LLM provider identifiers used in Config.Provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// EmbedDimension is the vector dimension of the document_chunks schema.
// The default embedding model (BGE-M3) outputs 1024-dimensional vectors;
// switching to a model with a different dimension requires a migration.
const EmbedDimension = 1024

// Retrieval and chunking defaults, matching the ingestion pipeline the
// documents were originally indexed with.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 2
	DefaultMaxRewrites  = 2
)

// MinJWTSecretLen is the minimum accepted JWT secret length. HS256 keys
// shorter than the hash output weaken the MAC.
const MinJWTSecretLen = 32

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new secrets, update MarshalJSON as well.
type Config struct {
	// LLM provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`       // "ollama" (default) or "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`   // chat model (e.g. "gpt-oss:120b-cloud")
	GraderModel string  `mapstructure:"grader_model" json:"grader_model"` // relevance grader model
	Temperature float64 `mapstructure:"temperature" json:"temperature"`

	// Provider endpoints
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" json:"openai_base_url"` // empty = api.openai.com

	// Embedding configuration
	EmbedProvider  string `mapstructure:"embed_provider" json:"embed_provider"`
	EmbedModel     string `mapstructure:"embed_model" json:"embed_model"`
	EmbedCacheSize int    `mapstructure:"embed_cache_size" json:"embed_cache_size"`

	// Chunking and retrieval configuration
	ChunkSize           int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	TopK                int     `mapstructure:"top_k" json:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"` // 0 = disabled
	MaxRewrites         int     `mapstructure:"max_rewrites" json:"max_rewrites"`

	// Auth configuration
	JWTSecret       string `mapstructure:"jwt_secret" json:"jwt_secret"` // SENSITIVE: masked in MarshalJSON
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes" json:"token_ttl_minutes"`

	// HTTP server configuration
	Addr      string  `mapstructure:"addr" json:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" json:"rate_limit"` // requests per second per client
	RateBurst int     `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docchat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("model_name", "gpt-oss:120b-cloud")
	v.SetDefault("grader_model", "llama3.1")
	v.SetDefault("temperature", 0.0)
	v.SetDefault("ollama_host", "http://localhost:11434")

	// Embedding defaults
	v.SetDefault("embed_provider", ProviderOllama)
	v.SetDefault("embed_model", "bge-m3")
	v.SetDefault("embed_cache_size", 512)

	// Chunking and retrieval defaults
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("similarity_threshold", 0.0)
	v.SetDefault("max_rewrites", DefaultMaxRewrites)

	// Auth defaults
	v.SetDefault("token_ttl_minutes", 30)

	// Server defaults
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 20)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docchat")
	v.SetDefault("postgres_password", "docchat_dev_password")
	v.SetDefault("postgres_db_name", "docchat")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("jwt_secret", "DOCCHAT_JWT_SECRET")
	mustBind("addr", "DOCCHAT_ADDR")
	mustBind("provider", "DOCCHAT_PROVIDER")
	mustBind("model_name", "DOCCHAT_MODEL")
	mustBind("grader_model", "DOCCHAT_GRADER_MODEL")
	mustBind("ollama_host", "OLLAMA_HOST")
	mustBind("openai_base_url", "OPENAI_BASE_URL")
	mustBind("embed_provider", "DOCCHAT_EMBED_PROVIDER")
	mustBind("embed_model", "DOCCHAT_EMBED_MODEL")

	// NOTE: OPENAI_API_KEY is read directly by the langchaingo OpenAI
	// client, not via viper. Validation checks its presence when the
	// openai provider is selected.
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
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
	a.JWTSecret = maskSecret(a.JWTSecret)
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
