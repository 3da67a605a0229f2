package config

import (
	"fmt"
	"os"
	"slices"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// validProviders are the supported LLM/embedding providers.
var validProviders = []string{ProviderOllama, ProviderOpenAI}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and model validation
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q, must be one of: ollama, openai", ErrInvalidProvider, c.Provider)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.GraderModel == "" {
		return fmt.Errorf("%w: grader_model cannot be empty", ErrInvalidModelName)
	}
	if c.Provider == ProviderOpenAI && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for the openai provider",
			ErrInvalidProvider)
	}

	// 2. Embedding validation
	if !slices.Contains(validProviders, c.EmbedProvider) {
		return fmt.Errorf("%w: embed_provider %q, must be one of: ollama, openai", ErrInvalidProvider, c.EmbedProvider)
	}
	if c.EmbedModel == "" {
		return fmt.Errorf("%w: embed_model cannot be empty", ErrInvalidEmbedModel)
	}
	if c.EmbedCacheSize < 0 {
		return fmt.Errorf("%w: embed_cache_size must be >= 0, got %d", ErrInvalidEmbedModel, c.EmbedCacheSize)
	}

	// 3. Chunking validation: overlap must leave forward progress.
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be >= 1, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d (chunk_size=%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	// 4. Retrieval validation
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: must be between 0 and 1, got %.2f", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.MaxRewrites < 0 || c.MaxRewrites > 5 {
		return fmt.Errorf("%w: max_rewrites must be between 0 and 5, got %d", ErrInvalidTopK, c.MaxRewrites)
	}

	// 5. PostgreSQL validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q, must be one of: %v", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 6. Token TTL validation
	if c.TokenTTLMinutes < 1 || c.TokenTTLMinutes > 24*60 {
		return fmt.Errorf("%w: token_ttl_minutes must be between 1 and 1440, got %d",
			ErrInvalidTokenTTL, c.TokenTTLMinutes)
	}

	return nil
}

// ValidateServe validates the additional requirements of serve mode.
// The JWT secret is only needed when running the HTTP API.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("%w: set DOCCHAT_JWT_SECRET", ErrMissingJWTSecret)
	}
	if len(c.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("%w: must be at least %d characters, got %d",
			ErrInvalidJWTSecret, MinJWTSecretLen, len(c.JWTSecret))
	}

	return nil
}
