// Package ai provides language-model and embedding clients behind small
// consumer interfaces. Concrete implementations talk to Ollama or any
// OpenAI-compatible endpoint through langchaingo; callers depend only on
// the interfaces so tests can substitute fakes.
package ai

import (
	"context"
	"errors"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Supported providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

var (
	// ErrUnknownProvider indicates a provider name outside the supported set.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmptyEmbedding indicates the embedding backend returned no vector.
	ErrEmptyEmbedding = errors.New("backend returned empty embedding")
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string
	Content string
}

// Embedder converts text into dense vectors.
type Embedder interface {
	// EmbedText embeds a single text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds a batch of texts, preserving order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatModel generates a completion for a chat exchange.
type ChatModel interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configures provider clients.
type Options struct {
	// Provider selects the backend: ProviderOllama or ProviderOpenAI.
	Provider string

	// Model is the chat model name.
	Model string

	// EmbedModel is the embedding model name.
	EmbedModel string

	// Temperature applies to chat generation.
	Temperature float64

	// OllamaHost is the Ollama server URL (ollama provider only).
	OllamaHost string

	// OpenAIBaseURL overrides the OpenAI API base URL, allowing any
	// OpenAI-compatible endpoint (openai provider only).
	OpenAIBaseURL string

	// APIKey authenticates against the OpenAI-compatible endpoint. Local
	// endpoints that skip auth still need a placeholder token.
	APIKey string
}
