package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/docchat/docchat/internal/log"
)

// langchainEmbedder adapts a langchaingo embedder to the Embedder interface.
type langchainEmbedder struct {
	embedder embeddings.Embedder
	logger   log.Logger
}

// NewEmbedder builds an Embedder for the configured provider.
func NewEmbedder(opts Options, logger log.Logger) (Embedder, error) {
	client, err := embedderClient(opts)
	if err != nil {
		return nil, err
	}

	// Newlines are stripped before embedding so formatting does not
	// perturb the vectors; stored chunks get the same treatment at
	// ingestion time.
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &langchainEmbedder{
		embedder: embedder,
		logger:   logger.With("component", "embedder", "provider", opts.Provider, "model", opts.EmbedModel),
	}, nil
}

func embedderClient(opts Options) (embeddings.EmbedderClient, error) {
	switch opts.Provider {
	case ProviderOllama:
		client, err := ollama.New(
			ollama.WithServerURL(opts.OllamaHost),
			ollama.WithModel(opts.EmbedModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil

	case ProviderOpenAI:
		token := opts.APIKey
		if token == "" {
			// Local OpenAI-compatible endpoints ignore the token but the
			// client requires one.
			token = "none"
		}
		clientOpts := []openai.Option{
			openai.WithToken(token),
			openai.WithEmbeddingModel(opts.EmbedModel),
		}
		if opts.OpenAIBaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(opts.OpenAIBaseURL))
		}
		client, err := openai.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

func (e *langchainEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors[0], nil
}

func (e *langchainEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed texts: got %d vectors for %d texts", len(vectors), len(texts))
	}

	e.logger.Debug("embedded batch", "count", len(texts))
	return vectors, nil
}
