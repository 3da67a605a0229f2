package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/docchat/docchat/internal/log"
)

// langchainModel adapts a langchaingo model to the ChatModel interface.
type langchainModel struct {
	model       llms.Model
	temperature float64
	logger      log.Logger
}

// NewChatModel builds a ChatModel for the configured provider.
func NewChatModel(opts Options, logger log.Logger) (ChatModel, error) {
	model, err := chatClient(opts)
	if err != nil {
		return nil, err
	}

	return &langchainModel{
		model:       model,
		temperature: opts.Temperature,
		logger:      logger.With("component", "llm", "provider", opts.Provider, "model", opts.Model),
	}, nil
}

func chatClient(opts Options) (llms.Model, error) {
	switch opts.Provider {
	case ProviderOllama:
		model, err := ollama.New(
			ollama.WithServerURL(opts.OllamaHost),
			ollama.WithModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return model, nil

	case ProviderOpenAI:
		token := opts.APIKey
		if token == "" {
			token = "none"
		}
		clientOpts := []openai.Option{
			openai.WithToken(token),
			openai.WithModel(opts.Model),
		}
		if opts.OpenAIBaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(opts.OpenAIBaseURL))
		}
		model, err := openai.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

func (m *langchainModel) Generate(ctx context.Context, messages []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.MessageContent{
			Role:  chatMessageType(msg.Role),
			Parts: []llms.ContentPart{llms.TextPart(msg.Content)},
		})
	}

	response, err := m.model.GenerateContent(ctx, content, llms.WithTemperature(m.temperature))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("generate content: model returned no choices")
	}

	answer := strings.TrimSpace(response.Choices[0].Content)
	m.logger.Debug("generated completion", "messages", len(messages), "answer_chars", len(answer))
	return answer, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
