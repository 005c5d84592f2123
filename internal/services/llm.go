package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/dungeon-ledger/internal/config"
	"github.com/jwebster45206/dungeon-ledger/pkg/chat"
)

// LLMService defines the interface for interacting with the narrator model.
// Calls are stateless; the caller owns the transcript.
type LLMService interface {
	// InitModel prepares the model on startup
	InitModel(ctx context.Context, modelName string) error

	// Chat generates a narrator reply for the given transcript
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)
}

// NewLLMService builds the provider selected by LLM_PROVIDER.
func NewLLMService(cfg *config.Config, logger *slog.Logger) (LLMService, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return NewAnthropicService(cfg.AnthropicAPIKey, cfg.ModelName, logger), nil
	case "openai":
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.ModelName, logger), nil
	case "ollama":
		return NewOllamaService(cfg.OllamaURL, cfg.ModelName, logger), nil
	case "mock":
		return NewMockLLM(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

// readErrorBody trims a provider error body for inclusion in an error.
func readErrorBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
