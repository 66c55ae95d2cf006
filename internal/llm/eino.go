package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

func init() {
	Register(BackendEino, func(cfg Config) (Backend, error) { return NewEinoBackend(context.Background(), cfg) })
}

// EinoBackend routes completions through an eino ChatModel.
type EinoBackend struct {
	chat model.BaseChatModel
}

// NewEinoBackend creates an eino OpenAI chat model from cfg.
func NewEinoBackend(ctx context.Context, cfg Config) (*EinoBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	chatModelConfig := &openai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Timeout:     timeout,
		Temperature: cfg.Temperature,
	}
	if cfg.BaseURL != "" {
		chatModelConfig.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &EinoBackend{chat: chatModel}, nil
}

// Name implements Backend.
func (b *EinoBackend) Name() string { return BackendEino }

// Complete implements Backend.
func (b *EinoBackend) Complete(ctx context.Context, req Request) (string, error) {
	msg, err := b.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(req.System),
		schema.UserMessage(req.Prompt),
	})
	if err != nil {
		return "", fmt.Errorf("llm: eino generate: %w", err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: empty message", ErrMalformedResponse)
	}
	return msg.Content, nil
}
