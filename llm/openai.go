package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const deepseekBaseURL = "https://api.deepseek.com"

// OpenAIClient implements Client using the official openai-go SDK (chat completions).
// DeepSeek 提供 OpenAI 兼容接口，通过 base_url 走同一实现。
type OpenAIClient struct {
	model       string
	temperature float64
	opts        []option.RequestOption
}

// NewClient 根据 provider 构造客户端；mock 返回本地占位实现。
func NewClient(cfg Settings) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIClient(cfg)
	case "deepseek":
		if cfg.BaseURL == "" {
			cfg.BaseURL = deepseekBaseURL
		}
		return newOpenAIClient(cfg)
	case "mock":
		return MockClient{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}

func newOpenAIClient(cfg Settings) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key missing; provide llm.api_key or the provider env var")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		opts:        opts,
	}, nil
}

func (o *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	client := openai.NewClient(o.opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	user := req.Instruction
	if req.Context != "" {
		user = req.Context + "\n\n" + req.Instruction
	}
	msgs = append(msgs, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if o.temperature > 0 {
		params.Temperature = openai.Float(o.temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
