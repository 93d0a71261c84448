package knowledge

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

// LanguageModel 对话模型抽象
type LanguageModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatOptions OpenAI兼容对话模型配置
type ChatOptions struct {
	APIKey             string
	BaseURL            string
	Model              string
	Temperature        float32
	MaxTokens          int
	Timeout            time.Duration
	MaxRetries         int
	Backoff            time.Duration
	InsecureSkipVerify bool
}

// OpenAIChatModel 调用chat completions接口，失败时线性退避重试
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	retry       linearRetry
}

// NewOpenAIChatModel 创建对话模型客户端
func NewOpenAIChatModel(opts ChatOptions) (*OpenAIChatModel, error) {
	if strings.TrimSpace(opts.APIKey) == "" && opts.BaseURL == "" {
		return nil, apperrors.NewConfigError("llm api key or base url must be configured")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.GPT4oMini
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	httpClient := &http.Client{Timeout: timeout}
	if opts.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	cfg.HTTPClient = httpClient

	return &OpenAIChatModel{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		retry:       newLinearRetry(opts.MaxRetries, opts.Backoff),
	}, nil
}

func (m *OpenAIChatModel) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	var answer string
	err := m.retry.Do(ctx, "chat completion", func(ctx context.Context) error {
		resp, err := m.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errEmptyCompletion
		}
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Debug("Chat completion finished", zap.String("model", m.model), zap.Int("answer_len", len(answer)))
	return answer, nil
}
