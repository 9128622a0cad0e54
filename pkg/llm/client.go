// Package llm wraps the chat-completion provider behind a small interface so
// the planner can run against the real API or a deterministic stub.
package llm

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/errcode"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature *float64
}

// Response carries the completion text and token accounting.
type Response struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Client produces completions.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}

type openaiClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewClient creates a provider client from settings. The API key is read
// from the environment variable the settings name, never from config files.
func NewClient(cfg config.LLMSettings) (Client, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, errcode.Newf(errcode.ConfigurationError,
			"llm api key environment variable %s is not set", keyEnv)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &openaiClient{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errcode.Wrap(errcode.PlanTimeout, "completion timed out", err)
		}
		return nil, errcode.Wrap(errcode.UpstreamUnavail, "completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errcode.New(errcode.PlanningError, "provider returned no choices")
	}

	choice := resp.Choices[0]
	slog.Debug("Completion finished",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason)

	return &Response{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Model:            c.model,
	}, nil
}
