// Package genai wraps the OpenAI-compatible generation endpoint.
//
// The base URL is configurable so the same client works against OpenAI or
// OpenRouter. Completion failures are returned to the caller; the dispatcher
// decides how a turn degrades.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the generation client.
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultRequestTimeout bounds a single generation call.
	DefaultRequestTimeout = 60 * time.Second
)

// FallbackReply is sent to the user when generation fails for a turn.
const FallbackReply = "Sorry, I could not process your question right now. Please try again in a minute, or leave your contact details and a specialist will reach out."

// Opts holds configuration options for the generation client.
type Opts struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// Option configures genai Opts.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint, e.g.
// OpenRouter.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *Opts) { o.EmbeddingModel = model }
}

// WithTimeout bounds individual requests.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client calls the chat completion and embedding endpoints.
type Client struct {
	client         openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
}

// NewClient creates a generation client based on provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI API key not set")
		return nil, fmt.Errorf("genai API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	slog.Debug("GenAI client created", "model", cfg.Model, "embeddingModel", cfg.EmbeddingModel, "baseURL_set", cfg.BaseURL != "")
	return &Client{
		client:         openai.NewClient(reqOpts...),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
	}, nil
}

// Complete runs one chat completion over the assembled messages.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		slog.Error("GenAI Complete failed", "error", err, "model", c.model, "messages", len(messages))
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI Complete returned no choices", "model", c.model)
		return "", fmt.Errorf("chat completion returned no choices")
	}
	out := resp.Choices[0].Message.Content
	slog.Debug("GenAI Complete succeeded", "model", c.model, "messages", len(messages), "elapsed", time.Since(start), "outputLength", len(out))
	return out, nil
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		slog.Error("GenAI Embed failed", "error", err, "model", c.embeddingModel)
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		slog.Error("GenAI Embed returned no data", "model", c.embeddingModel)
		return nil, fmt.Errorf("embedding returned no data")
	}
	slog.Debug("GenAI Embed succeeded", "model", c.embeddingModel, "dimensions", len(resp.Data[0].Embedding))
	return resp.Data[0].Embedding, nil
}
