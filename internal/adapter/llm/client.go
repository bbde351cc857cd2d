package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const (
	chatTimeout       = 90 * time.Second
	chatRetries       = 2
	embedQueryTimeout = 60 * time.Second
	embedBatchTimeout = 120 * time.Second
)

// Client is a thin resilience layer over one OpenAI-compatible endpoint.
// Chat calls go through a circuit breaker shared per endpoint so a dead
// upstream trips fast instead of burning the 90 s timeout per message.
type Client struct {
	api     *openai.Client
	model   string
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
}

func NewClient(ep Endpoint, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		cfg.BaseURL = ep.BaseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  ep.Model,
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm:" + ep.Model,
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Chat sends one completion request with the standard timeout and bounded
// retry on transient failures.
func (c *Client) Chat(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= chatRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		out, err := c.breaker.Execute(func() (any, error) {
			reqCtx, cancel := context.WithTimeout(ctx, chatTimeout)
			defer cancel()
			resp, err := c.api.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
				Model:       c.model,
				Temperature: 0.1,
				Messages:    messages,
			})
			if err != nil {
				return nil, err
			}
			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("llm: empty completion")
			}
			return resp.Choices[0].Message.Content, nil
		})
		if err == nil {
			return out.(string), nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("llm call failed, retrying", "model", c.model, "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("llm: chat with %s: %w", c.model, lastErr)
}

// ChatPrompt is the single-user-message convenience used by prompt-template
// callers.
func (c *Client) ChatPrompt(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	})
}

// Embed computes embeddings for a batch of texts with the long indexing
// timeout.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, embedBatchTimeout)
}

// EmbedQuery embeds one probe or search string with the short timeout.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, embedQueryTimeout)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, timeout time.Duration) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.api.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embed with %s: %w", c.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("llm: embed returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// isTransient classifies retry-worthy failures: timeouts, connection drops
// and 429/5xx API responses.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "deadline exceeded")
}
