// Package gateway talks to an OpenAI-compatible chat completion gateway
// and exposes model responses as token streams.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arenalive/arena/internal/core"
)

// FreeTierSuffix marks a model id as routed through the gateway's free
// tier. When a free-tier request is rate limited the client retries
// once against the paid variant with the suffix stripped.
const FreeTierSuffix = ":free"

// DefaultBaseURL is the OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config holds gateway client settings.
type Config struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
}

// TokenStream is an in-flight model response. Fragments are delivered
// in order on the channel, which is closed when the response completes
// or fails; Err reports why the channel closed.
type TokenStream interface {
	Fragments() <-chan string
	Err() error
	Close()
}

// Streamer opens streaming chat completions.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []core.Message) (TokenStream, error)
}

// Client is the OpenRouter-backed Streamer.
type Client struct {
	api     *openai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a gateway client. An empty BaseURL falls back to
// OpenRouter.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = base

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		timeout: timeout,
		logger:  logger,
	}
}

// Stream opens a streaming completion for model. Free-tier models get
// one retry against the paid variant when the gateway answers 429; any
// other open failure is returned as-is.
func (c *Client) Stream(ctx context.Context, model string, messages []core.Message) (TokenStream, error) {
	attempts := []string{model}
	if strings.HasSuffix(model, FreeTierSuffix) {
		attempts = append(attempts, strings.TrimSuffix(model, FreeTierSuffix))
	}

	var lastErr error
	for i, attempt := range attempts {
		stream, err := c.open(ctx, attempt, messages)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		var apiErr *openai.APIError
		rateLimited := errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests
		if !rateLimited || i == len(attempts)-1 {
			break
		}
		c.logger.Warn("free tier rate limited, retrying on paid variant",
			"model", attempt, "fallback", attempts[i+1])
	}

	return nil, fmt.Errorf("failed to open stream for %s: %w", model, lastErr)
}

func (c *Client) open(ctx context.Context, model string, messages []core.Message) (TokenStream, error) {
	apiMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		apiMessages[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	streamCtx, cancel := context.WithTimeout(ctx, c.timeout)
	upstream, err := c.api.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: apiMessages,
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	ts := &tokenStream{
		fragments: make(chan string, 16),
		cancel:    cancel,
	}
	go ts.pump(upstream)
	return ts, nil
}

type tokenStream struct {
	fragments chan string
	cancel    context.CancelFunc
	err       error
}

func (ts *tokenStream) pump(upstream *openai.ChatCompletionStream) {
	defer close(ts.fragments)
	defer upstream.Close()

	for {
		resp, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			ts.err = err
			return
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				ts.fragments <- choice.Delta.Content
			}
		}
	}
}

func (ts *tokenStream) Fragments() <-chan string {
	return ts.fragments
}

// Err is only meaningful after the fragment channel has closed.
func (ts *tokenStream) Err() error {
	return ts.err
}

func (ts *tokenStream) Close() {
	ts.cancel()
	// Drain so the pump goroutine can exit.
	for range ts.fragments {
	}
}

// Collect drains a full response into a single string. Used where the
// caller wants the complete text rather than incremental fragments,
// such as voting ballots.
func Collect(ctx context.Context, streamer Streamer, model string, messages []core.Message) (string, error) {
	stream, err := streamer.Stream(ctx, model, messages)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for fragment := range stream.Fragments() {
		sb.WriteString(fragment)
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("stream aborted: %w", err)
	}
	return sb.String(), nil
}
