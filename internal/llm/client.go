// Package llm wraps the Anthropic API for the worker's generation calls.
// Every call goes through a circuit breaker so a flapping upstream trips
// fast instead of letting every worker pile up retries against it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	tkterrors "github.com/daglabs/ticketwright/internal/errors"
	"github.com/daglabs/ticketwright/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// GenerateParams describes one generation call against the model.
type GenerateParams struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int64
}

// GenerateResult is the parsed outcome of a generation call.
type GenerateResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// Client generates worker candidates via the Anthropic API.
type Client struct {
	anthropic *anthropic.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// New creates a new Client. apiKey is the raw Anthropic API key; callers
// read it from the environment variable named by config.LLMAPIKeyEnv.
func New(apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{anthropic: &client, breaker: breaker, logger: logger}
}

// Generate sends a single-turn generation request and returns the
// concatenated text of every text content block in the response.
func (c *Client) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	start := time.Now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(params.Model),
			MaxTokens: maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: params.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(params.Prompt)),
			},
		})
	})
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.GenerationCalls.WithLabelValues("network_error").Inc()
			return nil, tkterrors.NetworkError("llm circuit breaker open: %v", err)
		}
		metrics.GenerationCalls.WithLabelValues("api_error").Inc()
		return nil, tkterrors.APIError("generation request failed: %v", err)
	}

	msg, ok := raw.(*anthropic.Message)
	if !ok || msg == nil {
		metrics.GenerationCalls.WithLabelValues("api_error").Inc()
		return nil, tkterrors.APIError("unexpected response from generation client")
	}

	result := &GenerateResult{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		StopReason:   string(msg.StopReason),
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			result.Text += block.Text
		}
	}
	if result.Text == "" {
		metrics.GenerationCalls.WithLabelValues("api_error").Inc()
		return nil, tkterrors.APIError("generation response contained no text content")
	}

	metrics.GenerationCalls.WithLabelValues("ok").Inc()
	metrics.GenerationTokens.WithLabelValues("input").Add(float64(result.InputTokens))
	metrics.GenerationTokens.WithLabelValues("output").Add(float64(result.OutputTokens))

	return result, nil
}

// String implements fmt.Stringer for logging; never logs prompt content.
func (p GenerateParams) String() string {
	return fmt.Sprintf("model=%s max_tokens=%d", p.Model, p.MaxTokens)
}
