// Package llm is the model-invocation boundary: chat completion requests with
// optional JSON-schema-constrained output, retries with exponential backoff,
// and rate limiting. Callers treat each Invoke as succeed-once-or-fail.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillhaven/insightd/internal/config"
)

// Sentinel errors. Timeout and malformed-response failures are distinguishable
// so callers can apply different recovery policies.
var (
	// ErrUnavailable indicates the provider failed after the retry budget.
	ErrUnavailable = errors.New("model provider unavailable")

	// ErrTimeout indicates the request exceeded its deadline.
	ErrTimeout = errors.New("model request timed out")

	// ErrMalformed indicates the provider returned an undecodable response.
	ErrMalformed = errors.New("malformed model response")

	// ErrSchema indicates model output that violates the declared schema.
	ErrSchema = errors.New("model response violates schema")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid llm configuration")
)

// Default request parameters, matching the provider clients' conservative
// settings for structured extraction work.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 1024
	defaultTimeout          = 60 * time.Second
	defaultTemperature      = 0.3
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request describes one model invocation.
type Request struct {
	// System is the system prompt (optional).
	System string

	// Messages is the conversation, oldest first. At least one required.
	Messages []Message

	// Schema, when non-nil, constrains the response to a named JSON schema.
	// The returned content is then the schema-shaped JSON document.
	Schema *Schema

	// MaxTokens caps the response length. Zero uses the client default.
	MaxTokens int

	// Temperature controls sampling. Zero uses the client default (0.3).
	Temperature float64
}

// Client invokes a chat model.
type Client interface {
	// Invoke sends the request and returns the response text (or, with a
	// schema constraint, the JSON document). Errors wrap ErrTimeout,
	// ErrMalformed, or ErrUnavailable.
	Invoke(ctx context.Context, req Request) (string, error)
}

// NewClient creates a provider client from configuration.
func NewClient(cfg config.ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// invokeWithRetries runs do with exponential backoff on retryable errors.
// Non-retryable errors are returned as-is; an exhausted budget wraps
// ErrUnavailable.
func invokeWithRetries(ctx context.Context, maxRetries int, do func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
		}

		content, err := do(ctx)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: retry budget exhausted: %v", ErrUnavailable, lastErr)
}
