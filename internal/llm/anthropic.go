package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/quillhaven/insightd/internal/config"
	"golang.org/x/time/rate"
)

// anthropicClient implements Client using Anthropic's Messages API.
// Schema-constrained requests use forced tool-use: the schema becomes a tool's
// input_schema and tool_choice pins the model to it, so the returned tool
// input is guaranteed to be JSON in the declared shape (modulo model bugs,
// which Schema.Decode still catches).
type anthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func newAnthropicClient(cfg config.ProviderConfig) (Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: anthropic API key required", ErrInvalidConfig)
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &anthropicClient{
		model:      model,
		apiKey:     cfg.APIKey.Value(),
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	ToolChoice  interface{}        `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends the request, waiting on the rate limiter and retrying
// transient failures with exponential backoff.
func (a *anthropicClient) Invoke(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: at least one message required", ErrInvalidConfig)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	apiReq := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      req.System,
		Temperature: defaultTemperature,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		apiReq.Temperature = req.Temperature
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	if req.Schema != nil {
		apiReq.Tools = []anthropicTool{{
			Name:        req.Schema.Name,
			Description: req.Schema.Description,
			InputSchema: req.Schema.JSONMap(),
		}}
		apiReq.ToolChoice = map[string]string{"type": "tool", "name": req.Schema.Name}
	}

	return invokeWithRetries(ctx, a.maxRetries, func(ctx context.Context) (string, error) {
		return a.doRequest(ctx, apiReq, req.Schema != nil)
	})
}

func (a *anthropicClient) doRequest(ctx context.Context, req anthropicRequest, wantTool bool) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrMalformed, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("%w: API error (%d): %s", ErrUnavailable, resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("%w: API error (%d): %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrMalformed)
	}

	if wantTool {
		for _, block := range apiResp.Content {
			if block.Type == "tool_use" && len(block.Input) > 0 {
				return string(block.Input), nil
			}
		}
		return "", fmt.Errorf("%w: no tool_use block in response", ErrMalformed)
	}
	return apiResp.Content[0].Text, nil
}

// classifyTransportError separates caller cancellation, timeouts, and other
// transport failures. Cancellation keeps the context error visible so the
// caller can tell its own abort apart from a provider timeout; the rest are
// retryable.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &retryableError{err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request canceled: %w", err)
	}
	return &retryableError{err: fmt.Errorf("request failed: %v", err)}
}

var _ Client = (*anthropicClient)(nil)
