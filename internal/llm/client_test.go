package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhaven/insightd/internal/config"
)

func anthropicTestClient(t *testing.T, url string) Client {
	t.Helper()
	c, err := NewClient(config.ProviderConfig{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  url,
		Timeout:  config.Duration(5 * time.Second),
	})
	require.NoError(t, err)
	return c
}

func openAITestClient(t *testing.T, url string) Client {
	t.Helper()
	c, err := NewClient(config.ProviderConfig{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  url,
		Timeout:  config.Duration(5 * time.Second),
	})
	require.NoError(t, err)
	return c
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(config.ProviderConfig{Provider: "cohere", APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewClientMissingKey(t *testing.T) {
	_, err := NewClient(config.ProviderConfig{Provider: "anthropic"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAnthropicInvokeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Tools)

		resp := map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "a quiet insight"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	content, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a quiet insight", content)
}

func TestAnthropicInvokeWithSchemaUsesForcedTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "analysis", req.Tools[0].Name)

		resp := map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "tool_use", "input": map[string]interface{}{"valence": "neutral", "impact": 5}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	content, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "analyze"}},
		Schema:   testSchema(),
	})
	require.NoError(t, err)

	data, err := testSchema().Decode(content)
	require.NoError(t, err)
	assert.Equal(t, "neutral", data["valence"])
}

func TestAnthropicSchemaResponseMissingToolBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "sure, here it is"},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	_, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "analyze"}},
		Schema:   testSchema(),
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAnthropicRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "ok"}},
		})
	}))
	defer srv.Close()

	content, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropicNonRetryableAPIError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"type": "invalid_request_error", "message": "bad prompt"},
		})
	}))
	defer srv.Close()

	_, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestAnthropicMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	_, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAnthropicTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewClient(config.ProviderConfig{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Timeout:  config.Duration(10 * time.Millisecond),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Invoke(ctx, Request{Messages: []Message{{Role: "user", Content: "hello"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable),
		"timeout should surface as ErrTimeout or exhausted-retries ErrUnavailable, got %v", err)
}

func TestAnthropicCanceledContextNotATimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only watches for client disconnect (which cancels
		// r.Context()) once the request body has been consumed.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := anthropicTestClient(t, srv.URL).Invoke(ctx, Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIInvokeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "done"}},
			},
		})
	}))
	defer srv.Close()

	content, err := openAITestClient(t, srv.URL).Invoke(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", content)
}

func TestOpenAIInvokeWithSchemaSetsResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		rf, ok := raw["response_format"].(map[string]interface{})
		require.True(t, ok, "response_format must be set")
		assert.Equal(t, "json_schema", rf["type"])

		js := rf["json_schema"].(map[string]interface{})
		assert.Equal(t, true, js["strict"])
		schema := js["schema"].(map[string]interface{})
		// Strict mode rejects schemas whose required list does not cover
		// every property, and rejects numeric/array bound keywords.
		assert.ElementsMatch(t, []interface{}{"valence", "impact", "keywords"}, schema["required"])
		props := schema["properties"].(map[string]interface{})
		assert.NotContains(t, props["impact"].(map[string]interface{}), "minimum")
		assert.NotContains(t, props["keywords"].(map[string]interface{}), "maxItems")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": `{"valence":"positive","impact":8}`}},
			},
		})
	}))
	defer srv.Close()

	content, err := openAITestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "analyze"}},
		Schema:   testSchema(),
	})
	require.NoError(t, err)

	data, err := testSchema().Decode(content)
	require.NoError(t, err)
	assert.Equal(t, "positive", data["valence"])
}

func TestOpenAIRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "", "refusal": "cannot comply"}},
			},
		})
	}))
	defer srv.Close()

	_, err := openAITestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	_, err := openAITestClient(t, srv.URL).Invoke(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestInvokeRequiresMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := anthropicTestClient(t, srv.URL).Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
