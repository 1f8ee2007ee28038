package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestHashProviderDeterministic(t *testing.T) {
	p, err := NewHashProvider(64)
	require.NoError(t, err)

	a, err := p.EmbedQuery(context.Background(), "moving to a new city changed everything")
	require.NoError(t, err)
	b, err := p.EmbedQuery(context.Background(), "moving to a new city changed everything")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, vectorNorm(a), 1e-6)
}

func TestHashProviderCaseAndPunctuationInsensitive(t *testing.T) {
	p, err := NewHashProvider(64)
	require.NoError(t, err)

	a, err := p.EmbedQuery(context.Background(), "Grief, and growth.")
	require.NoError(t, err)
	b, err := p.EmbedQuery(context.Background(), "grief and growth")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashProviderZeroVectorForNoTokens(t *testing.T) {
	p, err := NewHashProvider(16)
	require.NoError(t, err)

	vec, err := p.EmbedQuery(context.Background(), "!!! ???")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vec)
}

func TestHashProviderBatch(t *testing.T) {
	p, err := NewHashProvider(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDimension, p.Dimension())

	vecs, err := p.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], DefaultDimension)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProviderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		switch inputs := req.Inputs.(type) {
		case []interface{}:
			out := make([][]float32, len(inputs))
			for i := range inputs {
				out[i] = []float32{float32(i), 1}
			}
			json.NewEncoder(w).Encode(out)
		case string:
			json.NewEncoder(w).Encode([][]float32{{0.5, 0.5}})
		}
	}))
	defer server.Close()

	p, err := NewTEIProvider(ProviderConfig{Provider: "tei", BaseURL: server.URL, Dimension: 2})
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 1}, vecs[1])

	vec, err := p.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
	assert.Equal(t, 2, p.Dimension())
}

func TestTEIProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p, err := NewTEIProvider(ProviderConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "cloud"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
