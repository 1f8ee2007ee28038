package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/embedding"
	"github.com/quillhaven/insightd/internal/experience"
	"github.com/quillhaven/insightd/internal/insight"
	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/logging"
	"github.com/quillhaven/insightd/internal/pattern"
	"github.com/quillhaven/insightd/internal/vectorstore"
	"github.com/quillhaven/insightd/internal/wisdom"
)

const testAnalysis = `{
	"valence": "positive",
	"impact": 7, "predictability": 4, "challenge": 6,
	"emotional_significance": 8, "worldview_change": 5,
	"primary_theme": "Love",
	"secondary_themes": [],
	"experience_archetype": "Turning Point",
	"keywords": ["change"],
	"emotional_tone": "hopeful",
	"summary": "A turning point."
}`

const testConsolidation = `{
	"consolidated_wisdom": "Still unresolved. Still worth asking. The shape keeps shifting. Keep looking.",
	"primary_theme": "Truth",
	"archetypes": ["Open Question", "Slow Change"],
	"insights": ["one", "two", "three"]
}`

type stubClient struct{}

func (stubClient) Invoke(_ context.Context, req llm.Request) (string, error) {
	if req.Schema == nil {
		return "A Name", nil
	}
	switch req.Schema.Name {
	case "record_experience_analysis":
		return testAnalysis, nil
	case "record_consolidated_wisdom":
		return testConsolidation, nil
	case "record_life_pattern":
		return `{"name": "A Pattern", "insight": "Recurring. Noticed."}`, nil
	}
	return "", llm.ErrUnavailable
}

func newTestServer(t *testing.T) (*Server, journal.Store) {
	t.Helper()
	logger := logging.NewTestLogger().Logger
	store := journal.NewMemoryStore()

	provider, err := embedding.NewHashProvider(32)
	require.NoError(t, err)
	index, err := vectorstore.NewIndex(vectorstore.Config{Dimension: 32}, provider, zap.NewNop())
	require.NoError(t, err)

	client := stubClient{}
	service, err := insight.NewService(insight.Config{
		Store:        store,
		Analyzer:     experience.NewAnalyzer(client, logger),
		Embedder:     provider,
		Index:        index,
		Identifier:   pattern.NewIdentifier(client, logger),
		Consolidator: wisdom.NewConsolidator(client, logger),
		Logger:       logger,
	})
	require.NoError(t, err)

	server, err := NewServer(service, logger, nil)
	require.NoError(t, err)
	return server, store
}

func doRequest(server *Server, method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, store journal.Store, userID, entryID, text string) {
	t.Helper()
	require.NoError(t, store.PutEntry(context.Background(), &journal.Entry{
		ID: entryID, UserID: userID, Question: "Q", Response: text,
	}))
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsExposed(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentityRequired(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/api/v1/analyses", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnalyzeEntryEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "Something changed.")

	rec := doRequest(server, http.MethodPost, "/api/v1/entries/e1/analyze", "user-a", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Created)

	// second call returns the stored analysis
	rec = doRequest(server, http.MethodPost, "/api/v1/entries/e1/analyze", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Created)
}

func TestErrorKindMapping(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-b", "theirs", "Not yours.")

	// not found
	rec := doRequest(server, http.MethodGet, "/api/v1/analyses/missing", "user-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// unauthorized
	rec = doRequest(server, http.MethodPost, "/api/v1/entries/theirs/analyze", "user-a", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// validation
	rec = doRequest(server, http.MethodGet, "/api/v1/entries/theirs/similar?limit=-1", "user-b", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchAnalyzeEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "First.")
	seed(t, store, "user-a", "e2", "Second.")

	rec := doRequest(server, http.MethodPost, "/api/v1/analyses/batch", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result insight.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Analyzed)
	assert.Empty(t, result.Errors)
}

func TestSimilarEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "losing my father")
	seed(t, store, "user-a", "e2", "losing my mother")
	doRequest(server, http.MethodPost, "/api/v1/analyses/batch", "user-a", "")
	doRequest(server, http.MethodPost, "/api/v1/embeddings/generate", "user-a", "")

	rec := doRequest(server, http.MethodGet, "/api/v1/entries/e1/similar?limit=3", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var similar []insight.SimilarEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &similar))
	require.Len(t, similar, 1)
	assert.Equal(t, "e2", similar[0].EntryID)

	rec = doRequest(server, http.MethodGet, "/api/v1/entries/e1/similar?limit=abc", "user-a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscoverPatternsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "the same storm again")
	seed(t, store, "user-a", "e2", "the same storm again")
	doRequest(server, http.MethodPost, "/api/v1/analyses/batch", "user-a", "")
	doRequest(server, http.MethodPost, "/api/v1/embeddings/generate", "user-a", "")

	rec := doRequest(server, http.MethodPost, "/api/v1/patterns/discover", "user-a", `{"threshold": 0.75}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var patterns []pattern.LifePattern
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patterns))
	require.Len(t, patterns, 1)
	assert.Equal(t, "A Pattern", patterns[0].Name)
	assert.Equal(t, 2, patterns[0].Frequency)

	rec = doRequest(server, http.MethodPost, "/api/v1/patterns/discover", "user-a", `{"threshold": 2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCombinedEndpoints(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "First.")
	seed(t, store, "user-a", "e2", "Second.")

	// too few entries fails request validation
	rec := doRequest(server, http.MethodPost, "/api/v1/combined", "user-a", `{"entry_ids": ["e1"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(server, http.MethodPost, "/api/v1/combined", "user-a", `{"entry_ids": ["e1", "e2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var combined journal.CombinedExperience
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &combined))
	assert.Equal(t, "A Name", combined.Name)
	assert.Equal(t, journal.ThemeTruth, combined.PrimaryTheme)

	rec = doRequest(server, http.MethodGet, "/api/v1/combined", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(server, http.MethodPatch, "/api/v1/combined/"+combined.ID, "user-a", `{"name": "Renamed"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(server, http.MethodPatch, "/api/v1/combined/"+combined.ID, "user-a", `{"name": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(server, http.MethodGet, "/api/v1/combined/"+combined.ID, "user-b", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(server, http.MethodDelete, "/api/v1/combined/"+combined.ID, "user-a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(server, http.MethodGet, "/api/v1/combined/"+combined.ID, "user-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "First.")
	seed(t, store, "user-a", "e2", "Second.")
	doRequest(server, http.MethodPost, "/api/v1/entries/e1/analyze", "user-a", "")

	rec := doRequest(server, http.MethodGet, "/api/v1/stats", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats insight.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.AnalyzedEntries)
	assert.InDelta(t, 50.0, stats.PercentageAnalyzed, 1e-9)
	assert.Equal(t, 1, stats.ThemeDistribution["Love"])
}

func TestListEntriesEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, "user-a", "e1", "Mine.")
	seed(t, store, "user-b", "e2", "Theirs.")

	rec := doRequest(server, http.MethodGet, "/api/v1/entries", "user-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
}
