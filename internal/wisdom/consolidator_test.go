package wisdom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/logging"
)

type fakeClient struct {
	response string
	err      error
	lastReq  llm.Request
}

func (f *fakeClient) Invoke(_ context.Context, req llm.Request) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

const goodConsolidation = `{
	"consolidated_wisdom": "You keep returning to the question of what security costs you. Each departure reads less like escape and more like an experiment. What counts as home is still unsettled. That unsettledness may be the point.",
	"primary_theme": "Freedom",
	"archetypes": ["Threshold Crossing", "Letting Go"],
	"insights": ["Leaving gets easier with practice", "Security and belonging are separate needs", "The question is still open"]
}`

func twoEntries() []*journal.Entry {
	return []*journal.Entry{
		{ID: "e1", UserID: "u", Question: "Q1", Response: "I left the city I grew up in."},
		{ID: "e2", UserID: "u", Question: "Q2", Response: "I quit the stable job."},
	}
}

func TestConsolidateSuccess(t *testing.T) {
	client := &fakeClient{response: goodConsolidation}
	consolidator := NewConsolidator(client, logging.NewTestLogger().Logger)

	analyses := map[string]*journal.ExperienceAnalysis{
		"e1": {PrimaryTheme: journal.ThemeFreedom, Archetype: "Threshold Crossing", Impact: 8, WorldviewChange: 6},
	}

	result, err := consolidator.Consolidate(context.Background(), twoEntries(), analyses)
	require.NoError(t, err)

	assert.Equal(t, journal.ThemeFreedom, result.PrimaryTheme)
	assert.Len(t, result.Archetypes, 2)
	assert.GreaterOrEqual(t, len(result.Insights), 3)
	assert.Contains(t, result.Wisdom, "unsettled")

	assert.Contains(t, client.lastReq.Messages[0].Content, "I left the city")
	assert.Contains(t, client.lastReq.Messages[0].Content, "Threshold Crossing")
	assert.Contains(t, client.lastReq.System, "exploratory")
	require.NotNil(t, client.lastReq.Schema)
}

func TestConsolidateRejectsTooFewEntries(t *testing.T) {
	consolidator := NewConsolidator(&fakeClient{response: goodConsolidation}, logging.NewTestLogger().Logger)

	_, err := consolidator.Consolidate(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrTooFewEntries)

	_, err = consolidator.Consolidate(context.Background(), twoEntries()[:1], nil)
	assert.ErrorIs(t, err, ErrTooFewEntries)
}

func TestConsolidateSurfacesModelFailure(t *testing.T) {
	consolidator := NewConsolidator(&fakeClient{err: llm.ErrUnavailable}, logging.NewTestLogger().Logger)

	_, err := consolidator.Consolidate(context.Background(), twoEntries(), nil)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestConsolidateSurfacesSchemaViolation(t *testing.T) {
	// only one archetype, below the schema minimum
	bad := `{
		"consolidated_wisdom": "w",
		"primary_theme": "Love",
		"archetypes": ["Only One"],
		"insights": ["a", "b", "c"]
	}`
	consolidator := NewConsolidator(&fakeClient{response: bad}, logging.NewTestLogger().Logger)

	_, err := consolidator.Consolidate(context.Background(), twoEntries(), nil)
	assert.ErrorIs(t, err, llm.ErrSchema)
}

func TestConsolidateSurfacesMalformedResponse(t *testing.T) {
	consolidator := NewConsolidator(&fakeClient{response: "not json"}, logging.NewTestLogger().Logger)

	_, err := consolidator.Consolidate(context.Background(), twoEntries(), nil)
	assert.ErrorIs(t, err, llm.ErrMalformed)
}

func TestSuggestName(t *testing.T) {
	client := &fakeClient{response: "  \"Seasons of Leaving\"  "}
	consolidator := NewConsolidator(client, logging.NewTestLogger().Logger)

	name := consolidator.SuggestName(context.Background(), "wisdom text", []string{"Letting Go"})
	assert.Equal(t, "Seasons of Leaving", name)
	assert.Nil(t, client.lastReq.Schema)
}

func TestSuggestNameFallsBack(t *testing.T) {
	consolidator := NewConsolidator(&fakeClient{err: llm.ErrTimeout}, logging.NewTestLogger().Logger)
	assert.Equal(t, "Combined Experience",
		consolidator.SuggestName(context.Background(), "wisdom", nil))

	consolidator = NewConsolidator(&fakeClient{response: "   "}, logging.NewTestLogger().Logger)
	assert.Equal(t, "Combined Experience",
		consolidator.SuggestName(context.Background(), "wisdom", nil))
}
