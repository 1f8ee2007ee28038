// Package experience turns journal entries into structured psychological
// profiles. The analyzer asks a language model for a schema-constrained
// assessment and degrades to a fixed neutral profile when the model is
// unreachable or returns garbage, so analysis itself never fails.
package experience

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/logging"
)

const (
	// fallbackSummaryLen bounds the synopsis taken verbatim from the
	// response text when the model is unavailable.
	fallbackSummaryLen = 200

	fallbackArchetype = "Life Experience"
	fallbackTone      = "reflective"
)

const systemPrompt = `You are a thoughtful psychologist analyzing a personal journal entry.
Assess the experience described and produce a structured profile.
Score each dimension on a 1-10 integer scale:
- impact: how much the experience changed the person's life
- predictability: how foreseeable the experience was
- challenge: how difficult it was to live through
- emotional_significance: how emotionally charged it remains
- worldview_change: how much it shifted the person's beliefs
Choose the primary life theme from exactly: Love, Value, Power, Freedom, Truth, Justice.
Name the narrative archetype in two to four words (for example "Loss and Recovery").
Be specific to the text; do not moralize or give advice.`

// Analyzer produces experience analyses for journal entries.
type Analyzer struct {
	client llm.Client
	logger *logging.Logger
	schema *llm.Schema
}

// NewAnalyzer creates an analyzer backed by the given model client.
func NewAnalyzer(client llm.Client, logger *logging.Logger) *Analyzer {
	return &Analyzer{
		client: client,
		logger: logger,
		schema: analysisSchema(),
	}
}

// analysisPayload mirrors the schema the model is asked to fill.
type analysisPayload struct {
	Valence               string   `json:"valence"`
	Impact                int      `json:"impact"`
	Predictability        int      `json:"predictability"`
	Challenge             int      `json:"challenge"`
	EmotionalSignificance int      `json:"emotional_significance"`
	WorldviewChange       int      `json:"worldview_change"`
	PrimaryTheme          string   `json:"primary_theme"`
	SecondaryThemes       []string `json:"secondary_themes"`
	Archetype             string   `json:"experience_archetype"`
	Keywords              []string `json:"keywords"`
	EmotionalTone         string   `json:"emotional_tone"`
	Summary               string   `json:"summary"`
}

// Analyze profiles one entry. Model failures of any kind (transport, timeout,
// malformed output, schema violation) produce the neutral fallback profile
// with Degraded set; the returned error is non-nil only for invalid input.
func (a *Analyzer) Analyze(ctx context.Context, entry *journal.Entry) (*journal.ExperienceAnalysis, error) {
	if entry == nil {
		return nil, journal.ErrEntryNotFound
	}
	if entry.Response == "" {
		return nil, journal.ErrEmptyText
	}

	content, err := a.client.Invoke(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildEntryPrompt(entry)},
		},
		Schema: a.schema,
	})
	if err != nil {
		a.logger.Warn(ctx, "analysis degraded to fallback profile",
			zap.String("entry_id", entry.ID), zap.Error(err))
		return a.fallback(entry), nil
	}

	payload, err := a.decode(content)
	if err != nil {
		a.logger.Warn(ctx, "analysis response rejected, using fallback profile",
			zap.String("entry_id", entry.ID), zap.Error(err))
		return a.fallback(entry), nil
	}

	analysis := &journal.ExperienceAnalysis{
		EntryID:               entry.ID,
		UserID:                entry.UserID,
		Valence:               journal.Valence(payload.Valence),
		Impact:                payload.Impact,
		Predictability:        payload.Predictability,
		Challenge:             payload.Challenge,
		EmotionalSignificance: payload.EmotionalSignificance,
		WorldviewChange:       payload.WorldviewChange,
		PrimaryTheme:          journal.LifeTheme(payload.PrimaryTheme),
		SecondaryThemes:       payload.SecondaryThemes,
		Archetype:             payload.Archetype,
		Keywords:              payload.Keywords,
		EmotionalTone:         payload.EmotionalTone,
		Summary:               payload.Summary,
		CreatedAt:             time.Now(),
	}
	if err := analysis.Validate(); err != nil {
		a.logger.Warn(ctx, "analysis failed validation, using fallback profile",
			zap.String("entry_id", entry.ID), zap.Error(err))
		return a.fallback(entry), nil
	}
	return analysis, nil
}

func (a *Analyzer) decode(content string) (*analysisPayload, error) {
	if _, err := a.schema.Decode(content); err != nil {
		return nil, err
	}
	var payload analysisPayload
	if err := json.Unmarshal([]byte(llm.StripFences(content)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}
	return &payload, nil
}

// fallback is the deterministic neutral profile used when the model cannot
// be consulted. Values are fixed so repeated degraded runs stay stable.
func (a *Analyzer) fallback(entry *journal.Entry) *journal.ExperienceAnalysis {
	return &journal.ExperienceAnalysis{
		EntryID:               entry.ID,
		UserID:                entry.UserID,
		Valence:               journal.ValenceNeutral,
		Impact:                5,
		Predictability:        5,
		Challenge:             5,
		EmotionalSignificance: 5,
		WorldviewChange:       3,
		PrimaryTheme:          journal.ThemeTruth,
		Archetype:             fallbackArchetype,
		Keywords:              []string{"experience", "reflection"},
		EmotionalTone:         fallbackTone,
		Summary:               truncate(entry.Response, fallbackSummaryLen),
		Degraded:              true,
		CreatedAt:             time.Now(),
	}
}

func buildEntryPrompt(entry *journal.Entry) string {
	var b strings.Builder
	if entry.Question != "" {
		fmt.Fprintf(&b, "Reflection prompt: %s\n\n", entry.Question)
	}
	fmt.Fprintf(&b, "Journal entry:\n%s\n", entry.Response)

	context := map[string]string{
		"When":      entry.TimeContext,
		"Where":     entry.PlaceContext,
		"Kind":      entry.ExperienceType,
		"Challenge": entry.ChallengeType,
		"Growth":    entry.GrowthTheme,
	}
	var lines []string
	for _, label := range []string{"When", "Where", "Kind", "Challenge", "Growth"} {
		if v := context[label]; v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, v))
		}
	}
	if len(lines) > 0 {
		fmt.Fprintf(&b, "\nContext the writer supplied:\n%s\n", strings.Join(lines, "\n"))
	}
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func analysisSchema() *llm.Schema {
	dimension := func(desc string) *llm.Schema {
		return &llm.Schema{
			Type:        "integer",
			Description: desc,
			Minimum:     llm.Float(1),
			Maximum:     llm.Float(10),
		}
	}
	return &llm.Schema{
		Name: "record_experience_analysis",
		Type: "object",
		Properties: map[string]*llm.Schema{
			"valence": {
				Type: "string",
				Enum: []string{"positive", "negative", "neutral"},
			},
			"impact":                 dimension("life impact, 1-10"),
			"predictability":         dimension("foreseeability, 1-10"),
			"challenge":              dimension("difficulty, 1-10"),
			"emotional_significance": dimension("emotional charge, 1-10"),
			"worldview_change":       dimension("belief shift, 1-10"),
			"primary_theme": {
				Type: "string",
				Enum: journal.LifeThemeStrings(),
			},
			"secondary_themes": {
				Type:     "array",
				Items:    &llm.Schema{Type: "string"},
				MaxItems: 3,
			},
			"experience_archetype": {
				Type:        "string",
				Description: "short narrative pattern label",
			},
			"keywords": {
				Type:     "array",
				Items:    &llm.Schema{Type: "string"},
				MinItems: 1,
				MaxItems: 8,
			},
			"emotional_tone": {Type: "string"},
			"summary": {
				Type:        "string",
				Description: "one or two sentence synopsis",
			},
		},
		Required: []string{
			"valence", "impact", "predictability", "challenge",
			"emotional_significance", "worldview_change", "primary_theme",
			"secondary_themes", "experience_archetype", "keywords",
			"emotional_tone", "summary",
		},
	}
}
