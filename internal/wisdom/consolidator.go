// Package wisdom synthesizes consolidated insight across a user-selected
// set of journal entries. Unlike per-entry analysis there is no fallback
// here: fabricated wisdom would misrepresent the user's own words, so model
// failures surface to the caller.
package wisdom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/logging"
)

// ErrTooFewEntries indicates a consolidation request over fewer than two
// entries. Cross-entry synthesis is the whole point of the operation.
var ErrTooFewEntries = errors.New("consolidation requires at least two entries")

// fallbackName is used when the optional naming call fails.
const fallbackName = "Combined Experience"

// The framing here is deliberate: surface open questions and evolving
// understanding instead of steering toward closure or comfort.
const consolidateSystemPrompt = `You are helping someone make sense of several of their own journal
entries together. Write in an exploratory register: name tensions and open
questions, describe how their understanding seems to be evolving, and resist
tidy resolution or reassurance. Do not claim the experiences taught a lesson
unless the entries themselves say so. Write the wisdom paragraph in three to
four sentences, in second person.`

const nameSystemPrompt = `Suggest a short evocative title, three to six words, for a collection of
reflections. Reply with the title only, no quotes and no punctuation at the end.`

// Consolidation is the synthesized output over a set of entries.
type Consolidation struct {
	Wisdom       string
	PrimaryTheme journal.LifeTheme
	Archetypes   []string
	Insights     []string
}

// Consolidator synthesizes wisdom across entries.
type Consolidator struct {
	client llm.Client
	logger *logging.Logger
	schema *llm.Schema
}

// NewConsolidator creates a consolidator backed by the given model client.
func NewConsolidator(client llm.Client, logger *logging.Logger) *Consolidator {
	return &Consolidator{
		client: client,
		logger: logger,
		schema: consolidationSchema(),
	}
}

type consolidationPayload struct {
	Wisdom       string   `json:"consolidated_wisdom"`
	PrimaryTheme string   `json:"primary_theme"`
	Archetypes   []string `json:"archetypes"`
	Insights     []string `json:"insights"`
}

// Consolidate synthesizes across the given entries. Analyses, keyed by entry
// id, enrich the prompt with already-known profile metadata and may be
// sparse or nil. Model and schema failures are returned as-is.
func (c *Consolidator) Consolidate(ctx context.Context, entries []*journal.Entry, analyses map[string]*journal.ExperienceAnalysis) (*Consolidation, error) {
	if len(entries) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewEntries, len(entries))
	}

	content, err := c.client.Invoke(ctx, llm.Request{
		System: consolidateSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildConsolidationPrompt(entries, analyses)},
		},
		Schema: c.schema,
	})
	if err != nil {
		return nil, fmt.Errorf("consolidating %d entries: %w", len(entries), err)
	}

	if _, err := c.schema.Decode(content); err != nil {
		return nil, fmt.Errorf("consolidation response: %w", err)
	}
	var payload consolidationPayload
	if err := json.Unmarshal([]byte(llm.StripFences(content)), &payload); err != nil {
		return nil, fmt.Errorf("consolidation response: %w: %v", llm.ErrMalformed, err)
	}

	theme := journal.LifeTheme(payload.PrimaryTheme)
	if !theme.Valid() {
		return nil, fmt.Errorf("consolidation response: %w: theme %q", llm.ErrSchema, payload.PrimaryTheme)
	}

	return &Consolidation{
		Wisdom:       payload.Wisdom,
		PrimaryTheme: theme,
		Archetypes:   payload.Archetypes,
		Insights:     payload.Insights,
	}, nil
}

// SuggestName asks for a short title for the combined experience. Advisory
// only: any failure falls back to a generic name rather than propagating.
func (c *Consolidator) SuggestName(ctx context.Context, wisdom string, archetypes []string) string {
	prompt := fmt.Sprintf("The reflections share these archetypes: %s.\n\nConsolidated wisdom:\n%s",
		strings.Join(archetypes, ", "), wisdom)

	content, err := c.client.Invoke(ctx, llm.Request{
		System:    nameSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 32,
	})
	if err != nil {
		c.logger.Debug(ctx, "name suggestion failed, using generic name", zap.Error(err))
		return fallbackName
	}

	name := strings.TrimSpace(strings.Trim(strings.TrimSpace(content), `"`))
	if name == "" {
		return fallbackName
	}
	return name
}

func buildConsolidationPrompt(entries []*journal.Entry, analyses map[string]*journal.ExperienceAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The writer selected these %d entries to consolidate:\n", len(entries))
	for i, entry := range entries {
		fmt.Fprintf(&b, "\nEntry %d:\n%s\n", i+1, entry.Text())
		if a, ok := analyses[entry.ID]; ok && a != nil {
			fmt.Fprintf(&b, "Known profile: theme %s, archetype %q, impact %d/10, worldview change %d/10\n",
				a.PrimaryTheme, a.Archetype, a.Impact, a.WorldviewChange)
		}
	}
	return b.String()
}

func consolidationSchema() *llm.Schema {
	return &llm.Schema{
		Name: "record_consolidated_wisdom",
		Type: "object",
		Properties: map[string]*llm.Schema{
			"consolidated_wisdom": {
				Type:        "string",
				Description: "three to four sentence synthesis in an exploratory register",
			},
			"primary_theme": {
				Type: "string",
				Enum: journal.LifeThemeStrings(),
			},
			"archetypes": {
				Type:     "array",
				Items:    &llm.Schema{Type: "string"},
				MinItems: 2,
				MaxItems: 3,
			},
			"insights": {
				Type:     "array",
				Items:    &llm.Schema{Type: "string"},
				MinItems: 3,
				MaxItems: 5,
			},
		},
		Required: []string{"consolidated_wisdom", "primary_theme", "archetypes", "insights"},
	}
}
