// Package pattern turns entry clusters into named, human-readable life
// patterns. Each qualifying cluster gets one model call for a short
// narrative insight; clusters the model fails on are skipped, never fatal.
package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/cluster"
	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/logging"
)

// minClusterSize is the smallest cluster that counts as a pattern.
const minClusterSize = 2

// LifePattern is a recurring experience pattern discovered across entries.
// Computed on demand and returned to the caller; never persisted here.
type LifePattern struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Insight    string   `json:"insight"`
	Frequency  int      `json:"frequency"`
	Themes     []string `json:"themes,omitempty"`
	Archetypes []string `json:"archetypes,omitempty"`
	EntryIDs   []string `json:"entry_ids"`
}

const identifySystemPrompt = `You are a reflective writing companion reviewing a group of journal
entries that describe similar experiences. Name the shared pattern in two to
five words and describe it in two to three sentences. Speak about what the
entries have in common, not about any single entry. Do not give advice.`

// Identifier produces life patterns from clusters of analyzed entries.
type Identifier struct {
	client llm.Client
	logger *logging.Logger
	schema *llm.Schema
}

// NewIdentifier creates a pattern identifier.
func NewIdentifier(client llm.Client, logger *logging.Logger) *Identifier {
	return &Identifier{
		client: client,
		logger: logger,
		schema: patternSchema(),
	}
}

type patternPayload struct {
	Name    string `json:"name"`
	Insight string `json:"insight"`
}

// Identify names every cluster with at least two members. Entries supplies
// the member texts keyed by entry id. A model failure on one cluster skips
// that cluster and continues with the rest. Results are sorted by frequency
// descending; ties keep cluster input order.
func (p *Identifier) Identify(ctx context.Context, clusters []*cluster.Cluster, entries map[string]*journal.Entry) ([]*LifePattern, error) {
	var patterns []*LifePattern
	for _, c := range clusters {
		if c.Size() < minClusterSize {
			continue
		}

		content, err := p.client.Invoke(ctx, llm.Request{
			System: identifySystemPrompt,
			Messages: []llm.Message{
				{Role: "user", Content: buildClusterPrompt(c, entries)},
			},
			Schema: p.schema,
		})
		if err != nil {
			if ctx.Err() != nil {
				return patterns, ctx.Err()
			}
			p.logger.Warn(ctx, "skipping cluster after model failure",
				zap.String("cluster_id", c.ID), zap.Int("size", c.Size()), zap.Error(err))
			continue
		}

		payload, err := p.decode(content)
		if err != nil {
			p.logger.Warn(ctx, "skipping cluster after undecodable response",
				zap.String("cluster_id", c.ID), zap.Error(err))
			continue
		}

		patterns = append(patterns, &LifePattern{
			ID:         uuid.New().String(),
			Name:       payload.Name,
			Insight:    payload.Insight,
			Frequency:  c.Size(),
			Themes:     memberThemes(c),
			Archetypes: c.Archetypes(),
			EntryIDs:   c.EntryIDs(),
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Frequency > patterns[j].Frequency
	})
	return patterns, nil
}

func (p *Identifier) decode(content string) (*patternPayload, error) {
	if _, err := p.schema.Decode(content); err != nil {
		return nil, err
	}
	var payload patternPayload
	if err := json.Unmarshal([]byte(llm.StripFences(content)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}
	return &payload, nil
}

func buildClusterPrompt(c *cluster.Cluster, entries map[string]*journal.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "These %d journal entries were grouped by similarity:\n", c.Size())
	for i, id := range c.EntryIDs() {
		entry, ok := entries[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\nEntry %d:\n%s\n", i+1, entry.Text())
	}
	if themes := memberThemes(c); len(themes) > 0 {
		fmt.Fprintf(&b, "\nObserved themes: %s\n", strings.Join(themes, ", "))
	}
	if archetypes := c.Archetypes(); len(archetypes) > 0 {
		fmt.Fprintf(&b, "Observed archetypes: %s\n", strings.Join(archetypes, ", "))
	}
	return b.String()
}

// memberThemes returns the distinct member themes in first-seen order.
func memberThemes(c *cluster.Cluster) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.Members {
		if m.Theme == "" || seen[m.Theme] {
			continue
		}
		seen[m.Theme] = true
		out = append(out, m.Theme)
	}
	return out
}

func patternSchema() *llm.Schema {
	return &llm.Schema{
		Name: "record_life_pattern",
		Type: "object",
		Properties: map[string]*llm.Schema{
			"name": {
				Type:        "string",
				Description: "two to five word pattern name",
			},
			"insight": {
				Type:        "string",
				Description: "two to three sentence description of the shared pattern",
			},
		},
		Required: []string{"name", "insight"},
	}
}
