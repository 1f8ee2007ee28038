// Package insight is the orchestration layer of the analysis engine. It
// enforces per-user ownership on every operation, keeps analysis idempotent,
// and wires the analyzer, embedder, clusterer, pattern identifier, and
// consolidator together behind one service.
package insight

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/cluster"
	"github.com/quillhaven/insightd/internal/embedding"
	"github.com/quillhaven/insightd/internal/experience"
	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/logging"
	"github.com/quillhaven/insightd/internal/pattern"
	"github.com/quillhaven/insightd/internal/vectorstore"
	"github.com/quillhaven/insightd/internal/wisdom"
)

// Service orchestrates all engine operations for authenticated users.
type Service struct {
	store        journal.Store
	analyzer     *experience.Analyzer
	embedder     embedding.Provider
	index        *vectorstore.Index
	identifier   *pattern.Identifier
	consolidator *wisdom.Consolidator
	logger       *logging.Logger
	metrics      *Metrics

	clusterThreshold float64
}

// Config holds the collaborators and tunables for the service.
type Config struct {
	Store        journal.Store
	Analyzer     *experience.Analyzer
	Embedder     embedding.Provider
	Index        *vectorstore.Index
	Identifier   *pattern.Identifier
	Consolidator *wisdom.Consolidator
	Logger       *logging.Logger

	// ClusterThreshold is the default similarity cutoff for pattern
	// discovery when the caller passes none.
	ClusterThreshold float64
}

// NewService creates the orchestration service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Analyzer == nil || cfg.Embedder == nil ||
		cfg.Index == nil || cfg.Identifier == nil || cfg.Consolidator == nil {
		return nil, errors.New("insight: all collaborators are required")
	}
	if cfg.ClusterThreshold == 0 {
		cfg.ClusterThreshold = cluster.DefaultThreshold
	}
	if cfg.Logger == nil {
		return nil, errors.New("insight: logger is required")
	}
	return &Service{
		store:            cfg.Store,
		analyzer:         cfg.Analyzer,
		embedder:         cfg.Embedder,
		index:            cfg.Index,
		identifier:       cfg.Identifier,
		consolidator:     cfg.Consolidator,
		logger:           cfg.Logger,
		metrics:          NewMetrics(cfg.Logger.Zap()),
		clusterThreshold: cfg.ClusterThreshold,
	}, nil
}

// AnalyzeEntry analyzes one entry, or returns the stored analysis when the
// entry was already analyzed. The second return reports whether a new
// analysis was produced.
func (s *Service) AnalyzeEntry(ctx context.Context, userID, entryID string) (*journal.ExperienceAnalysis, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("%w: missing user identity", ErrValidation)
	}

	entry, err := s.store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return nil, false, classify(err)
	}

	if existing, err := s.store.GetAnalysis(ctx, userID, entryID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, journal.ErrAnalysisNotFound) {
		return nil, false, classify(err)
	}

	analysis, err := s.analyzer.Analyze(ctx, entry)
	if err != nil {
		return nil, false, classify(err)
	}

	if err := s.store.CreateAnalysis(ctx, analysis); err != nil {
		// two concurrent analyze calls: the storage uniqueness constraint
		// is the backstop, so fetch whichever row won
		if errors.Is(err, journal.ErrAnalysisExists) {
			existing, getErr := s.store.GetAnalysis(ctx, userID, entryID)
			if getErr != nil {
				return nil, false, classify(getErr)
			}
			return existing, false, nil
		}
		return nil, false, classify(err)
	}

	s.metrics.RecordAnalysis(ctx, analysis.Degraded)
	if analysis.Degraded {
		s.logger.Info(ctx, "stored degraded analysis",
			zap.String("entry_id", entryID))
	}
	return analysis, true, nil
}

// BatchError is one entry's failure inside a batch run.
type BatchError struct {
	EntryID string `json:"entry_id"`
	Message string `json:"message"`
}

// BatchResult summarizes an analyze-all run.
type BatchResult struct {
	Total    int          `json:"total"`
	Analyzed int          `json:"analyzed"`
	Skipped  int          `json:"skipped"`
	Errors   []BatchError `json:"errors"`
}

// AnalyzeAll analyzes every unanalyzed entry of the user sequentially.
// Individual failures are collected and do not abort the rest; a cancelled
// context stops the batch and returns the partial result with the context
// error.
func (s *Service) AnalyzeAll(ctx context.Context, userID string) (*BatchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrValidation)
	}

	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	result := &BatchResult{Total: len(entries), Errors: []BatchError{}}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		_, created, err := s.AnalyzeEntry(ctx, userID, entry.ID)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, BatchError{
				EntryID: entry.ID,
				Message: err.Error(),
			})
		case created:
			result.Analyzed++
		default:
			result.Skipped++
		}
	}

	s.logger.Info(ctx, "batch analysis finished",
		zap.Int("total", result.Total),
		zap.Int("analyzed", result.Analyzed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// GetAnalysis returns the stored analysis for one entry.
func (s *Service) GetAnalysis(ctx context.Context, userID, entryID string) (*journal.ExperienceAnalysis, error) {
	analysis, err := s.store.GetAnalysis(ctx, userID, entryID)
	if err != nil {
		return nil, classify(err)
	}
	return analysis, nil
}

// ListAnalyses returns all of the user's analyses, oldest first.
func (s *Service) ListAnalyses(ctx context.Context, userID string) ([]*journal.ExperienceAnalysis, error) {
	analyses, err := s.store.ListAnalyses(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return analyses, nil
}

// GetEntry returns one of the user's entries.
func (s *Service) GetEntry(ctx context.Context, userID, entryID string) (*journal.Entry, error) {
	entry, err := s.store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return nil, classify(err)
	}
	return entry, nil
}

// ListEntries returns all of the user's entries, newest first.
func (s *Service) ListEntries(ctx context.Context, userID string) ([]*journal.Entry, error) {
	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// SimilarEntry is one similarity ranking result.
type SimilarEntry struct {
	EntryID string  `json:"entry_id"`
	Score   float32 `json:"score"`
}

// FindSimilar ranks the user's other indexed entries by similarity to the
// given one. The entry itself is excluded from its own results.
func (s *Service) FindSimilar(ctx context.Context, userID, entryID string, limit int) ([]SimilarEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrValidation)
	}

	entry, err := s.store.GetEntry(ctx, userID, entryID)
	if err != nil {
		return nil, classify(err)
	}

	vector, err := s.entryVector(ctx, userID, entry)
	if err != nil {
		return nil, classify(err)
	}

	matches, err := s.index.Query(ctx, userID, vector, limit+1)
	if err != nil {
		return nil, classify(err)
	}

	similar := make([]SimilarEntry, 0, limit)
	for _, m := range matches {
		if m.EntryID == entryID {
			continue
		}
		similar = append(similar, SimilarEntry{EntryID: m.EntryID, Score: m.Score})
		if len(similar) == limit {
			break
		}
	}
	return similar, nil
}

// entryVector returns the stored embedding for the entry when it matches the
// current dimension, or computes one on the fly.
func (s *Service) entryVector(ctx context.Context, userID string, entry *journal.Entry) ([]float32, error) {
	if analysis, err := s.store.GetAnalysis(ctx, userID, entry.ID); err == nil {
		if len(analysis.Embedding) == s.embedder.Dimension() {
			return analysis.Embedding, nil
		}
	}
	return s.embedder.EmbedQuery(ctx, entry.Text())
}

// EmbedResult summarizes an embedding back-fill run.
type EmbedResult struct {
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// GenerateEmbeddings back-fills embeddings for every analyzed entry that has
// none, and indexes them for similarity search. Entries whose stored vector
// no longer matches the provider's dimension are re-embedded, which covers
// embedding model changes.
func (s *Service) GenerateEmbeddings(ctx context.Context, userID string) (*EmbedResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrValidation)
	}

	analyses, err := s.store.ListAnalyses(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	result := &EmbedResult{Total: len(analyses)}
	dim := s.embedder.Dimension()

	// A stored vector of another size means the embedding dimension changed
	// since the last run. The index still holds documents at the old size,
	// and querying a mixed collection fails, so drop it before re-adding.
	wasReset := false
	for _, analysis := range analyses {
		if n := len(analysis.Embedding); n > 0 && n != dim {
			s.logger.Info(ctx, "embedding dimension changed, resetting vector index",
				zap.Int("stored", n),
				zap.Int("current", dim))
			if err := s.index.Reset(ctx); err != nil {
				return nil, classify(err)
			}
			wasReset = true
			break
		}
	}

	for _, analysis := range analyses {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if len(analysis.Embedding) == dim {
			if wasReset {
				// The stored vector is still valid but the reset dropped
				// its index document, so put it back without re-embedding.
				entry, err := s.store.GetEntry(ctx, userID, analysis.EntryID)
				if err != nil {
					return result, classify(err)
				}
				if err := s.index.Add(ctx, userID, entry.ID, entry.Text(), analysis.Embedding); err != nil {
					return result, classify(err)
				}
			}
			result.Skipped++
			continue
		}

		entry, err := s.store.GetEntry(ctx, userID, analysis.EntryID)
		if err != nil {
			return result, classify(err)
		}
		vector, err := s.embedder.EmbedQuery(ctx, entry.Text())
		if err != nil {
			return result, classify(err)
		}
		if err := s.store.UpdateEmbedding(ctx, userID, analysis.EntryID, vector); err != nil {
			return result, classify(err)
		}
		if err := s.index.Add(ctx, userID, entry.ID, entry.Text(), vector); err != nil {
			return result, classify(err)
		}
		result.Embedded++
	}

	s.logger.Info(ctx, "embedding back-fill finished",
		zap.Int("total", result.Total),
		zap.Int("embedded", result.Embedded),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// DiscoverPatterns clusters the user's embedded entries at the given
// threshold (0 means the configured default) and names every cluster with
// at least two members. Cluster labels are back-filled onto the stored
// analyses; the patterns themselves are returned without being persisted.
func (s *Service) DiscoverPatterns(ctx context.Context, userID string, threshold float64) ([]*pattern.LifePattern, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrValidation)
	}
	if threshold == 0 {
		threshold = s.clusterThreshold
	}
	if threshold < -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v out of [-1, 1]", ErrValidation, threshold)
	}

	analyses, err := s.store.ListAnalyses(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	var items []cluster.Item
	entries := make(map[string]*journal.Entry)
	dim := s.embedder.Dimension()
	for _, analysis := range analyses {
		vector := analysis.Embedding
		if len(vector) != dim {
			entry, err := s.store.GetEntry(ctx, userID, analysis.EntryID)
			if err != nil {
				return nil, classify(err)
			}
			vector, err = s.embedder.EmbedQuery(ctx, entry.Text())
			if err != nil {
				return nil, classify(err)
			}
			entries[analysis.EntryID] = entry
		}
		items = append(items, cluster.Item{
			ID:        analysis.EntryID,
			Vector:    vector,
			Theme:     string(analysis.PrimaryTheme),
			Archetype: analysis.Archetype,
		})
	}

	clusters, err := cluster.Partition(items, threshold)
	if err != nil {
		return nil, classify(err)
	}

	for _, c := range clusters {
		for _, id := range c.EntryIDs() {
			if err := s.store.UpdateClusterID(ctx, userID, id, c.ID); err != nil {
				s.logger.Warn(ctx, "failed to back-fill cluster label",
					zap.String("entry_id", id), zap.Error(err))
			}
			if _, ok := entries[id]; !ok {
				entry, err := s.store.GetEntry(ctx, userID, id)
				if err != nil {
					return nil, classify(err)
				}
				entries[id] = entry
			}
		}
	}

	patterns, err := s.identifier.Identify(ctx, clusters, entries)
	if err != nil {
		return nil, classify(err)
	}

	s.metrics.RecordDiscovery(ctx, len(clusters), len(patterns))
	return patterns, nil
}

// CombineExperiences consolidates the selected entries into a persisted
// combined experience. With an empty name the service asks the model for a
// title, falling back to a generic one.
func (s *Service) CombineExperiences(ctx context.Context, userID string, entryIDs []string, name string) (*journal.CombinedExperience, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrValidation)
	}
	// Duplicate selections would consolidate the same entry twice and
	// persist a duplicated member list.
	seen := make(map[string]bool, len(entryIDs))
	ids := make([]string, 0, len(entryIDs))
	for _, id := range entryIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: %v", ErrValidation, wisdom.ErrTooFewEntries)
	}

	entries := make([]*journal.Entry, 0, len(ids))
	analyses := make(map[string]*journal.ExperienceAnalysis)
	for _, id := range ids {
		entry, err := s.store.GetEntry(ctx, userID, id)
		if err != nil {
			return nil, classify(err)
		}
		entries = append(entries, entry)
		if analysis, err := s.store.GetAnalysis(ctx, userID, id); err == nil {
			analyses[id] = analysis
		}
	}

	consolidation, err := s.consolidator.Consolidate(ctx, entries, analyses)
	if err != nil {
		return nil, classify(err)
	}

	if name == "" {
		name = s.consolidator.SuggestName(ctx, consolidation.Wisdom, consolidation.Archetypes)
	}

	combined := journal.NewCombinedExperience(userID, name)
	combined.ConsolidatedWisdom = consolidation.Wisdom
	combined.PrimaryTheme = consolidation.PrimaryTheme
	combined.Archetypes = consolidation.Archetypes
	combined.Insights = consolidation.Insights
	combined.EntryIDs = ids

	if err := s.store.CreateCombined(ctx, combined); err != nil {
		return nil, classify(err)
	}

	s.metrics.RecordConsolidation(ctx, len(ids))
	return combined, nil
}

// GetCombined returns one combined experience.
func (s *Service) GetCombined(ctx context.Context, userID, id string) (*journal.CombinedExperience, error) {
	combined, err := s.store.GetCombined(ctx, userID, id)
	if err != nil {
		return nil, classify(err)
	}
	return combined, nil
}

// ListCombined returns the user's combined experiences, newest first.
func (s *Service) ListCombined(ctx context.Context, userID string) ([]*journal.CombinedExperience, error) {
	combined, err := s.store.ListCombined(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return combined, nil
}

// RenameCombined updates a combined experience's name.
func (s *Service) RenameCombined(ctx context.Context, userID, id, name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	return classify(s.store.RenameCombined(ctx, userID, id, name))
}

// DeleteCombined removes a combined experience. Member entries survive.
func (s *Service) DeleteCombined(ctx context.Context, userID, id string) error {
	return classify(s.store.DeleteCombined(ctx, userID, id))
}

// Stats are per-user aggregates over stored analyses. Read-only.
type Stats struct {
	TotalEntries       int            `json:"total_entries"`
	AnalyzedEntries    int            `json:"analyzed_entries"`
	PercentageAnalyzed float64        `json:"percentage_analyzed"`
	ThemeDistribution  map[string]int `json:"theme_distribution"`
	MeanImpact         float64        `json:"mean_impact"`
	MeanChallenge      float64        `json:"mean_challenge"`
	MeanWorldviewShift float64        `json:"mean_worldview_change"`
}

// GetStats computes aggregate statistics for the user.
func (s *Service) GetStats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrValidation)
	}

	total, err := s.store.CountEntries(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	analyses, err := s.store.ListAnalyses(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	stats := &Stats{
		TotalEntries:      total,
		AnalyzedEntries:   len(analyses),
		ThemeDistribution: make(map[string]int),
	}
	if total > 0 {
		stats.PercentageAnalyzed = float64(len(analyses)) / float64(total) * 100
	}

	var impact, challenge, worldview int
	for _, a := range analyses {
		stats.ThemeDistribution[string(a.PrimaryTheme)]++
		impact += a.Impact
		challenge += a.Challenge
		worldview += a.WorldviewChange
	}
	if n := len(analyses); n > 0 {
		stats.MeanImpact = float64(impact) / float64(n)
		stats.MeanChallenge = float64(challenge) / float64(n)
		stats.MeanWorldviewShift = float64(worldview) / float64(n)
	}
	return stats, nil
}
