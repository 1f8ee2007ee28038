package journal

import "context"

// EntryStore reads journal entries. Entries are written by the journaling
// subsystem; Put exists for seeding and tests.
type EntryStore interface {
	PutEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, userID, entryID string) (*Entry, error)
	ListEntries(ctx context.Context, userID string) ([]*Entry, error)
	CountEntries(ctx context.Context, userID string) (int, error)
}

// AnalysisStore persists experience analyses. One analysis per entry;
// Create returns ErrAnalysisExists when a second write is attempted.
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, analysis *ExperienceAnalysis) error
	GetAnalysis(ctx context.Context, userID, entryID string) (*ExperienceAnalysis, error)
	ListAnalyses(ctx context.Context, userID string) ([]*ExperienceAnalysis, error)
	CountAnalyses(ctx context.Context, userID string) (int, error)

	// UpdateEmbedding back-fills the semantic vector for an analysis.
	UpdateEmbedding(ctx context.Context, userID, entryID string, embedding []float32) error

	// UpdateClusterID back-fills the cluster label for an analysis.
	UpdateClusterID(ctx context.Context, userID, entryID, clusterID string) error
}

// CombinedStore persists combined experiences.
type CombinedStore interface {
	CreateCombined(ctx context.Context, combined *CombinedExperience) error
	GetCombined(ctx context.Context, userID, id string) (*CombinedExperience, error)
	ListCombined(ctx context.Context, userID string) ([]*CombinedExperience, error)
	RenameCombined(ctx context.Context, userID, id, name string) error
	DeleteCombined(ctx context.Context, userID, id string) error
}

// Store is the full storage surface of the engine.
type Store interface {
	EntryStore
	AnalysisStore
	CombinedStore

	Close() error
}
