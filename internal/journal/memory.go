package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	analyses map[string]*ExperienceAnalysis
	combined map[string]*CombinedExperience
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*Entry),
		analyses: make(map[string]*ExperienceAnalysis),
		combined: make(map[string]*CombinedExperience),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) PutEntry(_ context.Context, entry *Entry) error {
	if entry.ID == "" {
		return ErrEmptyEntryID
	}
	if entry.UserID == "" {
		return ErrEmptyUserID
	}
	if entry.Response == "" {
		return ErrEmptyText
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.entries[entry.ID] = &clone
	return nil
}

func (s *MemoryStore) GetEntry(_ context.Context, userID, entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if entry.UserID != userID {
		return nil, ErrNotOwner
	}
	clone := *entry
	return &clone, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, userID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*Entry
	for _, entry := range s.entries {
		if entry.UserID != userID {
			continue
		}
		clone := *entry
		entries = append(entries, &clone)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *MemoryStore) CountEntries(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, entry := range s.entries {
		if entry.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateAnalysis(_ context.Context, a *ExperienceAnalysis) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[a.EntryID]; ok {
		return ErrAnalysisExists
	}
	clone := *a
	s.analyses[a.EntryID] = &clone
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, userID, entryID string) (*ExperienceAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[entryID]
	if !ok {
		return nil, ErrAnalysisNotFound
	}
	if a.UserID != userID {
		return nil, ErrNotOwner
	}
	clone := *a
	return &clone, nil
}

func (s *MemoryStore) ListAnalyses(_ context.Context, userID string) ([]*ExperienceAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var analyses []*ExperienceAnalysis
	for _, a := range s.analyses {
		if a.UserID != userID {
			continue
		}
		clone := *a
		analyses = append(analyses, &clone)
	}
	sort.Slice(analyses, func(i, j int) bool {
		if !analyses[i].CreatedAt.Equal(analyses[j].CreatedAt) {
			return analyses[i].CreatedAt.Before(analyses[j].CreatedAt)
		}
		return analyses[i].EntryID < analyses[j].EntryID
	})
	return analyses, nil
}

func (s *MemoryStore) CountAnalyses(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.analyses {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateEmbedding(_ context.Context, userID, entryID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[entryID]
	if !ok || a.UserID != userID {
		return ErrAnalysisNotFound
	}
	a.Embedding = append([]float32(nil), embedding...)
	return nil
}

func (s *MemoryStore) UpdateClusterID(_ context.Context, userID, entryID, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[entryID]
	if !ok || a.UserID != userID {
		return ErrAnalysisNotFound
	}
	a.ClusterID = clusterID
	return nil
}

func (s *MemoryStore) CreateCombined(_ context.Context, c *CombinedExperience) error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.combined[c.ID] = &clone
	return nil
}

func (s *MemoryStore) GetCombined(_ context.Context, userID, id string) (*CombinedExperience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.combined[id]
	if !ok {
		return nil, ErrCombinedNotFound
	}
	if c.UserID != userID {
		return nil, ErrNotOwner
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) ListCombined(_ context.Context, userID string) ([]*CombinedExperience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var combined []*CombinedExperience
	for _, c := range s.combined {
		if c.UserID != userID {
			continue
		}
		clone := *c
		combined = append(combined, &clone)
	}
	sort.Slice(combined, func(i, j int) bool {
		if !combined[i].CreatedAt.Equal(combined[j].CreatedAt) {
			return combined[i].CreatedAt.After(combined[j].CreatedAt)
		}
		return combined[i].ID < combined[j].ID
	})
	return combined, nil
}

func (s *MemoryStore) RenameCombined(_ context.Context, userID, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.combined[id]
	if !ok || c.UserID != userID {
		return ErrCombinedNotFound
	}
	c.Name = name
	return nil
}

func (s *MemoryStore) DeleteCombined(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.combined[id]
	if !ok || c.UserID != userID {
		return ErrCombinedNotFound
	}
	delete(s.combined, id)
	return nil
}
