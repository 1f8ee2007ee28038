package journal

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	question        TEXT NOT NULL,
	response        TEXT NOT NULL,
	time_context    TEXT NOT NULL DEFAULT '',
	place_context   TEXT NOT NULL DEFAULT '',
	experience_type TEXT NOT NULL DEFAULT '',
	challenge_type  TEXT NOT NULL DEFAULT '',
	growth_theme    TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_user ON entries(user_id);

CREATE TABLE IF NOT EXISTS analyses (
	entry_id               TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	valence                TEXT NOT NULL,
	impact                 INTEGER NOT NULL,
	predictability         INTEGER NOT NULL,
	challenge              INTEGER NOT NULL,
	emotional_significance INTEGER NOT NULL,
	worldview_change       INTEGER NOT NULL,
	primary_theme          TEXT NOT NULL,
	secondary_themes       TEXT NOT NULL DEFAULT '[]',
	archetype              TEXT NOT NULL,
	keywords               TEXT NOT NULL DEFAULT '[]',
	emotional_tone         TEXT NOT NULL DEFAULT '',
	summary                TEXT NOT NULL DEFAULT '',
	cluster_id             TEXT NOT NULL DEFAULT '',
	embedding              BLOB,
	degraded               INTEGER NOT NULL DEFAULT 0,
	created_at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_user ON analyses(user_id);

CREATE TABLE IF NOT EXISTS combined_experiences (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	name                TEXT NOT NULL,
	consolidated_wisdom TEXT NOT NULL,
	primary_theme       TEXT NOT NULL,
	archetypes          TEXT NOT NULL DEFAULT '[]',
	insights            TEXT NOT NULL DEFAULT '[]',
	entry_ids           TEXT NOT NULL DEFAULT '[]',
	created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_combined_user ON combined_experiences(user_id);
`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations. Pass ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutEntry inserts or replaces an entry.
func (s *SQLiteStore) PutEntry(ctx context.Context, entry *Entry) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries
		 (id, user_id, question, response, time_context, place_context,
		  experience_type, challenge_type, growth_theme, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Question, entry.Response,
		entry.TimeContext, entry.PlaceContext, entry.ExperienceType,
		entry.ChallengeType, entry.GrowthTheme, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storing entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetEntry returns the entry with the given id. Returns ErrNotOwner when the
// entry exists but belongs to another user.
func (s *SQLiteStore) GetEntry(ctx context.Context, userID, entryID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, question, response, time_context, place_context,
		        experience_type, challenge_type, growth_theme, created_at
		 FROM entries WHERE id = ?`, entryID)

	var e Entry
	var createdAt string
	err := row.Scan(&e.ID, &e.UserID, &e.Question, &e.Response,
		&e.TimeContext, &e.PlaceContext, &e.ExperienceType,
		&e.ChallengeType, &e.GrowthTheme, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry %s: %w", entryID, err)
	}
	if e.UserID != userID {
		return nil, ErrNotOwner
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// ListEntries returns all entries owned by userID, newest first.
func (s *SQLiteStore) ListEntries(ctx context.Context, userID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question, response, time_context, place_context,
		        experience_type, challenge_type, growth_theme, created_at
		 FROM entries WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Question, &e.Response,
			&e.TimeContext, &e.PlaceContext, &e.ExperienceType,
			&e.ChallengeType, &e.GrowthTheme, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CountEntries returns the number of entries owned by userID.
func (s *SQLiteStore) CountEntries(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// CreateAnalysis inserts an analysis. The entry_id primary key makes a second
// insert for the same entry fail with ErrAnalysisExists even under
// concurrent writers.
func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a *ExperienceAnalysis) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	secondary, err := json.Marshal(stringsOrEmpty(a.SecondaryThemes))
	if err != nil {
		return fmt.Errorf("encoding secondary themes: %w", err)
	}
	keywords, err := json.Marshal(stringsOrEmpty(a.Keywords))
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses
		 (entry_id, user_id, valence, impact, predictability, challenge,
		  emotional_significance, worldview_change, primary_theme,
		  secondary_themes, archetype, keywords, emotional_tone, summary,
		  cluster_id, embedding, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.EntryID, a.UserID, string(a.Valence),
		a.Impact, a.Predictability, a.Challenge,
		a.EmotionalSignificance, a.WorldviewChange, string(a.PrimaryTheme),
		string(secondary), a.Archetype, string(keywords),
		a.EmotionalTone, a.Summary, a.ClusterID,
		vectorToBlob(a.Embedding), boolToInt(a.Degraded), formatTime(a.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAnalysisExists
		}
		return fmt.Errorf("storing analysis for entry %s: %w", a.EntryID, err)
	}
	return nil
}

// GetAnalysis returns the analysis for entryID.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, userID, entryID string) (*ExperienceAnalysis, error) {
	row := s.db.QueryRowContext(ctx, selectAnalysis+` WHERE entry_id = ?`, entryID)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading analysis for entry %s: %w", entryID, err)
	}
	if a.UserID != userID {
		return nil, ErrNotOwner
	}
	return a, nil
}

// ListAnalyses returns all analyses owned by userID, oldest first so that
// clustering sees entries in the order they were written.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, userID string) ([]*ExperienceAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		selectAnalysis+` WHERE user_id = ? ORDER BY created_at, entry_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*ExperienceAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

// CountAnalyses returns the number of analyses owned by userID.
func (s *SQLiteStore) CountAnalyses(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting analyses: %w", err)
	}
	return n, nil
}

// UpdateEmbedding back-fills the semantic vector for an analysis.
func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, userID, entryID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET embedding = ? WHERE entry_id = ? AND user_id = ?`,
		vectorToBlob(embedding), entryID, userID)
	if err != nil {
		return fmt.Errorf("updating embedding for entry %s: %w", entryID, err)
	}
	return requireRow(res, ErrAnalysisNotFound)
}

// UpdateClusterID back-fills the cluster label for an analysis.
func (s *SQLiteStore) UpdateClusterID(ctx context.Context, userID, entryID, clusterID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET cluster_id = ? WHERE entry_id = ? AND user_id = ?`,
		clusterID, entryID, userID)
	if err != nil {
		return fmt.Errorf("updating cluster for entry %s: %w", entryID, err)
	}
	return requireRow(res, ErrAnalysisNotFound)
}

// CreateCombined inserts a combined experience.
func (s *SQLiteStore) CreateCombined(ctx context.Context, c *CombinedExperience) error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	archetypes, err := json.Marshal(stringsOrEmpty(c.Archetypes))
	if err != nil {
		return fmt.Errorf("encoding archetypes: %w", err)
	}
	insights, err := json.Marshal(stringsOrEmpty(c.Insights))
	if err != nil {
		return fmt.Errorf("encoding insights: %w", err)
	}
	entryIDs, err := json.Marshal(stringsOrEmpty(c.EntryIDs))
	if err != nil {
		return fmt.Errorf("encoding entry ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO combined_experiences
		 (id, user_id, name, consolidated_wisdom, primary_theme,
		  archetypes, insights, entry_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.ConsolidatedWisdom, string(c.PrimaryTheme),
		string(archetypes), string(insights), string(entryIDs), formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storing combined experience %s: %w", c.ID, err)
	}
	return nil
}

// GetCombined returns the combined experience with the given id.
func (s *SQLiteStore) GetCombined(ctx context.Context, userID, id string) (*CombinedExperience, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, consolidated_wisdom, primary_theme,
		        archetypes, insights, entry_ids, created_at
		 FROM combined_experiences WHERE id = ?`, id)

	c, err := scanCombined(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCombinedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading combined experience %s: %w", id, err)
	}
	if c.UserID != userID {
		return nil, ErrNotOwner
	}
	return c, nil
}

// ListCombined returns all combined experiences owned by userID, newest first.
func (s *SQLiteStore) ListCombined(ctx context.Context, userID string) ([]*CombinedExperience, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, consolidated_wisdom, primary_theme,
		        archetypes, insights, entry_ids, created_at
		 FROM combined_experiences WHERE user_id = ?
		 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing combined experiences: %w", err)
	}
	defer rows.Close()

	var combined []*CombinedExperience
	for rows.Next() {
		c, err := scanCombined(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning combined experience: %w", err)
		}
		combined = append(combined, c)
	}
	return combined, rows.Err()
}

// RenameCombined updates the name of a combined experience.
func (s *SQLiteStore) RenameCombined(ctx context.Context, userID, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE combined_experiences SET name = ? WHERE id = ? AND user_id = ?`,
		name, id, userID)
	if err != nil {
		return fmt.Errorf("renaming combined experience %s: %w", id, err)
	}
	return requireRow(res, ErrCombinedNotFound)
}

// DeleteCombined removes a combined experience. Member entries are untouched.
func (s *SQLiteStore) DeleteCombined(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM combined_experiences WHERE id = ? AND user_id = ?`,
		id, userID)
	if err != nil {
		return fmt.Errorf("deleting combined experience %s: %w", id, err)
	}
	return requireRow(res, ErrCombinedNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectAnalysis = `SELECT entry_id, user_id, valence, impact, predictability,
	challenge, emotional_significance, worldview_change, primary_theme,
	secondary_themes, archetype, keywords, emotional_tone, summary,
	cluster_id, embedding, degraded, created_at FROM analyses`

func scanAnalysis(row rowScanner) (*ExperienceAnalysis, error) {
	var a ExperienceAnalysis
	var valence, theme, secondary, keywords, createdAt string
	var embedding []byte
	var degraded int

	err := row.Scan(&a.EntryID, &a.UserID, &valence,
		&a.Impact, &a.Predictability, &a.Challenge,
		&a.EmotionalSignificance, &a.WorldviewChange, &theme,
		&secondary, &a.Archetype, &keywords, &a.EmotionalTone, &a.Summary,
		&a.ClusterID, &embedding, &degraded, &createdAt)
	if err != nil {
		return nil, err
	}

	a.Valence = Valence(valence)
	a.PrimaryTheme = LifeTheme(theme)
	a.Embedding = blobToVector(embedding)
	a.Degraded = degraded != 0
	a.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(secondary), &a.SecondaryThemes); err != nil {
		return nil, fmt.Errorf("decoding secondary themes: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &a.Keywords); err != nil {
		return nil, fmt.Errorf("decoding keywords: %w", err)
	}
	return &a, nil
}

func scanCombined(row rowScanner) (*CombinedExperience, error) {
	var c CombinedExperience
	var theme, archetypes, insights, entryIDs, createdAt string

	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.ConsolidatedWisdom, &theme,
		&archetypes, &insights, &entryIDs, &createdAt)
	if err != nil {
		return nil, err
	}

	c.PrimaryTheme = LifeTheme(theme)
	c.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(archetypes), &c.Archetypes); err != nil {
		return nil, fmt.Errorf("decoding archetypes: %w", err)
	}
	if err := json.Unmarshal([]byte(insights), &c.Insights); err != nil {
		return nil, fmt.Errorf("decoding insights: %w", err)
	}
	if err := json.Unmarshal([]byte(entryIDs), &c.EntryIDs); err != nil {
		return nil, fmt.Errorf("decoding entry ids: %w", err)
	}
	return &c, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// vectorToBlob serializes a vector as little-endian float32s. Nil in, nil out.
func vectorToBlob(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func blobToVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
