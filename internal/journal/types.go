// Package journal holds the domain records of the experience-analysis engine
// and the storage boundary they persist through: journal entries (read-only
// here, owned by the journaling subsystem), per-entry experience analyses,
// and user-created combined experiences.
package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for journal records.
var (
	ErrEntryNotFound    = errors.New("entry not found")
	ErrAnalysisNotFound = errors.New("analysis not found")
	ErrCombinedNotFound = errors.New("combined experience not found")
	ErrNotOwner         = errors.New("record belongs to another user")
	ErrAnalysisExists   = errors.New("analysis already exists for entry")
	ErrEmptyUserID      = errors.New("user ID cannot be empty")
	ErrEmptyEntryID     = errors.New("entry ID cannot be empty")
	ErrEmptyText        = errors.New("entry text cannot be empty")
	ErrInvalidAnalysis  = errors.New("invalid analysis")
)

// Entry is a journal entry. The journaling subsystem creates and edits
// entries; this engine only reads them.
type Entry struct {
	// ID is the unique entry identifier (UUID).
	ID string `json:"id"`

	// UserID identifies the owning user.
	UserID string `json:"user_id"`

	// Question is the reflection prompt the user answered.
	Question string `json:"question"`

	// Response is the user's free-text answer.
	Response string `json:"response"`

	// Context tags, all optional and user-supplied.
	TimeContext    string `json:"time_context,omitempty"`
	PlaceContext   string `json:"place_context,omitempty"`
	ExperienceType string `json:"experience_type,omitempty"`
	ChallengeType  string `json:"challenge_type,omitempty"`
	GrowthTheme    string `json:"growth_theme,omitempty"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
}

// Text returns the entry's question and response joined for embedding and
// prompting. The response carries most of the signal; the question frames it.
func (e *Entry) Text() string {
	if e.Question == "" {
		return e.Response
	}
	return e.Question + "\n" + e.Response
}

// Valence is the overall emotional polarity of an experience.
type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNegative Valence = "negative"
	ValenceNeutral  Valence = "neutral"
)

// Valid reports whether v is a known valence.
func (v Valence) Valid() bool {
	switch v {
	case ValencePositive, ValenceNegative, ValenceNeutral:
		return true
	}
	return false
}

// LifeTheme classifies the core human concern an experience touches.
// The taxonomy is closed: exactly these six values.
type LifeTheme string

const (
	ThemeLove    LifeTheme = "Love"
	ThemeValue   LifeTheme = "Value"
	ThemePower   LifeTheme = "Power"
	ThemeFreedom LifeTheme = "Freedom"
	ThemeTruth   LifeTheme = "Truth"
	ThemeJustice LifeTheme = "Justice"
)

// LifeThemes lists all six themes in display order.
func LifeThemes() []LifeTheme {
	return []LifeTheme{ThemeLove, ThemeValue, ThemePower, ThemeFreedom, ThemeTruth, ThemeJustice}
}

// LifeThemeStrings lists the taxonomy as strings, for schema enumerations.
func LifeThemeStrings() []string {
	themes := LifeThemes()
	out := make([]string, len(themes))
	for i, th := range themes {
		out[i] = string(th)
	}
	return out
}

// Valid reports whether t is one of the six themes.
func (t LifeTheme) Valid() bool {
	for _, th := range LifeThemes() {
		if t == th {
			return true
		}
	}
	return false
}

// ExperienceAnalysis is the structured psychological profile of one entry.
// Exactly one analysis exists per entry; it is immutable once created except
// for embedding and cluster back-fill.
type ExperienceAnalysis struct {
	// EntryID links the analysis to its entry (unique).
	EntryID string `json:"entry_id"`

	// UserID denormalizes the entry owner for listing.
	UserID string `json:"user_id"`

	// Valence is the overall polarity.
	Valence Valence `json:"valence"`

	// The five dimensions, each on a 1-10 scale.
	Impact                int `json:"impact"`
	Predictability        int `json:"predictability"`
	Challenge             int `json:"challenge"`
	EmotionalSignificance int `json:"emotional_significance"`
	WorldviewChange       int `json:"worldview_change"`

	// PrimaryTheme is one of the six life themes.
	PrimaryTheme LifeTheme `json:"primary_theme"`

	// SecondaryThemes are free-form, ordered by salience.
	SecondaryThemes []string `json:"secondary_themes,omitempty"`

	// Archetype is a short label for the narrative pattern
	// (e.g. "Loss and Recovery").
	Archetype string `json:"archetype"`

	// Keywords extracted from the entry.
	Keywords []string `json:"keywords,omitempty"`

	// EmotionalTone is a free-text label.
	EmotionalTone string `json:"emotional_tone"`

	// Summary is a short synopsis of the experience.
	Summary string `json:"summary"`

	// ClusterID is back-filled by clustering runs. Ephemeral labeling only.
	ClusterID string `json:"cluster_id,omitempty"`

	// Embedding is the entry's semantic vector, back-filled by embedding runs.
	Embedding []float32 `json:"embedding,omitempty"`

	// Degraded marks a fallback analysis produced while the model was
	// unreachable. Internal observability only; not part of the API payload.
	Degraded bool `json:"-"`

	// CreatedAt is when the analysis was produced.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks invariants on a freshly produced analysis.
func (a *ExperienceAnalysis) Validate() error {
	if a.EntryID == "" {
		return ErrEmptyEntryID
	}
	if a.UserID == "" {
		return ErrEmptyUserID
	}
	if !a.Valence.Valid() {
		return errorsJoin(ErrInvalidAnalysis, "valence %q", string(a.Valence))
	}
	if !a.PrimaryTheme.Valid() {
		return errorsJoin(ErrInvalidAnalysis, "primary theme %q", string(a.PrimaryTheme))
	}
	for _, dim := range []struct {
		name  string
		value int
	}{
		{"impact", a.Impact},
		{"predictability", a.Predictability},
		{"challenge", a.Challenge},
		{"emotional_significance", a.EmotionalSignificance},
		{"worldview_change", a.WorldviewChange},
	} {
		if dim.value < 1 || dim.value > 10 {
			return errorsJoin(ErrInvalidAnalysis, "%s %d out of [1, 10]", dim.name, dim.value)
		}
	}
	if a.Archetype == "" {
		return errorsJoin(ErrInvalidAnalysis, "archetype cannot be empty")
	}
	return nil
}

// CombinedExperience is a user-created aggregate over two or more entries:
// a consolidated wisdom paragraph plus its thematic classification. Immutable
// once created except for rename; deleted independently of member entries.
type CombinedExperience struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// UserID identifies the owning user.
	UserID string `json:"user_id"`

	// Name is a short evocative title. The one mutable field.
	Name string `json:"name"`

	// ConsolidatedWisdom is the synthesized paragraph.
	ConsolidatedWisdom string `json:"consolidated_wisdom"`

	// PrimaryTheme is drawn from the six-value taxonomy.
	PrimaryTheme LifeTheme `json:"primary_theme"`

	// Archetypes observed across the member entries.
	Archetypes []string `json:"archetypes,omitempty"`

	// Insights are the discrete learnings extracted during consolidation.
	Insights []string `json:"insights,omitempty"`

	// EntryIDs are the member entries.
	EntryIDs []string `json:"entry_ids"`

	// CreatedAt is when the combination was made.
	CreatedAt time.Time `json:"created_at"`
}

func errorsJoin(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}

// NewCombinedExperience creates a combined experience with a generated id.
func NewCombinedExperience(userID, name string) *CombinedExperience {
	return &CombinedExperience{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
	}
}
