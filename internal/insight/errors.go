package insight

import (
	"errors"
	"fmt"

	"github.com/quillhaven/insightd/internal/cluster"
	"github.com/quillhaven/insightd/internal/embedding"
	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/wisdom"
)

// The five error kinds every operation resolves to. The HTTP layer maps
// these to status codes; nothing below this package leaks upward.
var (
	// ErrNotFound indicates the entry, analysis, or combined experience
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the record belongs to another user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates the request itself is invalid.
	ErrValidation = errors.New("validation failed")

	// ErrUpstreamUnavailable indicates the model or embedding service
	// failed after the invocation boundary exhausted its retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSchemaViolation indicates the model returned content that fails
	// the declared schema.
	ErrSchemaViolation = errors.New("model output violates schema")
)

// classify wraps collaborator errors into one of the five kinds. Unknown
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, journal.ErrEntryNotFound),
		errors.Is(err, journal.ErrAnalysisNotFound),
		errors.Is(err, journal.ErrCombinedNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, journal.ErrNotOwner):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case errors.Is(err, journal.ErrEmptyUserID),
		errors.Is(err, journal.ErrEmptyEntryID),
		errors.Is(err, journal.ErrEmptyText),
		errors.Is(err, journal.ErrInvalidAnalysis),
		errors.Is(err, wisdom.ErrTooFewEntries),
		errors.Is(err, cluster.ErrDimensionMismatch),
		errors.Is(err, embedding.ErrEmptyInput):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, llm.ErrSchema):
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	case errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, llm.ErrTimeout),
		errors.Is(err, llm.ErrMalformed),
		errors.Is(err, embedding.ErrEmbeddingFailed):
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return err
}
