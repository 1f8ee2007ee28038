// Package vectorstore indexes entry embeddings for similarity search.
// Backed by chromem-go, an embeddable pure-Go vector database, so no
// external service is needed. Per-user isolation is enforced with a
// user_id metadata filter on every query.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/embedding"
)

var tracer = otel.Tracer("insightd.vectorstore")

var (
	// ErrInvalidConfig indicates invalid index configuration
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrEmptyUserID indicates a call without a user identity
	ErrEmptyUserID = errors.New("user ID is required")
)

// Config holds configuration for the vector index.
type Config struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name.
	Collection string

	// Dimension is the expected embedding dimension.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "insightd_entries"
	}
	if c.Dimension == 0 {
		c.Dimension = embedding.DefaultDimension
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Match is one similarity search hit.
type Match struct {
	EntryID string  `json:"entry_id"`
	Score   float32 `json:"score"`
}

// Index stores entry embeddings and answers nearest-neighbor queries.
type Index struct {
	db       *chromem.DB
	provider embedding.Provider
	config   Config
	logger   *zap.Logger
}

// NewIndex creates a vector index. With a non-empty Path the index persists
// across restarts; otherwise it lives in memory only.
func NewIndex(config Config, provider embedding.Provider, logger *zap.Logger) (*Index, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	idx := &Index{
		db:       db,
		provider: provider,
		config:   config,
		logger:   logger,
	}

	logger.Info("vector index initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("dimension", config.Dimension),
	)
	return idx, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the provider for chromem. chromem falls back to its
// OpenAI default when given nil, so this must always be passed.
func (x *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return x.provider.EmbedQuery(ctx, text)
	}
}

func (x *Index) collection() (*chromem.Collection, error) {
	col, err := x.db.GetOrCreateCollection(x.config.Collection, nil, x.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", x.config.Collection, err)
	}
	return col, nil
}

// Add indexes one entry embedding. Re-adding the same entry id replaces the
// stored vector.
func (x *Index) Add(ctx context.Context, userID, entryID, text string, vector []float32) error {
	ctx, span := tracer.Start(ctx, "Index.Add")
	defer span.End()
	span.SetAttributes(attribute.String("entry_id", entryID))

	if userID == "" {
		return ErrEmptyUserID
	}
	if len(vector) != x.config.Dimension {
		err := fmt.Errorf("%w: vector has %d dimensions, index expects %d",
			ErrInvalidConfig, len(vector), x.config.Dimension)
		span.RecordError(err)
		return err
	}

	col, err := x.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	doc := chromem.Document{
		ID:        entryID,
		Content:   text,
		Metadata:  map[string]string{"user_id": userID},
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("indexing entry %s: %w", entryID, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to k entries of the given user closest to the vector.
// The calling entry, if indexed, appears in its own results; callers filter
// it out when ranking neighbors.
func (x *Index) Query(ctx context.Context, userID string, vector []float32, k int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "Index.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}

	col, err := x.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem requires nResults <= doc count
	count := col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, map[string]string{"user_id": userID}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{EntryID: r.ID, Score: r.Similarity}
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Delete removes an entry from the index. Unknown ids are not an error.
func (x *Index) Delete(ctx context.Context, userID, entryID string) error {
	ctx, span := tracer.Start(ctx, "Index.Delete")
	defer span.End()

	if userID == "" {
		return ErrEmptyUserID
	}
	col, err := x.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := col.Delete(ctx, map[string]string{"user_id": userID}, nil, entryID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting entry %s: %w", entryID, err)
	}
	return nil
}

// Count returns the number of indexed entries across all users.
func (x *Index) Count() int {
	col, err := x.collection()
	if err != nil {
		return 0
	}
	return col.Count()
}

// Dimension returns the configured vector size.
func (x *Index) Dimension() int {
	return x.config.Dimension
}

// Reset drops and recreates the collection. Used when the embedding
// dimension changes and all vectors must be regenerated.
func (x *Index) Reset(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Index.Reset")
	defer span.End()

	if err := x.db.DeleteCollection(x.config.Collection); err != nil {
		span.RecordError(err)
		return fmt.Errorf("dropping collection: %w", err)
	}
	_, err := x.collection()
	return err
}

// Close closes the index. chromem persists on write, so this is bookkeeping.
func (x *Index) Close() error {
	x.logger.Info("vector index closed")
	return nil
}
