// Insightd is the experience analysis daemon for the Quillhaven journal.
//
// The binary starts the insightd HTTP server with full service
// initialization: relational storage, the embedding provider, the vector
// index, and the language-model clients behind analysis, pattern discovery,
// and wisdom consolidation.
//
// Configuration is loaded from a YAML file and environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start with defaults (~/.config/insightd/config.yaml)
//	insightd
//
//	# Configure via environment
//	SERVER_PORT=9280 STORAGE_PATH=/var/lib/insightd/insightd.db insightd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/config"
	"github.com/quillhaven/insightd/internal/embedding"
	"github.com/quillhaven/insightd/internal/experience"
	"github.com/quillhaven/insightd/internal/httpapi"
	"github.com/quillhaven/insightd/internal/insight"
	"github.com/quillhaven/insightd/internal/journal"
	"github.com/quillhaven/insightd/internal/llm"
	"github.com/quillhaven/insightd/internal/logging"
	"github.com/quillhaven/insightd/internal/pattern"
	"github.com/quillhaven/insightd/internal/telemetry"
	"github.com/quillhaven/insightd/internal/vectorstore"
	"github.com/quillhaven/insightd/internal/wisdom"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/insightd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  insightd           Start the insightd daemon\n")
			fmt.Fprintf(os.Stderr, "  insightd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("insightd by Quillhaven\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the insightd server and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Open storage (SQLite or in-memory) and the vector index
//  4. Create the language-model clients
//  5. Wire the insight service and HTTP server
//  6. Perform graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting insightd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	logger.Info(ctx, "storage opened",
		zap.String("path", cfg.Storage.Path),
		zap.Bool("persistent", cfg.Storage.Path != ""))

	provider, err := embedding.NewProvider(embedding.ProviderConfig{
		Provider:  cfg.Embedding.Provider,
		Dimension: cfg.Embedding.Dimension,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	defer provider.Close()

	index, err := vectorstore.NewIndex(vectorstore.Config{
		Path:       cfg.VectorIndex.Path,
		Collection: cfg.VectorIndex.Collection,
		Dimension:  cfg.Embedding.Dimension,
	}, provider, logger.Zap())
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}

	logger.Info(ctx, "vector index ready",
		zap.String("collection", cfg.VectorIndex.Collection),
		zap.Int("dimension", cfg.Embedding.Dimension))

	client, err := initModelClient(cfg, logger.Zap())
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	service, err := insight.NewService(insight.Config{
		Store:            store,
		Analyzer:         experience.NewAnalyzer(client, logger),
		Embedder:         provider,
		Index:            index,
		Identifier:       pattern.NewIdentifier(client, logger),
		Consolidator:     wisdom.NewConsolidator(client, logger),
		Logger:           logger,
		ClusterThreshold: cfg.Cluster.DefaultThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to create insight service: %w", err)
	}

	server, err := httpapi.NewServer(service, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// initLogger builds the structured logger from config.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.Logging.Format,
	})
}

// openStore opens the configured relational store. An empty path selects
// the in-memory store, which loses data on restart.
func openStore(cfg *config.Config) (journal.Store, error) {
	if cfg.Storage.Path == "" {
		return journal.NewMemoryStore(), nil
	}
	return journal.NewSQLiteStore(cfg.Storage.Path)
}

// initModelClient builds the chat-model client, wrapping primary and
// fallback providers in a failover client when both are configured.
func initModelClient(cfg *config.Config, logger *zap.Logger) (llm.Client, error) {
	if !cfg.LLM.Primary.Enabled() {
		return nil, fmt.Errorf("llm.primary must be configured")
	}

	primary, err := llm.NewClient(cfg.LLM.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}
	if !cfg.LLM.Fallback.Enabled() {
		return primary, nil
	}

	fallback, err := llm.NewClient(cfg.LLM.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return llm.NewFailoverClient(primary, fallback, logger), nil
}
