// Package main provides the Document Engine API server entrypoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/inkwell-ai/inkwell/libs/document-engine/cmd/document-engine-api/handlers"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/anomaly"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/cache"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/config"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/confidence"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/extraction"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/linking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/summarize"
)

var version = "dev"

func main() {
	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("model", cfg.LLM.Model).
		Msg("Starting Document Engine API")

	// Open database and apply migrations
	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(context.Background(), db, cfg.Database.Driver); err != nil {
		logger.Error().Err(err).Msg("Failed to apply migrations")
		os.Exit(1)
	}

	// Initialize cache
	cacheClient, err := newCacheClient(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to cache")
		os.Exit(1)
	}
	defer cacheClient.Close()

	// Initialize model client
	llmClient, err := newLLMClient(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create model client")
		os.Exit(1)
	}

	// Initialize services
	repos := storage.NewRepositories(db)
	view := storage.NewDocumentViewRepository(db)
	service := analysis.NewService(logger, llmClient, repos, cacheClient, analysisConfig(cfg))

	// Create app config
	appCfg := handlers.DefaultAppConfig()
	appCfg.RequestTimeout = cfg.Server.WriteTimeout
	appCfg.Version = version
	appCfg.Service = service
	appCfg.View = view
	appCfg.DB = db
	appCfg.Cache = cacheClient

	// Initialize router with all handlers
	router := handlers.NewRouter(logger, appCfg)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	driverName := "postgres"
	dsn := cfg.DatabaseDSN()
	if cfg.Database.Driver == "sqlite" {
		driverName = "sqlite3"
		// Foreign keys are off by default in SQLite; the analyses table
		// relies on ON DELETE CASCADE.
		dsn = fmt.Sprintf("file:%s?_foreign_keys=1", dsn)
		if cfg.Database.SQLite.JournalMode != "" {
			dsn += fmt.Sprintf("&_journal_mode=%s", cfg.Database.SQLite.JournalMode)
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
	} else if cfg.Database.SQLite.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newCacheClient(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	if cfg.LLM.Mock {
		return llm.NewMockClient("{}"), nil
	}
	return llm.NewHTTPClient(llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		Timeout:       cfg.LLM.Timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		RateLimit:     cfg.LLM.RateLimit,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
	})
}

func analysisConfig(cfg *config.Config) analysis.Config {
	return analysis.Config{
		Chunking: chunking.Config{
			MaxChunkSize: cfg.Chunking.MaxChunkSize,
			OverlapSize:  cfg.Chunking.ChunkOverlap,
		},
		Extraction: extraction.Config{
			BatchSize:         cfg.Extraction.BatchSize,
			MaxRepairAttempts: cfg.Extraction.MaxRepairAttempts,
			MaxTokens:         cfg.LLM.MaxTokens,
		},
		Summarization: summarize.Config{
			BatchSize:   cfg.Summarization.BatchSize,
			SectionSize: cfg.Summarization.SectionSize,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		Anomaly: anomaly.Config{
			DisableModelScan:  !cfg.Anomaly.EnableLLMScan,
			MaxRepairAttempts: cfg.Extraction.MaxRepairAttempts,
		},
		Linking: linking.Config{
			MaxRepairAttempts:   cfg.Extraction.MaxRepairAttempts,
			SimilarityThreshold: cfg.Linking.SimilarityThreshold,
		},
		Confidence: confidence.Config{
			Weights: confidence.Weights{
				Validity:    cfg.Confidence.Extraction.Validity,
				Consistency: cfg.Confidence.Extraction.EntityConsistency,
				Coverage:    cfg.Confidence.Extraction.Coverage,
				Repetition:  cfg.Confidence.Extraction.RepetitionPenalty,
				Repair:      cfg.Confidence.Extraction.RepairPenalty,
				TokenUse:    cfg.Confidence.Extraction.TokenEfficiency,
			},
			OverallWeights: confidence.OverallWeights{
				Extraction: cfg.Confidence.Overall.Extraction,
				Summary:    cfg.Confidence.Overall.Summary,
				Anomaly:    cfg.Confidence.Overall.Anomaly,
				Linking:    cfg.Confidence.Overall.EntityLinking,
			},
		},
		MaxContentBytes:   cfg.Documents.MaxContentBytes,
		AllowedExtensions: cfg.Documents.AllowedExtensions,
		CacheTTL:          cfg.Cache.TTL,
	}
}
