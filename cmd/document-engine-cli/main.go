// Package main provides the Document Engine CLI entrypoint.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

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

const cliVersion = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "document-engine-cli",
	Short: "Document Engine CLI for analysis, batch processing, and administration",
	Long: `Document Engine CLI runs the document analysis pipeline from the terminal.

Use this tool to:
- Analyze a single document through chunking, extraction, and summarization
- Batch-analyze a directory of documents with a worker pool
- Run the HTTP API server
- Apply database migrations

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      logFormat,
			ServiceName: "document-engine-cli",
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Document Engine API server",
		Long: `Serve starts the HTTP API with the configured database, cache, and
model client. It handles SIGINT/SIGTERM with a graceful shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := storage.Migrate(context.Background(), db, cfg.Database.Driver); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			cacheClient, err := newCacheClient(cfg)
			if err != nil {
				return fmt.Errorf("connect to cache: %w", err)
			}
			defer cacheClient.Close()

			llmClient, err := newLLMClient(cfg)
			if err != nil {
				return fmt.Errorf("create model client: %w", err)
			}

			repos := storage.NewRepositories(db)
			view := storage.NewDocumentViewRepository(db)
			service := analysis.NewService(logger, llmClient, repos, cacheClient, analysisConfig(cfg))

			appCfg := handlers.DefaultAppConfig()
			appCfg.RequestTimeout = cfg.Server.WriteTimeout
			appCfg.Version = cliVersion
			appCfg.Service = service
			appCfg.View = view
			appCfg.DB = db
			appCfg.Cache = cacheClient

			router := handlers.NewRouter(logger, appCfg)

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			serverErrors := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", addr).Msg("HTTP server listening")
				serverErrors <- srv.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-serverErrors:
				logger.Error().Err(err).Msg("Server error")
			case sig := <-shutdown:
				logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("Graceful shutdown failed")
				if err := srv.Close(); err != nil {
					logger.Error().Err(err).Msg("Forced shutdown failed")
				}
			}

			logger.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bind address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")

	return cmd
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Migrate applies the embedded schema migrations for the configured
database driver. Already-applied migrations are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			db, err := openDatabase(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]string{
					"driver": cfg.Database.Driver,
					"status": "applied",
				})
			}

			fmt.Printf("✓ Migrations applied\n")
			fmt.Printf("  Driver: %s\n", cfg.Database.Driver)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{
					"version": cliVersion,
					"go":      "1.25",
				})
				return
			}
			fmt.Printf("document-engine-cli v%s\n", cliVersion)
		},
	}
}

// newAnalysisService wires the pipeline service over the configured
// database, cache, and model client. Migrations run first so a fresh
// SQLite database works without a separate migrate step. The returned
// cleanup closes the database and cache connections.
func newAnalysisService(acfg analysis.Config) (*analysis.Service, func(), error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := storage.Migrate(context.Background(), db, cfg.Database.Driver); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	cacheClient, err := newCacheClient(cfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect to cache: %w", err)
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		cacheClient.Close()
		db.Close()
		return nil, nil, fmt.Errorf("create model client: %w", err)
	}

	svc := analysis.NewService(logger, llmClient, storage.NewRepositories(db), cacheClient, acfg)
	cleanup := func() {
		cacheClient.Close()
		db.Close()
	}
	return svc, cleanup, nil
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
