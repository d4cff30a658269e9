package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/inkwell-ai/inkwell/libs/document-engine/cmd/document-engine-api/middleware"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	grpcapi "github.com/inkwell-ai/inkwell/libs/document-engine/internal/api/grpc"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/cache"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// NewRouter creates the main API router with all routes configured. It
// is shared by the API binary and the CLI serve command.
func NewRouter(logger *observability.Logger, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	// Initialize handlers
	documentHandler := NewDocumentHandler(logger, cfg.Service, cfg.View)
	analysisHandler := NewAnalysisHandler(logger, cfg.Service)
	healthHandler := NewHealthHandler(logger, cfg.DB, cfg.Cache, cfg.Version)

	// Health check (unauthenticated)
	r.Get("/health", healthHandler.Health)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.AuthConfig))

		// Inline analysis
		r.Post("/analyze", analysisHandler.AnalyzeText)

		// Document routes
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Register)
			r.Get("/", documentHandler.List)
			r.Get("/search", documentHandler.Search)
			r.Get("/stats", documentHandler.Stats)

			r.Route("/{documentId}", func(r chi.Router) {
				r.Get("/", documentHandler.Get)
				r.Delete("/", documentHandler.Delete)
				r.Post("/analyze", analysisHandler.Analyze)
				r.Get("/analysis", analysisHandler.GetLatest)
				r.Get("/analyses", analysisHandler.ListByDocument)
			})
		})

		// Analysis poll target
		r.Route("/analyses", func(r chi.Router) {
			r.Get("/{analysisId}", analysisHandler.Get)
		})
	})

	// Connect RPC routes
	rpcService := grpcapi.NewAnalysisService(logger, cfg.Service)
	rpcPath, rpcHandler := grpcapi.NewAnalysisServiceHandler(rpcService)
	r.Mount(rpcPath, rpcHandler)

	return r
}

// AppConfig holds application configuration.
type AppConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	AuthConfig     middleware.AuthConfig
	Version        string

	Service *analysis.Service
	View    *storage.DocumentViewRepository
	DB      *sql.DB
	Cache   cache.Client
}

// DefaultAppConfig returns default configuration values.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		RequestTimeout: 60 * time.Second,
		AllowedOrigins: []string{"*"},
		AuthConfig: middleware.AuthConfig{
			Enabled: false, // Disabled by default for development
		},
	}
}
