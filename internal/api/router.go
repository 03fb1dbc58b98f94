package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mnemo-labs/mnemo/internal/api/handlers"
	mw "github.com/mnemo-labs/mnemo/internal/api/middleware"
	"github.com/mnemo-labs/mnemo/internal/buildconfig"
	"github.com/mnemo-labs/mnemo/internal/config"
	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/embedding"
	"github.com/mnemo-labs/mnemo/internal/identity"
	"github.com/mnemo-labs/mnemo/internal/llm"
	"github.com/mnemo-labs/mnemo/internal/service"
	"github.com/mnemo-labs/mnemo/internal/store"
	"github.com/mnemo-labs/mnemo/internal/token"
)

// App holds the router and request metrics for lifecycle management.
type App struct {
	Router       *chi.Mux
	Manager      *service.Manager
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	archiveStore := store.NewArchiveStore(db)

	// External clients via provider factory
	summarizer, err := llm.NewSummarizer(config.LLMProvider(), config.LLMAPIKey())
	if err != nil {
		logger.Warn("summarizer initialization failed, falling back to mock",
			zap.String("provider", config.LLMProvider()), zap.Error(err))
		summarizer = llm.NewMockSummarizer()
	} else {
		logger.Info("summarizer initialized", zap.String("provider", config.LLMProvider()))
	}

	embeddingClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey(), config.EmbeddingModel())
	if err != nil {
		logger.Warn("embedding client initialization failed, archive recall is lexical-only",
			zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
		embeddingClient = nil
	} else if embeddingClient != nil {
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	estimator := token.NewCharRatio()
	identityProvider := identity.NewFileProvider(config.IdentityPath(), 0, estimator)

	sessionCfg := service.SessionConfig{
		Ceiling:          config.ContextCeiling(),
		SummaryBudget:    config.SummaryBudget(),
		MaxSummaries:     config.MaxSummaries(),
		RetainTail:       config.RetainTail(),
		SummarizeTimeout: config.SummarizeTimeout(),
	}
	manager := service.NewManager(sessionCfg, summarizer, archiveStore, embeddingClient, identityProvider, estimator, logger)

	// Handlers
	sessionHandler := handlers.NewSessionHandler(manager)
	archiveHandler := handlers.NewArchiveHandler(manager)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Manager:   manager,
		startTime: time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Metrics (no auth)
	r.Get("/metrics", app.metricsHandler())

	// Authenticated routes
	apiKey := config.APIKey()
	if apiKey == "" {
		logger.Warn("API_KEY not set, authentication is disabled")
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/turn", sessionHandler.Turn)
			r.Post("/exchanges", sessionHandler.RecordExchange)
			r.Get("/status", sessionHandler.Status)
			r.Get("/archive/search", archiveHandler.Search)
		})
	})

	return app
}

// NewRouter returns just the chi.Mux.
func NewRouter(db *pgxpool.Pool, logger *zap.Logger) *chi.Mux {
	return NewApp(db, logger).Router
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"version":        buildconfig.Version(),
			"commit":         buildconfig.Commit(),
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"sessions":       app.Manager.Len(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.ArchiveStore     = (*store.ArchiveStore)(nil)
	_ domain.Summarizer       = (*llm.OpenAIClient)(nil)
	_ domain.Summarizer       = (*llm.AnthropicClient)(nil)
	_ domain.Summarizer       = (*llm.MockSummarizer)(nil)
	_ domain.EmbeddingClient  = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient  = (*embedding.MockClient)(nil)
	_ domain.IdentityProvider = (*identity.FileProvider)(nil)
	_ domain.IdentityProvider = (*identity.StaticProvider)(nil)
)
