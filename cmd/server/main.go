package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgo/somi/api/internal/config"
	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/handler"
	"github.com/forgo/somi/api/internal/jobs"
	"github.com/forgo/somi/api/internal/journal"
	"github.com/forgo/somi/api/internal/middleware"
	"github.com/forgo/somi/api/internal/projection"
	"github.com/forgo/somi/api/internal/repository"
	"github.com/forgo/somi/api/internal/service"
	"github.com/forgo/somi/api/internal/telemetry"
	"github.com/forgo/somi/api/pkg/jwt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logging
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.ExporterEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Server.Env,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.TracingEnabled() {
		slog.Info("tracing enabled", slog.String("endpoint", cfg.Telemetry.ExporterEndpoint))
	}

	// Initialize database connection
	db := database.NewSurrealDB(database.Config{
		Host:      cfg.Database.Host,
		Port:      cfg.Database.Port,
		User:      cfg.Database.User,
		Password:  cfg.Database.Password,
		Namespace: cfg.Database.Namespace,
		Database:  cfg.Database.Database,
	})
	if err := db.Connect(ctx); err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	slog.Info("connected to database",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Database),
	)

	// Event journal and aggregator projection
	eventJournal, err := journal.Open(ctx, cfg.Storage.JournalPath)
	if err != nil {
		slog.Error("failed to open event journal", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = eventJournal.Close() }()

	projectionStore, err := projection.Open(cfg.Storage.ProjectionPath)
	if err != nil {
		slog.Error("failed to open projection store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = projectionStore.Close() }()

	// Initialize JWT service
	jwtService, err := jwt.NewService(jwt.Config{
		Secret:         cfg.JWT.Secret,
		Issuer:         cfg.JWT.Issuer,
		ExpirationMins: cfg.JWT.ExpirationMins,
	})
	if err != nil {
		slog.Error("failed to initialize JWT service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Live feed: events reach SSE subscribers once the journal has them
	eventHub := service.NewEventHub(cfg.Jobs.FeedHeartbeat)
	defer eventHub.Close()
	events := service.TeeSink(eventJournal, eventHub)

	// Initialize repositories
	positionRepo := repository.NewPositionRepository(db)
	podRepo := repository.NewPodRepository(db)
	claimRepo := repository.NewClaimRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// Initialize services
	locks := service.NewKeyedMutex()
	calculator := service.DefaultCalculator()

	positionService := service.NewPositionService(service.PositionServiceConfig{
		PositionRepo: positionRepo,
		ClaimRepo:    claimRepo,
		Events:       events,
		Calculator:   calculator,
		Locks:        locks,
		Logger:       logger,
	})

	podService, err := service.NewPodService(service.PodServiceConfig{
		PodRepo:    podRepo,
		Events:     events,
		Calculator: calculator,
		Locks:      locks,
		Activation: &service.ActivationPolicy{
			Mode:      service.ActivationMode(cfg.Pods.ActivationPolicy),
			Threshold: cfg.Pods.ActivationThreshold,
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to initialize pod service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	batchDelay := cfg.Jobs.BatchClaimDelay
	batchClaimer := service.NewBatchClaimer(service.BatchClaimerConfig{
		Positions: positionService,
		Pods:      podService,
		Delay:     &batchDelay,
		Logger:    logger,
	})

	aggregator, err := service.NewAggregator(ctx, service.AggregatorConfig{
		Store:  projectionStore,
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to load aggregator state", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Relay staged outbox events into the journal and tail it into the
	// aggregator
	indexer := jobs.NewIndexer(jobs.IndexerConfig{
		Replayer: aggregator,
		Source:   eventJournal,
		Outbox:   outboxRepo,
		Journal:  eventJournal,
		Interval: cfg.Jobs.IndexerInterval,
		PageSize: cfg.Jobs.IndexerPageSize,
		Logger:   logger,
	})
	if _, err := indexer.RunOnce(ctx); err != nil {
		slog.Warn("initial replay incomplete", slog.String("error", err.Error()))
	}
	indexer.Start()
	defer indexer.Stop()

	// Warn owners as fixed-term positions come due
	maturityMonitor := jobs.NewMaturityMonitor(jobs.MaturityMonitorConfig{
		Source:   positionRepo,
		Notifier: eventHub,
		Interval: cfg.Jobs.MaturityInterval,
		Window:   cfg.Jobs.MaturityWindow,
		Logger:   logger,
	})
	maturityMonitor.Start()
	defer maturityMonitor.Stop()

	slog.Info("aggregator ready",
		slog.Uint64("checkpoint", aggregator.Checkpoint()),
		slog.Int("deferred", aggregator.DeferredCount()),
	)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Rate:   100, // 100 requests per minute
		Window: time.Minute,
		Burst:  20,
	})
	defer rateLimiter.Stop()

	// Initialize idempotency store
	idempotencyStore := middleware.NewIdempotencyStore(middleware.IdempotencyConfig{
		TTL:     24 * time.Hour,
		Cleanup: time.Hour,
	})
	defer idempotencyStore.Stop()

	// Initialize handlers
	positionHandler := handler.NewPositionHandler(positionService)
	podHandler := handler.NewPodHandler(podService)
	claimsHandler := handler.NewClaimsHandler(batchClaimer)
	eventsHandler := handler.NewEventsHandler(eventHub, podService)
	ledgerHandler := handler.NewLedgerHandler(handler.LedgerHandlerConfig{
		Journal:   events,
		Indexer:   indexer,
		Totals:    aggregator,
		Simulator: positionService,
	})

	// Create router and register routes
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /ready", handler.Ready(db))

	// Public read-only endpoints
	mux.HandleFunc("GET /v1/plans", ledgerHandler.Plans)
	mux.HandleFunc("GET /v1/simulate", ledgerHandler.Simulate)
	mux.HandleFunc("GET /v1/totals", ledgerHandler.Totals)

	// Account endpoints; retried writes replay through the idempotency store
	authMiddleware := middleware.Auth(jwtService)
	idempotent := middleware.Idempotency(idempotencyStore)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(idempotent(h))
	}

	// Position endpoints
	mux.Handle("POST /v1/positions", protected(positionHandler.Deposit))
	mux.Handle("GET /v1/positions", protected(positionHandler.List))
	mux.Handle("GET /v1/positions/{positionId}", protected(positionHandler.Get))
	mux.Handle("GET /v1/positions/{positionId}/interest", protected(positionHandler.PreviewInterest))
	mux.Handle("POST /v1/positions/{positionId}/claim", protected(positionHandler.Claim))

	// Pod endpoints
	mux.Handle("POST /v1/pods", protected(podHandler.Create))
	mux.Handle("GET /v1/pods", protected(podHandler.List))
	mux.Handle("GET /v1/pods/{podId}", protected(podHandler.Get))
	mux.Handle("PATCH /v1/pods/{podId}", protected(podHandler.Update))
	mux.Handle("POST /v1/pods/{podId}/join", protected(podHandler.Join))
	mux.Handle("POST /v1/pods/{podId}/leave", protected(podHandler.Leave))
	mux.Handle("POST /v1/pods/{podId}/close", protected(podHandler.Close))
	mux.Handle("POST /v1/pods/{podId}/cancel", protected(podHandler.Cancel))
	mux.Handle("POST /v1/pods/{podId}/claim", protected(podHandler.Claim))
	mux.Handle("GET /v1/pods/{podId}/interest", protected(podHandler.PreviewInterest))

	// Live lifecycle streams
	mux.Handle("GET /v1/pods/{podId}/events", authMiddleware(http.HandlerFunc(eventsHandler.StreamPod)))
	mux.Handle("GET /v1/accounts/me/events", authMiddleware(http.HandlerFunc(eventsHandler.StreamAccount)))

	// Batch claims
	mux.Handle("POST /v1/claims/batch", protected(claimsHandler.Batch))

	// Event ingestion from external indexers - requires operator role
	mux.Handle("POST /v1/events", authMiddleware(middleware.RequireOperator(http.HandlerFunc(ledgerHandler.Ingest))))

	// Apply global middleware
	wrapped := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger,
		middleware.Recovery,
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.RateLimit(rateLimiter),
		middleware.Compress,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.Server.Env),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", slog.String("error", err.Error()))
	}

	slog.Info("server exited")
}
