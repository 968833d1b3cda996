package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/propsync/agent/internal/config"
	"github.com/propsync/agent/internal/handlers"
	custommw "github.com/propsync/agent/internal/middleware"
	"github.com/propsync/agent/internal/models"
	"github.com/propsync/agent/internal/observability"
	"github.com/propsync/agent/internal/repository"
	"github.com/propsync/agent/internal/services"
)

const appVersion = "1.0.0"

// @title PropSync Agent Control API
// @version 1.0
// @description Local control surface of the offline-first sync agent
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("propsync-agent", appVersion))
	if err != nil {
		log.Printf("Telemetry initialization failed, continuing without it: %v", err)
	}

	// Initialize database
	var db *sql.DB
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL database")
		observability.SetDBSystem("postgresql")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
	} else {
		log.Println("Using SQLite database")
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite database: %v", err)
		}
	}
	defer db.Close()

	// Initialize repositories
	queueRepo := repository.NewQueueRepository(db, cfg.Sync.MaxAttempts)
	metaRepo := repository.NewMetadataRepository(db)

	// Initialize services
	client := services.NewAPIClient(cfg.ServerURL)

	mapper := services.NewEntityMapper(db, queueRepo)
	mapper.Register(repository.NewPropertyRepository(db))
	mapper.Register(repository.NewUnitRepository(db))
	mapper.Register(repository.NewTenantRepository(db))
	mapper.Register(repository.NewLeaseRepository(db))
	mapper.Register(repository.NewPaymentRepository(db))
	mapper.Register(repository.NewWorkOrderRepository(db))

	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Printf("Sync metrics unavailable: %v", err)
	}

	syncSvc := services.NewSyncService(client, queueRepo, metaRepo, mapper, cfg.Sync, cfg.Device, syncMetrics)
	if err := syncSvc.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize sync service: %v", err)
	}

	trigger := services.NewTriggerService(syncSvc, client, cfg.Sync, cfg.Connectivity)
	trigger.Start(ctx)
	defer trigger.Stop()

	var notifier *services.WSNotifier
	if cfg.Connectivity.WebSocketEnabled && cfg.Connectivity.WebSocketURL != "" {
		deviceID, _ := metaRepo.Get(ctx, models.MetaDeviceID)
		notifier = services.NewWSNotifier(cfg.Connectivity.WebSocketURL, deviceID, trigger)
		notifier.Start(ctx)
		defer notifier.Stop()
	}

	// Initialize handlers
	controlHandler := handlers.NewControlHandler(syncSvc, trigger, queueRepo)
	healthHandler := handlers.NewHealthHandler()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware("propsync-agent"))
	if httpMetrics, mErr := observability.NewHTTPMetrics(); mErr == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", controlHandler.GetStatus)
		r.Post("/sync", controlHandler.TriggerSync)
		r.Get("/conflicts", controlHandler.ListConflicts)
		r.Post("/conflicts/{id}/resolve", controlHandler.ResolveConflict)
		r.Get("/queue", controlHandler.GetQueue)
		r.Post("/queue/purge", controlHandler.PurgeQueue)
		r.Post("/queue/{id}/retry", controlHandler.RetryChange)
	})

	// Swagger UI backed by the committed spec
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, "docs/swagger.json")
	})
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Create control API server
	srv := &http.Server{
		Addr:         cfg.ControlAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Sync trigger waits for the pass
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("PropSync agent control API listening on %s", cfg.ControlAddress)
		log.Printf("Sync server: %s, interval: %dm", cfg.ServerURL, cfg.Sync.IntervalMinutes)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Control API error: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Println("Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Control API forced to shutdown: %v", err)
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown failed: %v", err)
		}
	}

	log.Println("Agent stopped")
}
