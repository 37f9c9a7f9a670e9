package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/pwannenmacher/MetaRate/docs" // This is for Swagger
	"github.com/pwannenmacher/MetaRate/internal/assignment"
	"github.com/pwannenmacher/MetaRate/internal/auth"
	"github.com/pwannenmacher/MetaRate/internal/config"
	"github.com/pwannenmacher/MetaRate/internal/database"
	"github.com/pwannenmacher/MetaRate/internal/handlers"
	"github.com/pwannenmacher/MetaRate/internal/logger"
	"github.com/pwannenmacher/MetaRate/internal/metrics"
	"github.com/pwannenmacher/MetaRate/internal/middleware"
	"github.com/pwannenmacher/MetaRate/internal/progress"
	"github.com/pwannenmacher/MetaRate/internal/reportstore"
	"github.com/pwannenmacher/MetaRate/internal/repository"
	"github.com/pwannenmacher/MetaRate/internal/review"
	"github.com/pwannenmacher/MetaRate/internal/roster"
	"github.com/pwannenmacher/MetaRate/internal/scheduler"
	"github.com/pwannenmacher/MetaRate/migrations"
)

// @title MetaRate API
// @version 1.0
// @description Review assignment and progress tracking for rating generated radiology reports
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Setup(logger.Config{Level: cfg.Log.Level})
	slog.Info("Starting MetaRate", "version", cfg.App.Version, "env", cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run database migrations
	migrationFS, err := fs.Sub(migrations.FS, string(db.Dialect))
	if err != nil {
		slog.Error("Failed to open migrations", "error", err)
		os.Exit(1)
	}
	if err := database.NewMigrationExecutor(db.DB, db.Dialect).RunMigrations(migrationFS); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations completed")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db.DB, db.Dialect)
	sessionRepo := repository.NewSessionRepository(db.DB, db.Dialect)

	actionLog, err := newActionLog(&cfg.Storage, db)
	if err != nil {
		slog.Error("Failed to initialize action log", "error", err)
		os.Exit(1)
	}

	// Reports and pool assignment
	source, err := newReportSource(ctx, &cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize report source", "error", err)
		os.Exit(1)
	}
	resolver, err := assignment.NewResolver(cfg.Storage.MappingFile, cfg.Storage.DefaultPool)
	if err != nil {
		slog.Error("Failed to load pool mapping", "path", cfg.Storage.MappingFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Pool assignment loaded", "pools", resolver.Pools())
	reports := reportstore.NewStore(source)
	index, closeIndex := newRatedIndex(ctx, &cfg.Redis, actionLog)
	defer closeIndex()
	tracker := progress.NewTracker(resolver, reports, index)

	// Initialize services
	authService := auth.NewService(&cfg.JWT)
	rosterService := roster.NewService(userRepo, authService)
	if err := rosterService.ImportFile(ctx, cfg.Storage.RosterFile); err != nil {
		if !errors.Is(err, roster.ErrConfigMissing) {
			slog.Error("Failed to import roster", "path", cfg.Storage.RosterFile, "error", err)
			os.Exit(1)
		}
		slog.Error("No user roster configured, logins will be refused", "path", cfg.Storage.RosterFile)
	}
	if err := rosterService.Bootstrap(ctx, cfg.Storage.BootstrapAdmin); err != nil {
		slog.Error("Failed to initialize admin flags", "error", err)
		os.Exit(1)
	}

	appMetrics := metrics.New()
	machine := review.NewMachine(rosterService, tracker, actionLog, appMetrics)
	registry := review.NewRegistry(sessionRepo, cfg.Session.Timeout)
	adminView := review.NewAdminView(actionLog, userRepo)

	if n, err := sessionRepo.DeleteExpired(ctx); err != nil {
		slog.Warn("Failed to purge expired sessions", "error", err)
	} else if n > 0 {
		slog.Info("Purged expired sessions", "count", n)
	}

	tasks := scheduler.NewScheduler(
		scheduler.SessionCleanupTask(sessionRepo, cfg.Scheduler.SessionCleanupInterval),
		scheduler.PoolReloadTask(resolver, reports, cfg.Scheduler.MappingReloadInterval),
	)
	tasks.Start(ctx)
	defer tasks.Stop()

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(authService, registry)
	corsMw := middleware.NewCORSMiddleware(&cfg.CORS)
	rateLimiter := middleware.NewRateLimiter(ctx, &cfg.RateLimit)

	// Setup router
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux,
		authMw,
		handlers.NewAuthHandler(machine, registry, authService),
		handlers.NewReviewHandler(machine, registry, tracker),
		handlers.NewAdminHandler(machine, registry, adminView),
	)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"error"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"` + cfg.App.Version + `"}`))
	})

	mux.Handle("GET /metrics", appMetrics.Handler())

	// Swagger documentation
	mux.Handle(middleware.SwaggerPathPrefix, httpSwagger.WrapHandler)

	// Apply global middleware
	handler := middleware.SecurityHeaders(
		corsMw.Handler(
			rateLimiter.Limit(
				appMetrics.Instrument(
					middleware.LoggingMiddleware(mux),
				),
			),
		),
	)

	// Create server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.TimeoutRead,
		WriteTimeout: cfg.Server.TimeoutWrite,
		IdleTimeout:  cfg.Server.TimeoutIdle,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		stop()
	}

	slog.Info("Server shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := getContext(30 * time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
