package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"contest-core/internal/config"
	"contest-core/internal/container"
	"contest-core/internal/handler"
	"contest-core/internal/middleware"
	"contest-core/pkg/logger"
)

const version = "1.0.0"

// Resources holds all resources that need cleanup
type Resources struct {
	container   *container.Container
	server      *http.Server
	stopLimiter context.CancelFunc
	log         *logger.Logger
	mu          sync.Mutex
	closed      bool
}

// Cleanup gracefully closes all resources
func (r *Resources) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errors []error

	r.log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first to stop accepting new requests
	if r.server != nil {
		r.log.Info("Shutting down HTTP server...")
		if err := r.server.Shutdown(ctx); err != nil {
			r.log.WithError(err).Error("Failed to shutdown HTTP server")
			errors = append(errors, fmt.Errorf("HTTP server shutdown: %w", err))
		} else {
			r.log.Info("HTTP server shutdown complete")
		}
	}

	if r.stopLimiter != nil {
		r.stopLimiter()
	}

	// Stop background workers before their stores go away
	r.log.Info("Stopping background workers...")
	if err := r.container.StopWorkers(ctx); err != nil {
		r.log.WithError(err).Error("Failed to stop background workers")
		errors = append(errors, fmt.Errorf("worker shutdown: %w", err))
	} else {
		r.log.Info("Background workers stopped successfully")
	}

	r.log.Info("Closing Redis and database connections...")
	if err := r.container.Close(ctx); err != nil {
		errors = append(errors, fmt.Errorf("connection close: %w", err))
	}

	if len(errors) > 0 {
		r.log.WithField("error_count", len(errors)).Error("Cleanup completed with errors")
		return fmt.Errorf("cleanup completed with %d errors: %v", len(errors), errors)
	}

	r.log.Info("Graceful shutdown completed successfully")
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Options{
		Level:       cfg.LogLevel,
		Service:     "contest-core",
		Environment: cfg.Environment,
		Console:     cfg.Environment == "development",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"port":        cfg.Port,
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
	}).Info("Starting contest-core server")

	ctx := context.Background()

	// Create dependency injection container
	c, err := container.New(ctx, cfg, log, container.Options{})
	if err != nil {
		log.WithError(err).Fatal("Failed to create container")
	}

	if err := c.StartWorkers(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start background workers")
	}

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	go limiter.Run(limiterCtx)

	// Setup router
	router := setupRouter(c, limiter)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}

	resources := &Resources{
		container:   c,
		server:      server,
		stopLimiter: stopLimiter,
		log:         log,
	}

	// Setup graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Cleanup runs regardless of how the program exits
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := resources.Cleanup(cleanupCtx); err != nil {
			log.WithError(err).Error("Cleanup completed with errors")
		}
	}()

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Server starting on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Server error occurred")
			serverErrChan <- err
		}
	}()

	// Wait for interrupt signal or server error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrChan:
		log.WithError(err).Error("Server failed, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := resources.Cleanup(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown completed with errors")
		os.Exit(1)
	}

	log.Info("Application shutdown complete")
}

// setupRouter configures and returns the HTTP router
func setupRouter(c *container.Container, limiter *middleware.RateLimiter) *chi.Mux {
	cfg := c.Config
	log := c.Logger
	services := c.Services

	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.AllowedOrigins

	r.Use(middleware.CORS(corsConfig, log))
	r.Use(middleware.RequestID(log))
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Compress(5))
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	checks := map[string]handler.HealthChecker{}
	if c.HasDatabase() {
		checks["postgres"] = c.DB
	}
	if c.HasRedis() {
		checks["redis"] = c.RedisClient
	}

	healthHandler := handler.NewHealthHandler(checks, version, log)
	contestHandler := handler.NewContestHandler(services.Lifecycle, services.Submission, services.Ranking, log)
	voteHandler := handler.NewVoteHandler(services.Ledger, cfg.AllowAnonymousFreeVotes, log)
	paymentHandler := handler.NewPaymentHandler(services.Payment, log)
	adminHandler := handler.NewAdminHandler(services.Lifecycle, services.Submission, services.Ledger, services.Payment, log)
	testingHandler := handler.NewTestingHandler(services.Auth, cfg.Environment, log)

	authRequired := middleware.Auth(services.Auth, log)
	authOptional := middleware.OptionalAuth(services.Auth, log)

	// Health check (no auth, no rate limit)
	r.Get("/health", healthHandler.Check)

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Route("/v1", func(r chi.Router) {
			r.Route("/contests", func(r chi.Router) {
				r.Get("/", contestHandler.ListContests)
				r.Get("/{id}", contestHandler.GetContest)
				r.Get("/{id}/entries", contestHandler.ListEntries)
				r.Get("/{id}/ranking", contestHandler.GetRanking)
				r.With(authRequired).Post("/{id}/entries", contestHandler.SubmitEntry)
			})

			r.With(authOptional).Post("/votes/free", voteHandler.FreeVote)

			r.Route("/payments", func(r chi.Router) {
				r.Get("/packages", paymentHandler.ListPackages)

				r.Group(func(r chi.Router) {
					r.Use(authRequired)
					r.Post("/orders", paymentHandler.CreateOrder)
					r.Get("/orders/{ref}", paymentHandler.GetOrder)
					r.Post("/orders/{ref}/capture", paymentHandler.CaptureOrder)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(authRequired)
				r.Use(middleware.RequireAdmin(log))

				r.Get("/contests", adminHandler.ListContests)
				r.Post("/contests", adminHandler.CreateContest)
				r.Post("/contests/{id}/transition", adminHandler.TransitionContest)
				r.Post("/contests/{id}/archive", adminHandler.ArchiveContest)
				r.Delete("/contests/{id}", adminHandler.DeleteContest)
				r.Get("/contests/{id}/entries", adminHandler.ListEntries)
				r.Post("/entries/{id}/moderate", adminHandler.ModerateEntry)
				r.Get("/entries/{id}/ledger", adminHandler.EntryLedger)
				r.Get("/reconciliation", adminHandler.Reconciliation)
			})
		})

		// The handler itself returns 403 outside development
		r.Post("/testing/token", testingHandler.IssueToken)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"not_found","message":"Endpoint not found"}}`))
	})

	log.Info("Router configured successfully")
	return r
}
