package container

import (
	"context"
	"time"

	"contest-core/internal/config"
	"contest-core/internal/repository"
	"contest-core/internal/repository/memory"
	"contest-core/internal/service"
	"contest-core/internal/service/auth"
	"contest-core/internal/service/paypal"
	"contest-core/pkg/database"
	"contest-core/pkg/logger"
	"contest-core/pkg/redis"
)

// Services groups the application services
type Services struct {
	Auth       *auth.Service
	Lifecycle  *service.LifecycleService
	Submission *service.SubmissionService
	Ledger     *service.LedgerService
	Payment    *service.PaymentService
	Ranking    *service.RankingService
}

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *database.PostgresDB
	RedisClient  *redis.Client
	Repositories *repository.Repositories
	Services     *Services
	Workers      []service.Worker
}

// Options overrides collaborators, mostly for tests
type Options struct {
	Clock    service.Clock
	Provider service.PaymentProvider
}

// New creates a new dependency injection container. Postgres is used when
// DATABASE_URL is set, otherwise state lives in memory. Redis is optional.
func New(ctx context.Context, cfg *config.Config, logger *logger.Logger, opts Options) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, cfg.DatabaseReadURL)
		if err != nil {
			return nil, err
		}
		c.DB = db
		c.Repositories = repository.NewPostgresRepositories(db)
		logger.Info("Using Postgres repositories")
	} else {
		if cfg.IsProduction() {
			logger.Warn("DATABASE_URL not configured in production, state will not survive a restart")
		} else {
			logger.Info("DATABASE_URL not configured, using in-memory repositories")
		}
		c.Repositories = memory.NewStore().Repositories()
	}

	// Initialize Redis client if Redis URL is configured
	var cache service.SnapshotCache
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, logger.Logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize Redis client, proceeding without ranking cache")
		} else {
			c.RedisClient = client
			cache = service.NewCacheService(client, logger.Logger)
			logger.Info("Redis client initialized successfully")
		}
	} else {
		logger.Info("Redis URL not configured, proceeding without ranking cache")
	}

	clock := opts.Clock
	if clock == nil {
		clock = service.SystemClock{}
	}

	provider := opts.Provider
	if provider == nil {
		if cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "" {
			logger.Warn("PayPal credentials not configured, purchases will fail as provider unavailable")
		}
		provider = paypal.NewService(paypal.Config{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			Timeout:      cfg.PaymentProviderTimeout,
		}, logger.WithField("component", "paypal"))
	}

	ranking := service.NewRankingService(c.Repositories, cache, clock, logger.WithField("component", "ranking"))
	ledger := service.NewLedgerService(c.Repositories, cfg.FreeVoteCooldown, clock, logger.WithField("component", "ledger"))
	lifecycle := service.NewLifecycleService(c.Repositories, ranking, clock, logger.WithField("component", "lifecycle"))

	c.Services = &Services{
		Auth: auth.NewService(auth.Config{
			JWTSecret:      cfg.JWTSecret,
			GoogleClientID: cfg.GoogleClientID,
			AdminSubjects:  cfg.AdminSubjects,
		}, logger.WithField("component", "auth")),
		Lifecycle:  lifecycle,
		Submission: service.NewSubmissionService(c.Repositories, clock, logger.WithField("component", "submission")),
		Ledger:     ledger,
		Payment: service.NewPaymentService(c.Repositories, ledger, provider, service.PaymentConfig{
			Packages:        cfg.VotePackages,
			IntentTTL:       cfg.PaymentIntentTTL,
			ProviderTimeout: cfg.PaymentProviderTimeout,
		}, clock, logger.WithField("component", "payment")),
		Ranking: ranking,
	}

	c.Workers = []service.Worker{
		service.NewLifecycleWorker(lifecycle, cfg.LifecycleSyncInterval, logger),
		service.NewExpiryWorker(c.Services.Payment, cfg.ExpirySweepInterval, logger),
	}

	return c, nil
}

// StartWorkers starts every background worker
func (c *Container) StartWorkers(ctx context.Context) error {
	for _, w := range c.Workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopWorkers stops every background worker, waiting for in-flight runs
func (c *Container) StopWorkers(ctx context.Context) error {
	var firstErr error
	for _, w := range c.Workers {
		if err := w.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases Redis and the database pools
func (c *Container) Close(ctx context.Context) error {
	var firstErr error
	if c.RedisClient != nil {
		healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.RedisClient.Health(healthCtx); err != nil {
			c.Logger.WithError(err).Warn("Redis health check failed before closing")
		}
		cancel()

		if err := c.RedisClient.Close(); err != nil {
			c.Logger.WithError(err).Error("Failed to close Redis connection")
			firstErr = err
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
	return firstErr
}

// HasRedis returns true if Redis client is available
func (c *Container) HasRedis() bool {
	return c.RedisClient != nil
}

// HasDatabase returns true if Postgres is in use
func (c *Container) HasDatabase() bool {
	return c.DB != nil
}
