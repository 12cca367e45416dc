package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Pranjalshukla1602/task-manager/internal/auth"
	"github.com/Pranjalshukla1602/task-manager/internal/config"
	"github.com/Pranjalshukla1602/task-manager/internal/event"
	handler "github.com/Pranjalshukla1602/task-manager/internal/handler/http"
	"github.com/Pranjalshukla1602/task-manager/internal/repository/postgres"
	redisrepo "github.com/Pranjalshukla1602/task-manager/internal/repository/redis"
	"github.com/Pranjalshukla1602/task-manager/internal/service"
	"github.com/Pranjalshukla1602/task-manager/internal/sweeper"
	"github.com/Pranjalshukla1602/task-manager/migrations"
	"github.com/Pranjalshukla1602/task-manager/pkg/database"
	"github.com/Pranjalshukla1602/task-manager/pkg/health"
	"github.com/Pranjalshukla1602/task-manager/pkg/httpclient"
	pkgkafka "github.com/Pranjalshukla1602/task-manager/pkg/kafka"
	"github.com/Pranjalshukla1602/task-manager/pkg/tracing"
)

// processedEventTTL bounds how long consumed event ids are remembered.
const processedEventTTL = 24 * time.Hour

// App wires together all dependencies and runs the task-manager API.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	consumer       *pkgkafka.Consumer
	sweeper        *sweeper.Sweeper
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Anything opened before a failure is closed again.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			_ = a.closeResources()
		}
	}()

	var err error

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, cfg.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if threshold := cfg.SlowQuery(); threshold > 0 {
		database.SetSlowQueryLogging(threshold, logger)
	}

	// Initialize Redis.
	a.redis, err = database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

	// Kafka is optional; without it events are dropped.
	var publisher pkgkafka.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	codec := auth.NewCodec(auth.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessExpiry:  cfg.JWTAccessExpiry,
		RefreshExpiry: cfg.JWTRefreshExpiry,
	})
	userRepo := redisrepo.NewCachedUserRepository(
		postgres.NewUserRepository(a.pool), a.redis, cfg.UserCacheTTL, logger,
	)
	eventProducer := event.NewProducer(publisher, logger)

	var breach service.BreachChecker
	if cfg.BreachCheckEnabled {
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = cfg.BreachCheckTimeout
		clientCfg.MaxRetries = 1
		breaker := httpclient.NewCircuitBreakerClient(
			httpclient.New(clientCfg),
			httpclient.DefaultCircuitBreakerConfig("password-breach-check"),
			logger,
		)
		breach = service.NewPwnedPasswordsChecker(breaker, cfg.BreachCheckURL)
	}

	authService, err := service.NewAuthService(userRepo, codec, eventProducer, breach, service.Config{
		BcryptCost:       cfg.BcryptCost,
		MaxSessions:      cfg.MaxConcurrentSessions,
		MaxLoginAttempts: cfg.MaxLoginAttempts,
		LockDuration:     cfg.LockDuration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	if cfg.KafkaEnabled {
		handlerFn := pkgkafka.IdempotentHandler(
			pkgkafka.NewRedisIdempotencyStore(a.redis, processedEventTTL),
			event.AccountStatusHandler(authService, logger),
			logger,
		)
		a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   cfg.KafkaGroupID,
			Topic:     event.TopicAccountStatusChanged,
			EnableDLQ: true,
		}, handlerFn, logger)
	}

	a.sweeper = sweeper.New(userRepo, cfg.SessionSweepInterval, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	// HTTP router.
	router := handler.NewRouter(authService, healthHandler, handler.RouterConfig{
		ServiceName: cfg.ServiceName,
		Version:     cfg.Version,
		Environment: cfg.Environment,
		CORSOrigins: cfg.CORSAllowedOrigins,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ready = true
	return a, nil
}

// Run starts the HTTP server, the session sweeper and the account status
// consumer, and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(workCtx)
	}()

	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.consumer.Start(workCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("component failed, shutting down", slog.String("error", runErr.Error()))
	}

	stopWork()
	wg.Wait()
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer and producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
