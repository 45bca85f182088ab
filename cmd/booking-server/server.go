package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/booking/internal/config"
	"github.com/carebook/booking/internal/domain/scheduling"
	"github.com/carebook/booking/internal/platform/auth"
	"github.com/carebook/booking/internal/platform/db"
	"github.com/carebook/booking/internal/platform/metrics"
	"github.com/carebook/booking/internal/platform/middleware"
	"github.com/carebook/booking/internal/platform/notification"
	"github.com/carebook/booking/internal/platform/telemetry"
)

const version = "0.1.0"

// app is the assembled HTTP server and the resources it must release.
type app struct {
	echo       *echo.Echo
	dispatcher *notification.AsyncDispatcher
	pool       *pgxpool.Pool
	redis      *redis.Client
	logger     zerolog.Logger
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notification.Publisher, error) {
	if cfg.EventsQueueURL == "" {
		logger.Warn().Msg("EVENTS_QUEUE_URL not set; appointment events are only logged")
		return notification.NewLogPublisher(logger), nil
	}
	client, err := notification.NewSQSClient(ctx, notification.AWSOptions{
		Region:           cfg.AWSRegion,
		AccessKeyID:      cfg.AWSAccessKeyID,
		SecretAccessKey:  cfg.AWSSecretAccessKey,
		EndpointOverride: cfg.AWSEndpointOverride,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("queue", cfg.EventsQueueURL).Msg("publishing appointment events to SQS")
	return notification.NewSQSPublisher(client, cfg.EventsQueueURL), nil
}

// newApp wires storage, the provider directory, event publishing and the
// HTTP surface from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	var (
		appts     scheduling.AppointmentRepository
		providers scheduling.ProviderStore
	)
	if cfg.UsesMemoryLedger() {
		logger.Warn().Msg("DATABASE_URL not set; bookings are held in memory")
		appts = scheduling.NewMemoryLedger()
		providers = scheduling.NewStaticDirectory()
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		logger.Info().Msg("connected to database")
		appts = scheduling.NewAppointmentRepoPG(pool)
		providers = scheduling.NewProviderDirectoryPG(pool)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		providers = scheduling.NewCachedDirectory(providers, a.redis, cfg.ProviderCacheTTL, logger)
		logger.Info().Dur("ttl", cfg.ProviderCacheTTL).Msg("provider availability cache enabled")
	}

	if cfg.ProvidersFile != "" {
		if err := a.seedProviders(ctx, cfg, providers); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	pub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.dispatcher = notification.NewAsyncDispatcher(pub, cfg.NotifyBuffer, logger, bookingMetrics)

	svc := scheduling.NewService(appts, providers,
		scheduling.WithPolicies(cfg.Policies()),
		scheduling.WithDispatcher(a.dispatcher),
		scheduling.WithMetrics(bookingMetrics),
		scheduling.WithLogger(logger),
	)

	a.echo = a.routes(cfg, reg, telemetry.NewHTTPMetrics(reg), scheduling.NewHandler(svc))
	return a, nil
}

// seedProviders loads PROVIDERS_FILE into the default clinic's directory.
func (a *app) seedProviders(ctx context.Context, cfg *config.Config, store scheduling.ProviderStore) error {
	f, err := os.Open(cfg.ProvidersFile)
	if err != nil {
		return fmt.Errorf("open providers file: %w", err)
	}
	defer f.Close()

	list, err := scheduling.LoadProviders(f)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, db.TenantIDKey, cfg.DefaultTenant)
	if a.pool != nil {
		conn, err := tenantConn(ctx, a.pool, cfg.DefaultTenant)
		if err != nil {
			return err
		}
		defer conn.Release()
		ctx = context.WithValue(ctx, db.DBConnKey, conn)
	}

	for _, p := range list {
		if p.TimeZone == "" {
			p.TimeZone = cfg.DefaultTimeZone
		}
		if err := store.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed provider %s: %w", p.ProviderID, err)
		}
	}
	a.logger.Info().Int("count", len(list)).Str("file", cfg.ProvidersFile).Msg("seeded provider directory")
	return nil
}

func (a *app) routes(cfg *config.Config, reg *prometheus.Registry, httpMetrics *telemetry.HTTPMetrics, h *scheduling.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(telemetry.Tracing(nil))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	api := e.Group("/api/v1")
	if cfg.RequestTimeout > 0 {
		api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		a.logger.Warn().Msg("development mode: DevAuthMiddleware is active, requests without X-User-Role get admin access")
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	if a.pool != nil {
		api.Use(db.TenantMiddleware(a.pool, cfg.DefaultTenant))
	} else {
		api.Use(db.TenantContext(cfg.DefaultTenant))
	}

	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rl))

	h.RegisterRoutes(api)
	return e
}

// Close drains pending events and releases connections.
func (a *app) Close(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("event dispatcher did not drain")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// run serves until ctx is cancelled, then shuts down within 10s.
func (a *app) run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("starting booking server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.Close(closeCtx)
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server shutdown error")
	}
	a.Close(shutdownCtx)
	return nil
}
