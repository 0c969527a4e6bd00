package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/org"
	"github.com/clinic/clinic/internal/domain/tenantctx"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/cache"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/tenancy"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadBaseline(cfg *config.Config) (*tenantctx.Baseline, error) {
	if cfg.BaselineFile != "" {
		return tenantctx.LoadBaselineFile(cfg.BaselineFile)
	}
	return tenantctx.DefaultBaseline()
}

// stores bundles the database-backed services shared by serve and the CLI.
type stores struct {
	pool      *pgxpool.Pool
	org       *org.Service
	overrides tenantctx.OverrideStore
	kv        cache.KV
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, err
	}

	orgSvc := org.NewService(org.NewTenantRepo(pool), org.NewCompanyRepo(pool), org.NewBranchRepo(pool))
	orgSvc.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	})

	s := &stores{pool: pool, org: orgSvc, overrides: tenantctx.NewOverrideRepo(pool)}
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, override cache disabled")
		} else {
			s.kv = cache.NewRedisKV(client)
			s.overrides = tenantctx.NewCachedOverrideStore(s.overrides, s.kv, cfg.OverrideCacheTTL, logger)
			logger.Info().Dur("ttl", cfg.OverrideCacheTTL).Msg("override cache enabled")
		}
	}
	return s, nil
}

func (s *stores) Close() {
	if closer, ok := s.kv.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	s.pool.Close()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// app carries what newRouter wires into HTTP routes.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      db.Pinger
	cache     pinger
	tenantCtx *tenantctx.Service
	org       *org.Service
	registry  *prometheus.Registry
}

func newRouter(a app) *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	if a.registry != nil {
		e.Use(middleware.NewHTTPMetrics(a.registry).Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID", "X-Company-ID", "X-Branch-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.JWKSURL(),
		SigningKey: cfg.SigningKey(),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		a.logger.Warn().Msg("development authentication active: requests without a token act as admin")
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Tenant scope middleware
	e.Use(tenancy.Middleware(cfg.DefaultTenantID()))

	apiV1 := e.Group("/api/v1")
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	apiV1.Use(middleware.RateLimit(rl))

	tenantctx.NewHandler(a.tenantCtx, a.logger).RegisterRoutes(apiV1)
	if a.org != nil {
		org.NewHandler(a.org).RegisterRoutes(apiV1)
	}

	// Health check
	baselineVersion := a.tenantCtx.Baseline().Version
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":   "ok",
			"baseline": baselineVersion,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	if a.cache != nil {
		e.GET("/health/cache", cacheHealthHandler(a.cache))
	}
	if a.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}
	return e
}

func cacheHealthHandler(kv pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := kv.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	baseline, err := loadBaseline(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load platform baseline")
	}
	logger.Info().Str("version", baseline.Version).Msg("platform baseline loaded")

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()
	logger.Info().Msg("connected to database")

	svc := tenantctx.NewService(baseline, st.overrides, hierarchyAdapter{org: st.org}, logger)

	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		svc.SetMetrics(tenantctx.NewMetrics(registry))
	}

	a := app{
		cfg:       cfg,
		logger:    logger,
		pool:      st.pool,
		tenantCtx: svc,
		org:       st.org,
		registry:  registry,
	}
	if p, ok := st.kv.(pinger); ok {
		a.cache = p
	}
	e := newRouter(a)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
