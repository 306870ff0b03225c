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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/app"
	"github.com/Developersbbs/Rental-client-sub001/internal/auth"
	"github.com/Developersbbs/Rental-client-sub001/internal/catalog"
	"github.com/Developersbbs/Rental-client-sub001/internal/common"
	"github.com/Developersbbs/Rental-client-sub001/internal/config"
	"github.com/Developersbbs/Rental-client-sub001/internal/health"
	"github.com/Developersbbs/Rental-client-sub001/internal/invoicing"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/lock"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
	"github.com/Developersbbs/Rental-client-sub001/internal/ratelimit"
	"github.com/Developersbbs/Rental-client-sub001/internal/repo"
	"github.com/Developersbbs/Rental-client-sub001/internal/resilience"
	"github.com/Developersbbs/Rental-client-sub001/internal/security"
)

const serviceName = "billing-api"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "billing-api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracing := cfg.Obs.TracingEnabled
	if tracing {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("tracing disabled")
			tracing = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.AutoMigrate {
		if err := repo.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := app.NewPool(startCtx, cfg.DatabaseURL, serviceName)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	rdb, err := app.NewRedis(startCtx, cfg.RedisURL, cfg.Obs.MetricsEnabled, logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeLogged(logger, "redis", rdb.Close)

	taskRedis, err := app.TaskRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	tasks := asynq.NewClient(taskRedis)
	defer closeLogged(logger, "task client", tasks.Close)

	store := repo.NewBillStore(pool)
	bus, closeBus, err := app.NewEventBus(cfg, store, serviceName, logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer closeLogged(logger, "event producer", closeBus)

	catalogHTTP, catalogBreaker := app.NewOutboundClient(cfg, "catalog", logger)
	ledgerHTTP, ledgerBreaker := app.NewOutboundClient(cfg, "ledger", logger)

	catalogCache := catalog.NewCache(rdb, cfg.CatalogCacheTTL)
	svc := &invoicing.Service{
		Store: store,
		Locker: lock.Locker{
			R:            rdb,
			RetryBackoff: cfg.LockRetryBackoff,
			MaxWait:      cfg.LockTTL,
			OnAcquire: func(waited time.Duration) {
				obs.Observe(obs.LockWaitLatency, obs.DurationMillis(waited))
			},
		},
		Catalog: &catalog.Client{
			BaseURL: cfg.CatalogBaseURL,
			HTTP:    catalogHTTP,
			Cache:   catalogCache,
			Logger:  logger,
		},
		Creditor: &ledger.Client{BaseURL: cfg.LedgerBaseURL, Token: cfg.LedgerAPIToken, HTTP: ledgerHTTP},
		Retries:  ledger.Enqueuer{Client: tasks, MaxRetry: cfg.LedgerCreditMaxRetry},
		Events:   bus,
		Logger:   logger,
		LockTTL:  cfg.LockTTL,
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}

	router := newRouter(routerDeps{
		cfg:     cfg,
		logger:  logger,
		tracing: tracing,
		bills:   &invoicing.Handler{Svc: svc, Validate: common.NewValidator()},
		catalog: catalog.Handler{Cache: catalogCache, Logger: logger},
		auth:    auth.Middleware{Verifier: verifier},
		writes:  paymentMiddleware(cfg, rdb, logger),
		health: health.Handler{
			Checker:      app.ReadinessChecker{DB: pool, Redis: rdb},
			DBTimeout:    cfg.HealthDBTimeout,
			RedisTimeout: cfg.HealthRedisTimeout,
			Breakers:     map[string]*resilience.Breaker{"catalog": catalogBreaker, "ledger": ledgerBreaker},
		},
	})
	return serve(cfg, router, logger)
}

// paymentMiddleware returns the chain guarding bill writes: the per-user rate
// limit, when its store is usable, followed by idempotency replay.
func paymentMiddleware(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) []func(http.Handler) http.Handler {
	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}
	store, err := ratelimit.NewRedisStore(rdb, "billing:ratelimit")
	if err != nil {
		logger.Error().Err(err).Msg("payment rate limit disabled")
		return []func(http.Handler) http.Handler{idem.Middleware}
	}
	limiter, err := ratelimit.New(store, cfg.RateLimitPayments)
	if err != nil {
		logger.Error().Err(err).Str("rate", cfg.RateLimitPayments).Msg("payment rate limit disabled")
		return []func(http.Handler) http.Handler{idem.Middleware}
	}
	limit := ratelimit.Handler{
		Limiter: limiter,
		Key:     ratelimit.ByUserOrIP,
		Scope:   "payments",
		OnError: func(ctx context.Context, err error) {
			logger.Warn().Err(err).Msg("rate limit store unavailable")
		},
	}
	return []func(http.Handler) http.Handler{limit.Middleware, idem.Middleware}
}

type routerDeps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	tracing bool
	bills   *invoicing.Handler
	catalog catalog.Handler
	auth    auth.Middleware
	writes  []func(http.Handler) http.Handler
	health  health.Handler
}

func newRouter(d routerDeps) chi.Router {
	cfg := d.cfg
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, obs.RoutePatternMiddleware)
	if d.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		metrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Use(obs.RequestLogger{Logger: d.logger}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTS, HSTSMaxAge: cfg.HSTSMaxAge}.Middleware)

	if cfg.Obs.PprofEnabled {
		r.Mount(obs.ProfilingPath, obs.ProfilingHandler(cfg.Obs.PprofUser, cfg.Obs.PprofPassword))
	}
	r.Get("/health/live", d.health.Live)
	r.Get("/health/ready", d.health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(d.auth.RequireAuth)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		d.bills.Register(v, d.writes...)
		d.catalog.Register(v)
	})
	return r
}

// serve runs the HTTP server until SIGINT or SIGTERM, then drains it.
func serve(cfg *config.Config, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		health.SetReady(true)
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func closeLogged(logger zerolog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error().Err(err).Str("component", what).Msg("close failed")
	}
}
