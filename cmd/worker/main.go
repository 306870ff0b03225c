package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/app"
	"github.com/Developersbbs/Rental-client-sub001/internal/config"
	"github.com/Developersbbs/Rental-client-sub001/internal/invoicing"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
	"github.com/Developersbbs/Rental-client-sub001/internal/repo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "billing-worker",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("tracing disabled")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := app.NewPool(initCtx, cfg.DatabaseURL, "billing-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise database")
	}
	defer pool.Close()

	store := repo.NewBillStore(pool)
	bus, closeBus, err := app.NewEventBus(cfg, store, "billing-worker", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise event bus")
	}
	defer func() {
		if err := closeBus(); err != nil {
			logger.Error().Err(err).Msg("close event producer")
		}
	}()

	ledgerHTTP, _ := app.NewOutboundClient(cfg, "ledger", logger)
	handler := ledger.TaskHandler{
		Creditor: &ledger.Client{BaseURL: cfg.LedgerBaseURL, Token: cfg.LedgerAPIToken, HTTP: ledgerHTTP},
		Status:   store,
		Failures: invoicing.CreditFailureEvents{Events: bus, Logger: &logger},
		Logger:   logger,
	}

	taskRedis, err := app.TaskRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task queue")
	}
	srv := asynq.NewServer(taskRedis, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{ledger.QueueName: 1},
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler:    taskErrorLogger(logger),
	})

	tasks := asynq.NewClient(taskRedis)
	defer func() { _ = tasks.Close() }()
	sweeper := ledger.Sweeper{
		Source: store,
		Queue:  ledger.Enqueuer{Client: tasks, MaxRetry: cfg.LedgerCreditMaxRetry},
		Grace:  cfg.LedgerSweepGrace,
		Batch:  200,
		Logger: logger.With().Str("task", ledger.TypeSweepPending).Logger(),
	}

	mux := asynq.NewServeMux()
	mux.Handle(ledger.TypeCreditAccount, handler)
	mux.Handle(ledger.TypeSweepPending, sweeper)

	scheduler := asynq.NewScheduler(taskRedis, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register("@every "+cfg.LedgerSweepInterval.String(), ledger.NewSweepTask(cfg.LedgerSweepInterval)); err != nil {
		logger.Fatal().Err(err).Msg("schedule pending credit sweep")
	}

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Dur("sweep_interval", cfg.LedgerSweepInterval).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func taskErrorLogger(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn().
			Err(err).
			Str("task", task.Type()).
			Int("retried", retried).
			Int("max_retry", maxRetry).
			Msg("task failed")
	})
}
