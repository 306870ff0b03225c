// Package app builds the infrastructure shared by the API, the worker and the
// tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Developersbbs/Rental-client-sub001/internal/config"
	"github.com/Developersbbs/Rental-client-sub001/internal/events"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
	"github.com/Developersbbs/Rental-client-sub001/internal/resilience"
)

// NewPool connects to PostgreSQL with query tracing enabled.
func NewPool(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis connects to Redis and installs OpenTelemetry hooks. Instrumentation
// failures are logged and do not prevent startup.
func NewRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TaskRedis returns the asynq connection options for the configured Redis.
func TaskRedis(redisURL string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}

// NewOutboundClient returns a retrying, circuit-broken HTTP client for the
// named upstream, plus its breaker for readiness reporting.
func NewOutboundClient(cfg *config.Config, target string, logger zerolog.Logger) (resilience.HTTPClient, *resilience.Breaker) {
	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget(target).
		WithLogger(logger)
	l := logger.With().Str("upstream", target).Logger()
	return resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker:     breaker,
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.OutboundTimeout,
		Target:      target,
		Logger:      &l,
	}, breaker
}

// NewEventBus builds the billing event bus. Events are always logged and, when
// brokers are configured, published to Kafka. The returned closer releases the
// producer.
func NewEventBus(cfg *config.Config, store events.EventStore, clientID string, logger zerolog.Logger) (*events.Bus, func() error, error) {
	bus := &events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
	}
	closer := func() error { return nil }
	if !cfg.KafkaEnabled() {
		return bus, closer, nil
	}
	producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, clientID)
	if err != nil {
		return nil, closer, err
	}
	bus.Notifiers = append(bus.Notifiers, events.KafkaNotifier{Producer: producer, Topic: cfg.KafkaTopic})
	return bus, closeProducer(producer), nil
}

func closeProducer(p sarama.SyncProducer) func() error {
	return func() error { return p.Close() }
}

// ReadinessChecker probes PostgreSQL and Redis for the readiness endpoint.
type ReadinessChecker struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// PingDB implements health.Checker.
func (c ReadinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (c ReadinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Redis.Ping(ctx).Err()
}
