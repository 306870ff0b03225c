// Package config loads the billing service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const defaultPort = "8080"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	JWTClockSkew       time.Duration
	CORSAllowedOrigins []string

	CatalogBaseURL  string
	CatalogCacheTTL time.Duration
	LedgerBaseURL   string
	LedgerAPIToken  string

	OutboundTimeout      time.Duration
	RetryMaxAttempts     int
	RetryBase            time.Duration
	RetryJitterPercent   float64
	CircuitMinRequests   int
	CircuitFailureRate   float64
	CircuitOpenFor       time.Duration
	LockTTL              time.Duration
	LockRetryBackoff     time.Duration
	IdempotencyTTL       time.Duration
	RateLimitPayments    string
	BodyLimitBytes       int64
	SecurityHeaders      bool
	LedgerCreditMaxRetry int
	LedgerSweepInterval  time.Duration
	LedgerSweepGrace     time.Duration
	WorkerConcurrency    int
	AutoMigrate          bool

	KafkaBrokers []string
	KafkaTopic   string

	HSTS               bool
	HSTSMaxAge         int
	HealthDBTimeout    time.Duration
	HealthRedisTimeout time.Duration
	ShutdownTimeout    time.Duration

	Obs Observability
}

// Observability holds the OBS_* knobs shared by the API and the worker.
type Observability struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPassword    string
}

// reader wraps koanf with typed getters that fall back to a default when the
// key is unset or unparsable.
type reader struct{ k *koanf.Koanf }

func (r reader) str(key, fallback string) string {
	if v := strings.TrimSpace(r.k.String(key)); v != "" {
		return v
	}
	return fallback
}

func (r reader) url(key string) string {
	return strings.TrimRight(r.str(key, ""), "/")
}

func (r reader) list(key string) []string {
	raw := r.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r reader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(r.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (r reader) int(key string, fallback int) int {
	if n, err := strconv.Atoi(r.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (r reader) float(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(r.str(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

func (r reader) bool(key string, fallback bool) bool {
	switch strings.ToLower(r.str(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	r := reader{k: k}

	cfg := &Config{
		AppEnv:             r.str("APP_ENV", "development"),
		Port:               r.str("PORT", defaultPort),
		DatabaseURL:        r.str("DATABASE_URL", ""),
		RedisURL:           r.str("REDIS_URL", ""),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          r.str("JWT_ISSUER", ""),
		JWTAudience:        r.str("JWT_AUDIENCE", ""),
		JWTClockSkew:       r.duration("JWT_CLOCK_SKEW", 30*time.Second),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),

		CatalogBaseURL:  r.url("CATALOG_BASE_URL"),
		CatalogCacheTTL: r.duration("CATALOG_CACHE_TTL", 5*time.Minute),
		LedgerBaseURL:   r.url("LEDGER_BASE_URL"),
		LedgerAPIToken:  k.String("LEDGER_API_TOKEN"),

		OutboundTimeout:      r.duration("OUTBOUND_TIMEOUT", 5*time.Second),
		RetryMaxAttempts:     r.int("RETRY_MAX_ATTEMPTS", 3),
		RetryBase:            r.duration("RETRY_BASE", 200*time.Millisecond),
		RetryJitterPercent:   r.float("RETRY_JITTER_PERCENT", 0.2),
		CircuitMinRequests:   r.int("CIRCUIT_MIN_REQUESTS", 5),
		CircuitFailureRate:   r.float("CIRCUIT_FAILURE_RATE", 0.5),
		CircuitOpenFor:       r.duration("CIRCUIT_OPEN_FOR", 30*time.Second),
		LockTTL:              r.duration("LOCK_TTL", 10*time.Second),
		LockRetryBackoff:     r.duration("LOCK_RETRY_BACKOFF", 25*time.Millisecond),
		IdempotencyTTL:       r.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		RateLimitPayments:    r.str("RATE_LIMIT_PAYMENTS", "60-M"),
		BodyLimitBytes:       int64(r.int("BODY_LIMIT_BYTES", 1<<20)),
		SecurityHeaders:      r.bool("SECURITY_HEADERS", true),
		LedgerCreditMaxRetry: r.int("LEDGER_CREDIT_MAX_RETRY", 12),
		LedgerSweepInterval:  r.duration("LEDGER_SWEEP_INTERVAL", time.Minute),
		LedgerSweepGrace:     r.duration("LEDGER_SWEEP_GRACE", 2*time.Minute),
		WorkerConcurrency:    r.int("WORKER_CONCURRENCY", 5),
		AutoMigrate:          r.bool("AUTO_MIGRATE", false),

		KafkaBrokers: r.list("KAFKA_BROKERS"),
		KafkaTopic:   r.str("KAFKA_TOPIC", "billing.events"),

		HSTSMaxAge:         r.int("SECURITY_HSTS_MAX_AGE", 0),
		HealthDBTimeout:    r.duration("HEALTH_READY_DB_TIMEOUT", 500*time.Millisecond),
		HealthRedisTimeout: r.duration("HEALTH_READY_REDIS_TIMEOUT", 300*time.Millisecond),
		ShutdownTimeout:    r.duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		Obs: Observability{
			LogFormat:        r.str("OBS_LOG_FORMAT", "json"),
			LogLevel:         r.str("OBS_LOG_LEVEL", "info"),
			MetricsEnabled:   r.bool("OBS_ENABLE_PROMETHEUS", true),
			MetricsNamespace: r.str("OBS_METRICS_NAMESPACE", "billing"),
			MetricsBuckets:   r.str("OBS_METRICS_BUCKETS_MS", ""),
			TracingEnabled:   r.bool("OBS_ENABLE_TRACING", true),
			TracingExporter:  r.str("OBS_TRACING_EXPORTER", "otlp"),
			OTLPEndpoint:     r.str("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio:    r.float("OBS_TRACING_SAMPLING_RATIO", 1),
			PprofEnabled:     r.bool("OBS_ENABLE_PPROF", false),
			PprofUser:        r.str("SECURE_PPROF_BASIC_AUTH_USER", ""),
			PprofPassword:    k.String("SECURE_PPROF_BASIC_AUTH_PASS"),
		},
	}
	cfg.HSTS = r.bool("SECURITY_HSTS", cfg.AppEnv == "production")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	for key, value := range map[string]string{
		"DATABASE_URL": c.DatabaseURL,
		"REDIS_URL":    c.RedisURL,
		"JWT_SECRET":   c.JWTSecret,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.CircuitFailureRate <= 0 || c.CircuitFailureRate > 1 {
		errs = append(errs, fmt.Errorf("CIRCUIT_FAILURE_RATE must be in (0, 1], got %v", c.CircuitFailureRate))
	}
	if c.Obs.PprofEnabled && c.AppEnv == "production" && c.Obs.PprofUser == "" {
		errs = append(errs, errors.New("OBS_ENABLE_PPROF requires SECURE_PPROF_BASIC_AUTH_USER in production"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive"))
	}
	if c.LedgerSweepInterval < time.Second {
		errs = append(errs, errors.New("LEDGER_SWEEP_INTERVAL must be at least 1s"))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	switch {
	case port == "":
		return ":" + defaultPort
	case strings.HasPrefix(port, ":"):
		return port
	default:
		return ":" + port
	}
}

// KafkaEnabled reports whether billing events should be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// LoadForTests sets env for the duration of a Load call and restores the
// previous values afterwards. An empty value unsets the variable.
func LoadForTests(env map[string]string) (*Config, error) {
	previous := make(map[string]*string, len(env))
	for key, value := range env {
		if old, ok := os.LookupEnv(key); ok {
			previous[key] = &old
		} else {
			previous[key] = nil
		}
		if err := setEnv(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()

	var restoreErrs []error
	for key, old := range previous {
		if old == nil {
			restoreErrs = append(restoreErrs, os.Unsetenv(key))
			continue
		}
		restoreErrs = append(restoreErrs, os.Setenv(key, *old))
	}
	if err != nil {
		return nil, err
	}
	if rerr := errors.Join(restoreErrs...); rerr != nil {
		return nil, fmt.Errorf("restore env: %w", rerr)
	}
	return cfg, nil
}

func setEnv(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}
