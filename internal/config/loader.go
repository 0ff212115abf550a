package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "personacore.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this struct.
type CLIFlags struct {
	ConfigPath *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Call this before Load/LoadWithCLI. Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("personacore", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "log-level":
			flags.LogLevel = logLevel
		case "dsn":
			flags.DSN = dsn
		case "nats-url":
			flags.NatsURL = natsURL
		}
	})

	return flags, nil
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, yamlPath, nil
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PERSONACORE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PERSONACORE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PERSONACORE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PERSONACORE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PERSONACORE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "PERSONACORE_NATS_SUBJECT_PREFIX")

	setString(&cfg.Logging.Level, "PERSONACORE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PERSONACORE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PERSONACORE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "PERSONACORE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PERSONACORE_BREAKER_TIMEOUT")

	setDuration(&cfg.Scheduler.EventBusInterval, "PERSONACORE_SCHED_EVENT_BUS_INTERVAL")
	setDuration(&cfg.Scheduler.TriggerInterval, "PERSONACORE_SCHED_TRIGGER_INTERVAL")
	setDuration(&cfg.Scheduler.PollingInterval, "PERSONACORE_SCHED_POLLING_INTERVAL")
	setDuration(&cfg.Scheduler.PollingInitialDelay, "PERSONACORE_SCHED_POLLING_INITIAL_DELAY")
	setDuration(&cfg.Scheduler.EventCleanupInterval, "PERSONACORE_SCHED_EVENT_CLEANUP_INTERVAL")
	setDuration(&cfg.Scheduler.CredentialRotationInterval, "PERSONACORE_SCHED_CRED_ROTATION_INTERVAL")
	setDuration(&cfg.Scheduler.CredentialRotationInitialDelay, "PERSONACORE_SCHED_CRED_ROTATION_INITIAL_DELAY")

	setString(&cfg.Webhook.Host, "PERSONACORE_WEBHOOK_HOST")
	setString(&cfg.Webhook.Port, "PERSONACORE_WEBHOOK_PORT")

	setInt(&cfg.RateLimit.MaxEvents, "PERSONACORE_RATE_MAX_EVENTS")
	setDuration(&cfg.RateLimit.Window, "PERSONACORE_RATE_WINDOW")

	setString(&cfg.Vault.MasterKeyPath, "PERSONACORE_VAULT_MASTER_KEY_PATH")

	setInt(&cfg.Healing.MaxRetries, "PERSONACORE_HEALING_MAX_RETRIES")
	setDuration(&cfg.Healing.BaseBackoff, "PERSONACORE_HEALING_BASE_BACKOFF")
	setDuration(&cfg.Healing.MaxBackoff, "PERSONACORE_HEALING_MAX_BACKOFF")
	setFloat64(&cfg.Healing.TimeoutEscalation, "PERSONACORE_HEALING_TIMEOUT_ESCALATION")
	setDuration(&cfg.Healing.RateLimitBackoff, "PERSONACORE_HEALING_RATE_LIMIT_BACKOFF")

	setInt(&cfg.Chain.MaxDepth, "PERSONACORE_CHAIN_MAX_DEPTH")

	setInt64(&cfg.Cache.NumCounters, "PERSONACORE_CACHE_NUM_COUNTERS")
	setInt64(&cfg.Cache.MaxCostMB, "PERSONACORE_CACHE_MAX_COST_MB")

	setBool(&cfg.OTEL.Enabled, "PERSONACORE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "PERSONACORE_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "PERSONACORE_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "PERSONACORE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "PERSONACORE_OTEL_SAMPLE_RATE")

	setString(&cfg.Providers.Claude.Path, "PERSONACORE_PROVIDER_CLAUDE_PATH")
	setString(&cfg.Providers.Codex.Path, "PERSONACORE_PROVIDER_CODEX_PATH")
	setString(&cfg.Providers.Gemini.Path, "PERSONACORE_PROVIDER_GEMINI_PATH")

	setString(&cfg.Websocket.AllowOrigin, "PERSONACORE_WS_ALLOW_ORIGIN")

	setInt(&cfg.Execution.MaxConcurrentPerPersona, "PERSONACORE_EXEC_MAX_CONCURRENT_PER_PERSONA")
	setInt(&cfg.Execution.MaxConcurrentTotal, "PERSONACORE_EXEC_MAX_CONCURRENT_TOTAL")
	setDuration(&cfg.Execution.DefaultTimeout, "PERSONACORE_EXEC_DEFAULT_TIMEOUT")
	setInt(&cfg.Execution.MaxRetryCount, "PERSONACORE_EXEC_MAX_RETRY_COUNT")
}

// validate checks that required fields are set and internal constraints hold.
func validate(cfg *Config) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.RateLimit.MaxEvents < 1 {
		return errors.New("rate_limit.max_events must be >= 1")
	}
	if cfg.Chain.MaxDepth < 1 {
		return errors.New("chain.max_depth must be >= 1")
	}
	if cfg.Execution.MaxRetryCount < 0 {
		return errors.New("execution.max_retry_count must be >= 0")
	}
	if cfg.Webhook.Host == "" || cfg.Webhook.Port == "" {
		return errors.New("webhook.host and webhook.port are required")
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
