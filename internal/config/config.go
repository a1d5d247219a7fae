package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// ErrConfigError is returned by Load for any condition the process must
// refuse to start under: a missing DATABASE_URL or an unparseable cron
// expression (§7 config_error; exit code 3 at the CLI per §6).
var ErrConfigError = errors.New("configuration error")

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Mode selects the runtime mode: "crawler", "claim-sweeper" or "trigger".
	Mode string `env:"CRAWLER_MODE" envDefault:"crawler"`

	// Server
	Host string `env:"CRAWLER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"CRAWLER_PORT" envDefault:"8080"`

	// Database
	DatabaseURL   string `env:"DATABASE_URL"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Concurrency & timeouts
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"20"`
	PerDomainTimeout   time.Duration `env:"PER_DOMAIN_TIMEOUT_MS" envDefault:"600000ms"`
	PerCallTimeout     time.Duration `env:"PER_CALL_TIMEOUT_MS" envDefault:"90000ms"`
	PerBatchTimeout    time.Duration `env:"PER_BATCH_TIMEOUT_MS" envDefault:"600000ms"`
	LeaseTTL           time.Duration `env:"LEASE_TTL" envDefault:"15m"`
	ClaimBatchSize     int           `env:"CLAIM_BATCH_SIZE" envDefault:"50"`
	MaxPendingCycles   int           `env:"MAX_PENDING_CYCLES" envDefault:"3"`

	// Circuit breaker
	CircuitFailureThreshold uint32        `env:"CIRCUIT_FAILURE_THRESHOLD" envDefault:"5"`
	CircuitCooldown         time.Duration `env:"CIRCUIT_COOLDOWN_MS" envDefault:"60000ms"`
	CircuitCooldownCap      time.Duration `env:"CIRCUIT_COOLDOWN_CAP_MS" envDefault:"960000ms"`

	// Scheduler cron expressions per tier (standard 5-field cron).
	CronCheap     string `env:"CRON_CHEAP" envDefault:"0 */6 * * *"`
	CronMedium    string `env:"CRON_MEDIUM" envDefault:"0 3 * * 1"`
	CronExpensive string `env:"CRON_EXPENSIVE" envDefault:"0 4 1,15 * *"`
	CronFull      string `env:"CRON_FULL" envDefault:"0 2 * * 0"`
	SchedulerPoll time.Duration `env:"SCHEDULER_POLL_INTERVAL" envDefault:"30s"`

	// ShadowMode exercises the full pipeline but skips persistence.
	ShadowMode bool `env:"SHADOW_MODE" envDefault:"false"`

	// TriggerTier and TriggerLimit parameterize "trigger" mode: a one-shot
	// run of a single tier, used by operators and by the CLI acceptance
	// scenario that requires a guardian block to surface as exit code 2.
	TriggerTier  string `env:"TRIGGER_TIER" envDefault:"full"`
	TriggerLimit int    `env:"TRIGGER_LIMIT" envDefault:"0"`

	// InternalToken authenticates mutating control-plane requests.
	InternalToken string `env:"CRAWLER_INTERNAL_TOKEN"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config from env: %v", ErrConfigError, err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL must be set", ErrConfigError)
	}
	if err := cfg.validateCronExpressions(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateCronExpressions rejects an unparseable tier cadence at startup
// rather than letting it surface later as a silent "never fires" Scheduler
// bug. It reuses gronx.NextTick, the same package-level entry point the
// Scheduler polls with, so a bad expression is rejected with the identical
// parser that would otherwise silently never fire.
func (c *Config) validateCronExpressions() error {
	exprs := map[string]string{
		"CRON_CHEAP":     c.CronCheap,
		"CRON_MEDIUM":    c.CronMedium,
		"CRON_EXPENSIVE": c.CronExpensive,
		"CRON_FULL":      c.CronFull,
	}
	for name, expr := range exprs {
		if _, err := gronx.NextTick(expr, false); err != nil {
			return fmt.Errorf("%w: %s=%q is not a valid cron expression: %v", ErrConfigError, name, expr, err)
		}
	}
	return nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
