package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/wasessions-backend/pkg/instance"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Outbox       OutboxConfig
	Events       EventsConfig
	Commands     CommandsConfig
	Tracing      TracingConfig
	Metrics      MetricsConfig
	Provider     ProviderConfig
	RateLimit    RateLimitConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Maintenance  MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Events.Consumer) == "" {
		cfg.Events.Consumer = instance.GetID()
	}
	if strings.TrimSpace(cfg.Commands.Consumer) == "" {
		cfg.Commands.Consumer = instance.GetID()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadJWT reads only the token settings, for tools that never touch the
// database or redis.
func LoadJWT() (JWTConfig, error) {
	var jwt JWTConfig
	if err := envconfig.Process(EnvPrefix, &jwt); err != nil {
		return JWTConfig{}, fmt.Errorf("parsing jwt config: %w", err)
	}
	return jwt, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.Outbox.BatchSize <= 0 {
		problems = append(problems, "outbox batch size must be positive")
	}
	if c.Outbox.PollIntervalMS <= 0 {
		problems = append(problems, "outbox poll interval must be positive")
	}
	if c.Events.BatchSize <= 0 || c.Commands.BatchSize <= 0 {
		problems = append(problems, "stream batch sizes must be positive")
	}
	if c.Events.BlockMS <= 0 || c.Commands.BlockMS <= 0 {
		problems = append(problems, "stream block timeouts must be positive")
	}
	if c.Events.MaxAttempts < 1 {
		problems = append(problems, "events max attempts must be at least 1")
	}
	if c.Events.BackoffMS <= 0 {
		problems = append(problems, "events backoff must be positive")
	}
	if c.Events.BackoffMaxMS < c.Events.BackoffMS {
		problems = append(problems, "events backoff cap must not be lower than the base backoff")
	}
	if c.Events.ProcessedTTLMS <= 0 {
		problems = append(problems, "events processed ttl must be positive")
	}
	if c.Events.ClaimIdleMS <= 0 || c.Events.ClaimIntervalMS <= 0 {
		problems = append(problems, "events claim idle and claim interval must be positive")
	}
	if c.Maintenance.Interval <= 0 {
		problems = append(problems, "maintenance interval must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"WASESSIONS_APP_ENV" required:"true"`
	Port         string `envconfig:"WASESSIONS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"WASESSIONS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"WASESSIONS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"WASESSIONS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WASESSIONS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WASESSIONS_DB_DSN"`
	Driver string `envconfig:"WASESSIONS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WASESSIONS_DB_HOST"`
	LegacyPort     int    `envconfig:"WASESSIONS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WASESSIONS_DB_USER"`
	LegacyPassword string `envconfig:"WASESSIONS_DB_PASSWORD"`
	LegacyName     string `envconfig:"WASESSIONS_DB_NAME"`
	LegacySSLMode  string `envconfig:"WASESSIONS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WASESSIONS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WASESSIONS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WASESSIONS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WASESSIONS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"WASESSIONS_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WASESSIONS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"WASESSIONS_REDIS_ADDR"`
	Password     string        `envconfig:"WASESSIONS_REDIS_PASSWORD"`
	DB           int           `envconfig:"WASESSIONS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WASESSIONS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WASESSIONS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WASESSIONS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WASESSIONS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WASESSIONS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"WASESSIONS_AUTO_MIGRATE" default:"false"`
	AutoStart   bool `envconfig:"WASESSIONS_AUTO_START_SESSIONS" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"WASESSIONS_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"WASESSIONS_OUTBOX_POLL_MS" default:"500"`
	LeaseTimeoutMS int `envconfig:"WASESSIONS_OUTBOX_LEASE_TIMEOUT_MS" default:"300000"`
}

// PollInterval is the idle sleep between empty polls.
func (o OutboxConfig) PollInterval() time.Duration {
	return millis(o.PollIntervalMS)
}

// LeaseTimeout is how long a row may stay in processing before it is released.
func (o OutboxConfig) LeaseTimeout() time.Duration {
	return millis(o.LeaseTimeoutMS)
}

type EventsConfig struct {
	Stream          string `envconfig:"WASESSIONS_EVENTS_STREAM" default:"domain-events"`
	Group           string `envconfig:"WASESSIONS_EVENTS_GROUP" default:"domain-event-handlers"`
	Consumer        string `envconfig:"WASESSIONS_EVENTS_CONSUMER"`
	BatchSize       int    `envconfig:"WASESSIONS_EVENTS_BATCH_SIZE" default:"10"`
	BlockMS         int    `envconfig:"WASESSIONS_EVENTS_BLOCK_MS" default:"5000"`
	ClaimIdleMS     int    `envconfig:"WASESSIONS_EVENTS_CLAIM_IDLE_MS" default:"60000"`
	ClaimIntervalMS int    `envconfig:"WASESSIONS_EVENTS_CLAIM_INTERVAL_MS" default:"30000"`
	MaxAttempts     int    `envconfig:"WASESSIONS_EVENTS_MAX_ATTEMPTS" default:"5"`
	BackoffMS       int    `envconfig:"WASESSIONS_EVENTS_BACKOFF_MS" default:"1000"`
	BackoffMaxMS    int    `envconfig:"WASESSIONS_EVENTS_BACKOFF_MAX_MS" default:"60000"`
	ProcessedTTLMS  int    `envconfig:"WASESSIONS_EVENTS_PROCESSED_TTL_MS" default:"604800000"`
	DLQStream       string `envconfig:"WASESSIONS_EVENTS_DLQ_STREAM" default:"domain-events-dlq"`
}

func (e EventsConfig) Block() time.Duration         { return millis(e.BlockMS) }
func (e EventsConfig) ClaimIdle() time.Duration     { return millis(e.ClaimIdleMS) }
func (e EventsConfig) ClaimInterval() time.Duration { return millis(e.ClaimIntervalMS) }
func (e EventsConfig) Backoff() time.Duration       { return millis(e.BackoffMS) }
func (e EventsConfig) BackoffMax() time.Duration    { return millis(e.BackoffMaxMS) }
func (e EventsConfig) ProcessedTTL() time.Duration  { return millis(e.ProcessedTTLMS) }

type CommandsConfig struct {
	Stream    string `envconfig:"WASESSIONS_COMMANDS_STREAM" default:"session-commands"`
	Group     string `envconfig:"WASESSIONS_COMMANDS_GROUP" default:"session-workers"`
	Consumer  string `envconfig:"WASESSIONS_COMMANDS_CONSUMER"`
	BatchSize int    `envconfig:"WASESSIONS_COMMANDS_BATCH_SIZE" default:"10"`
	BlockMS   int    `envconfig:"WASESSIONS_COMMANDS_BLOCK_MS" default:"5000"`
	DLQStream string `envconfig:"WASESSIONS_COMMANDS_DLQ_STREAM" default:"session-commands-dlq"`
}

func (c CommandsConfig) Block() time.Duration { return millis(c.BlockMS) }

type TracingConfig struct {
	Enabled     bool    `envconfig:"WASESSIONS_TRACING_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"WASESSIONS_TRACING_OTLP_ENDPOINT" default:"localhost:4318"`
	Insecure    bool    `envconfig:"WASESSIONS_TRACING_INSECURE" default:"true"`
	SampleRatio float64 `envconfig:"WASESSIONS_TRACING_SAMPLE_RATIO" default:"1"`
}

type MetricsConfig struct {
	Addr string `envconfig:"WASESSIONS_METRICS_ADDR" default:":9090"`
}

type ProviderConfig struct {
	BaseURL string        `envconfig:"WASESSIONS_PROVIDER_BASE_URL" default:"http://localhost:3001"`
	Token   string        `envconfig:"WASESSIONS_PROVIDER_TOKEN"`
	Timeout time.Duration `envconfig:"WASESSIONS_PROVIDER_TIMEOUT" default:"15s"`
}

// RateLimitConfig throttles command submission. A zero limit disables that scope.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"WASESSIONS_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit     int           `envconfig:"WASESSIONS_RATE_LIMIT_IP" default:"120"`
	TenantLimit int           `envconfig:"WASESSIONS_RATE_LIMIT_TENANT" default:"600"`
}

// JWTConfig signs and verifies tenant access tokens for the HTTP API.
type JWTConfig struct {
	Secret            string `envconfig:"WASESSIONS_JWT_SECRET"`
	Issuer            string `envconfig:"WASESSIONS_JWT_ISSUER" default:"wasessions"`
	ExpirationMinutes int    `envconfig:"WASESSIONS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"WASESSIONS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// MaintenanceConfig drives the retention jobs run by the cron worker.
type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"WASESSIONS_MAINTENANCE_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"WASESSIONS_MAINTENANCE_LOCK_TTL" default:"55m"`
	OutboxRetention     time.Duration `envconfig:"WASESSIONS_MAINTENANCE_OUTBOX_RETENTION" default:"168h"`
	DeadLetterRetention time.Duration `envconfig:"WASESSIONS_MAINTENANCE_DEAD_LETTER_RETENTION" default:"720h"`
	StreamRetention     time.Duration `envconfig:"WASESSIONS_MAINTENANCE_STREAM_RETENTION" default:"72h"`
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, "sqlite") {
		db.DSN = "file:wasessions.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
