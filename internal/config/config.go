package config

import (
	"errors"
	"fmt"
	"time"

	pkgconfig "github.com/Pranjalshukla1602/task-manager/pkg/config"
	"github.com/Pranjalshukla1602/task-manager/pkg/database"
)

const minSecretLength = 32

// Config holds all configuration for the task-manager API. It is built once
// in main and passed down explicitly.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"task-manager"`
	Version     string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int           `env:"HTTP_PORT" envDefault:"5000"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	PprofAllowedCIDRs  []string      `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Tokens
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET,required,notEmpty"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET,required,notEmpty"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"task-manager"`
	JWTAudience      string        `env:"JWT_AUDIENCE" envDefault:"task-manager-users"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY" envDefault:"168h"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY" envDefault:"720h"`

	// Authentication policy
	BcryptCost            int           `env:"BCRYPT_COST" envDefault:"12"`
	MaxConcurrentSessions int           `env:"MAX_CONCURRENT_SESSIONS" envDefault:"5"`
	MaxLoginAttempts      int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LockDuration          time.Duration `env:"LOCK_DURATION" envDefault:"2h"`
	SessionSweepInterval  time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"15m"`

	// Password breach check (k-anonymity range API)
	BreachCheckEnabled bool          `env:"PASSWORD_BREACH_CHECK_ENABLED" envDefault:"false"`
	BreachCheckURL     string        `env:"PASSWORD_BREACH_CHECK_URL" envDefault:"https://api.pwnedpasswords.com/range/"`
	BreachCheckTimeout time.Duration `env:"PASSWORD_BREACH_CHECK_TIMEOUT" envDefault:"3s"`

	// PostgreSQL
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"taskmanager"`
	PostgresPass       string        `env:"POSTGRES_PASSWORD" envDefault:"taskmanager_secret"`
	PostgresDB         string        `env:"POSTGRES_DB" envDefault:"task_manager"`
	PostgresSSL        string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime  time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime  time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThreshold int           `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	UserCacheTTL  time.Duration `env:"USER_CACHE_TTL" envDefault:"5m"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"task-manager"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load task-manager config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether relaxed secret checks apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

// Validate checks ranges and the secret policy. Outside development both
// token secrets must be long and distinct.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.JWTAccessExpiry <= 0 {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_EXPIRY must be positive, got %s", c.JWTAccessExpiry))
	}
	if c.JWTRefreshExpiry <= 0 {
		errs = append(errs, fmt.Errorf("JWT_REFRESH_EXPIRY must be positive, got %s", c.JWTRefreshExpiry))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.MaxConcurrentSessions < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_SESSIONS must be at least 1, got %d", c.MaxConcurrentSessions))
	}
	if c.MaxLoginAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1, got %d", c.MaxLoginAttempts))
	}
	if c.LockDuration <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_DURATION must be positive, got %s", c.LockDuration))
	}
	if c.SessionSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", c.SessionSweepInterval))
	}
	if c.UserCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("USER_CACHE_TTL must be positive, got %s", c.UserCacheTTL))
	}

	if !c.IsDevelopment() {
		if len(c.JWTAccessSecret) < minSecretLength {
			errs = append(errs, fmt.Errorf("JWT_ACCESS_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTAccessSecret)))
		}
		if len(c.JWTRefreshSecret) < minSecretLength {
			errs = append(errs, fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTRefreshSecret)))
		}
		if c.JWTAccessSecret == c.JWTRefreshSecret {
			errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
		}
	}

	return errors.Join(errs...)
}

// Postgres returns the database connection settings.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

// Redis returns the cache connection settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// SlowQuery returns the slow-query log threshold; zero disables it.
func (c *Config) SlowQuery() time.Duration {
	return time.Duration(c.SlowQueryThreshold) * time.Millisecond
}
