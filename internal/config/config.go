package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	CORSAllowedOrigins    []string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	RunMigrations    bool
	MigrationsDir    string
	ConnMaxIdleSec   int32
	ConnMaxLifeSec   int32
	// StatementTimeout bounds every query; user lookups sit on the request path.
	StatementTimeout time.Duration
	ApplicationName  string
}

// RedisConfig holds Redis connection values. The denylist is consulted on
// every authenticated request, so operations get a tight timeout.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	OpTimeout time.Duration
	PoolSize  int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	RefreshGrace      time.Duration
	BcryptCost        int
	RevocationEnabled bool
	PasswordResetTTL  time.Duration
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	GeneralRPM int
	AuthRPM    int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	tokenTTL, err := getEnvAsDuration("AUTH_TOKEN_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	refreshGrace, err := getEnvAsDuration("AUTH_REFRESH_GRACE", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	resetTTL, err := getEnvAsDuration("AUTH_PASSWORD_RESET_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	statementTimeout, err := getEnvAsDuration("POSTGRES_STATEMENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	redisTimeout, err := getEnvAsDuration("REDIS_TIMEOUT", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	appName := getEnv("APP_NAME", "globetrotter-auth")

	cfg := &Config{
		App: AppConfig{
			Name:                  appName,
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "5000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			CORSAllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),

			StatementTimeout: statementTimeout,
			ApplicationName:  appName,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,

			OpTimeout: redisTimeout,
			PoolSize:  getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTL:          tokenTTL,
			RefreshGrace:      refreshGrace,
			BcryptCost:        getEnvAsInt("AUTH_BCRYPT_COST", 12),
			RevocationEnabled: getEnvAsBool("AUTH_REVOCATION_ENABLED", false),
			PasswordResetTTL:  resetTTL,
		},
		RateLimit: RateLimitConfig{
			GeneralRPM: getEnvAsInt("RATE_LIMIT_GENERAL_RPM", 300),
			AuthRPM:    getEnvAsInt("RATE_LIMIT_AUTH_RPM", 20),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@globetrotter.local"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if cfg.App.Env == "production" && cfg.Auth.JWTSecret == "dev-secret" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be set in production")
	}
	if cfg.Auth.RevocationEnabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("AUTH_REVOCATION_ENABLED requires REDIS_ADDR")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go durations ("15m") or whole seconds ("900").
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed, nil
	}
	if seconds, err := strconv.Atoi(val); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s: %q", key, val)
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
