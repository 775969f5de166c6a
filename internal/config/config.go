package config

import (
	"fmt"
	"os"
	"strconv"
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
	Notification NotificationConfig
	Engine       EngineConfig
	Policies     PoliciesConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	Timezone              string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
	LockWait time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig selects outbound senders.
type NotificationConfig struct {
	EmailProvider  string
	EmailFrom      string
	EmailFromName  string
	SendGridAPIKey string
	AWSRegion      string
	WebhookURL     string
	SendTimeout    time.Duration
	QueueSize      int
}

// EngineConfig tunes the queue engine.
type EngineConfig struct {
	GracePeriodMinutes      int
	AutoMarkNoShow          bool
	AllowReactivation       bool
	ReactivationWindowHours int
	SweepInterval           time.Duration
	ReminderLeadMinutes     int
	ReminderInterval        time.Duration
	MaxRetryAttempts        int
	LockBackend             string
	DepartmentCacheSize     int
	DepartmentCacheTTL      time.Duration
}

// PolicyConfig is one cancellation policy.
type PolicyConfig struct {
	CutoffHours      int
	RefundPercentage int
	CancellationFee  float64
}

// PoliciesConfig holds the cancellation policy per appointment classification.
type PoliciesConfig struct {
	Standard  PolicyConfig
	Premium   PolicyConfig
	Emergency PolicyConfig
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	lockBackend := getEnv("QUEUE_LOCK_BACKEND", "memory")
	if lockBackend != "memory" && lockBackend != "redis" {
		return nil, fmt.Errorf("invalid QUEUE_LOCK_BACKEND %q", lockBackend)
	}

	tz := getEnv("APP_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "counter-queue-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			Timezone:              tz,
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 10*time.Second),
			LockWait: getEnvAsDuration("REDIS_LOCK_WAIT", 5*time.Second),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailProvider:  getEnv("NOTIFY_EMAIL_PROVIDER", "stub"),
			EmailFrom:      getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			EmailFromName:  getEnv("NOTIFY_EMAIL_FROM_NAME", "Service Counter"),
			SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			SendTimeout:    getEnvAsDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
			QueueSize:      getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Engine: EngineConfig{
			GracePeriodMinutes:      getEnvAsInt("QUEUE_GRACE_PERIOD_MINUTES", 15),
			AutoMarkNoShow:          getEnvAsBool("QUEUE_AUTO_MARK_NO_SHOW", true),
			AllowReactivation:       getEnvAsBool("QUEUE_ALLOW_REACTIVATION", true),
			ReactivationWindowHours: getEnvAsInt("QUEUE_REACTIVATION_WINDOW_HOURS", 2),
			SweepInterval:           getEnvAsDuration("QUEUE_NO_SHOW_SWEEP_INTERVAL", 60*time.Second),
			ReminderLeadMinutes:     getEnvAsInt("QUEUE_REMINDER_LEAD_MINUTES", 15),
			ReminderInterval:        getEnvAsDuration("QUEUE_REMINDER_INTERVAL", 60*time.Second),
			MaxRetryAttempts:        getEnvAsInt("QUEUE_MAX_RETRY_ATTEMPTS", 3),
			LockBackend:             lockBackend,
			DepartmentCacheSize:     getEnvAsInt("QUEUE_DEPARTMENT_CACHE_SIZE", 256),
			DepartmentCacheTTL:      getEnvAsDuration("QUEUE_DEPARTMENT_CACHE_TTL", 5*time.Minute),
		},
		Policies: PoliciesConfig{
			Standard: PolicyConfig{
				CutoffHours:      getEnvAsInt("POLICY_STANDARD_CUTOFF_HOURS", 24),
				RefundPercentage: getEnvAsInt("POLICY_STANDARD_REFUND_PERCENT", 100),
				CancellationFee:  getEnvAsFloat("POLICY_STANDARD_FEE", 0),
			},
			Premium: PolicyConfig{
				CutoffHours:      getEnvAsInt("POLICY_PREMIUM_CUTOFF_HOURS", 2),
				RefundPercentage: getEnvAsInt("POLICY_PREMIUM_REFUND_PERCENT", 100),
				CancellationFee:  getEnvAsFloat("POLICY_PREMIUM_FEE", 0),
			},
			Emergency: PolicyConfig{
				CutoffHours:      getEnvAsInt("POLICY_EMERGENCY_CUTOFF_HOURS", 0),
				RefundPercentage: getEnvAsInt("POLICY_EMERGENCY_REFUND_PERCENT", 100),
				CancellationFee:  getEnvAsFloat("POLICY_EMERGENCY_FEE", 0),
			},
		},
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

// Location returns the time zone slots are expressed in.
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
