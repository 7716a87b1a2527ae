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
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Workflow  WorkflowConfig
	Token     TokenConfig
	Hub       HubConfig
	Scheduler SchedulerConfig
	WhatsApp  WhatsAppConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	// BaseURL is the front-end origin used for in-app deep links.
	BaseURL string
	// PublicRateLimit caps public approval requests per IP and window.
	PublicRateLimit       int
	PublicRateLimitWindow time.Duration
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

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines credential validation parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// KindPolicy is the timing of one approval kind.
type KindPolicy struct {
	TTL        time.Duration
	StaleAfter time.Duration
}

// WorkflowConfig holds per-kind policies. Kinds are configured independently.
type WorkflowConfig struct {
	Overtime      KindPolicy
	PurchaseOrder KindPolicy
	Measurement   KindPolicy
}

// TokenConfig controls public approval links.
type TokenConfig struct {
	TTL           time.Duration
	BcryptCost    int
	PublicBaseURL string
}

// HubConfig tunes the real-time hub.
type HubConfig struct {
	PingInterval time.Duration
	SendBuffer   int
}

// SchedulerConfig controls the escalation job.
type SchedulerConfig struct {
	Enabled        bool
	FirstRunDelay  time.Duration
	Interval       time.Duration
	LockTTL        time.Duration
	MaxEscalations int
	BatchSize      int
}

// WhatsAppConfig configures the external text channel. An empty WebhookURL
// disables it.
type WhatsAppConfig struct {
	WebhookURL   string
	InstanceName string
	APIKey       string
	CountryCode  string
	Timeout      time.Duration
	Attempts     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "approval-core"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BaseURL:               getEnv("FRONTEND_URL", "http://localhost:3000"),
			PublicRateLimit:       getEnvAsInt("PUBLIC_RATE_LIMIT", 10),
			PublicRateLimitWindow: getEnvAsDuration("PUBLIC_RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Workflow: WorkflowConfig{
			Overtime: KindPolicy{
				TTL:        getEnvAsDuration("OVERTIME_TTL", 48*time.Hour),
				StaleAfter: getEnvAsDuration("OVERTIME_STALE_AFTER", 24*time.Hour),
			},
			PurchaseOrder: KindPolicy{
				TTL:        getEnvAsDuration("PURCHASE_ORDER_TTL", 30*24*time.Hour),
				StaleAfter: getEnvAsDuration("PURCHASE_ORDER_STALE_AFTER", 72*time.Hour),
			},
			Measurement: KindPolicy{
				TTL:        getEnvAsDuration("MEASUREMENT_TTL", 7*24*time.Hour),
				StaleAfter: getEnvAsDuration("MEASUREMENT_STALE_AFTER", 24*time.Hour),
			},
		},
		Token: TokenConfig{
			TTL:           getEnvAsDuration("APPROVAL_TOKEN_TTL", 48*time.Hour),
			BcryptCost:    getEnvAsInt("APPROVAL_TOKEN_BCRYPT_COST", 10),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		},
		Hub: HubConfig{
			PingInterval: getEnvAsDuration("HUB_PING_INTERVAL", 25*time.Second),
			SendBuffer:   getEnvAsInt("HUB_SEND_BUFFER", 64),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getEnvAsBool("ESCALATION_ENABLED", true),
			FirstRunDelay:  getEnvAsDuration("ESCALATION_FIRST_RUN_DELAY", time.Minute),
			Interval:       getEnvAsDuration("ESCALATION_INTERVAL", 24*time.Hour),
			LockTTL:        getEnvAsDuration("ESCALATION_LOCK_TTL", 30*time.Minute),
			MaxEscalations: getEnvAsInt("ESCALATION_MAX_PER_REQUEST", 5),
			BatchSize:      getEnvAsInt("ESCALATION_BATCH_SIZE", 500),
		},
		WhatsApp: WhatsAppConfig{
			WebhookURL:   os.Getenv("WHATSAPP_WEBHOOK_URL"),
			InstanceName: os.Getenv("WHATSAPP_INSTANCE_NAME"),
			APIKey:       os.Getenv("WHATSAPP_API_KEY"),
			CountryCode:  getEnv("WHATSAPP_COUNTRY_CODE", "55"),
			Timeout:      getEnvAsDuration("WHATSAPP_TIMEOUT", 10*time.Second),
			Attempts:     getEnvAsInt("WHATSAPP_ATTEMPTS", 3),
		},
	}

	if cfg.Scheduler.Interval <= 0 {
		return nil, fmt.Errorf("invalid ESCALATION_INTERVAL: must be positive")
	}

	return cfg, nil
}

// AgentConfig configures the standalone delivery agent.
type AgentConfig struct {
	BaseURL           string
	Credential        string
	UserID            string
	PollConnected     time.Duration
	PollDisconnected  time.Duration
	ReconnectAttempts int
	Logger            LoggerConfig
}

// LoadAgent reads the agent configuration from environment variables.
func LoadAgent() (*AgentConfig, error) {
	_ = godotenv.Load()

	cfg := &AgentConfig{
		BaseURL:           getEnv("AGENT_BASE_URL", "http://localhost:8080"),
		Credential:        os.Getenv("AGENT_CREDENTIAL"),
		UserID:            os.Getenv("AGENT_USER_ID"),
		PollConnected:     getEnvAsDuration("AGENT_POLL_CONNECTED", 5*time.Minute),
		PollDisconnected:  getEnvAsDuration("AGENT_POLL_DISCONNECTED", 30*time.Second),
		ReconnectAttempts: getEnvAsInt("AGENT_RECONNECT_ATTEMPTS", 5),
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}
	if cfg.Credential == "" {
		return nil, fmt.Errorf("AGENT_CREDENTIAL is required")
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
