package config

import (
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

type Config struct {
	Database      DatabaseConfig
	Server        ServerConfig
	Auth          AuthConfig
	Email         EmailConfig
	Lockout       LockoutConfig
	Notifications NotificationConfig
}

// DatabaseConfig describes the Postgres pool holding users and user_security
type DatabaseConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	Name               string
	SSLMode            string
	ApplicationName    string
	MaxConns           int32
	MinConns           int32
	MaxConnLifetime    time.Duration
	MaxConnIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	ConnectTimeout     time.Duration
	HealthCheckTimeout time.Duration
	AutoMigrate        bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	AccessTokenExpiry   time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	RateLimitPerMinute  int

	// Bootstrap admin, created at startup when both are set
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// EmailConfig configures the SES notifier and the links embedded in emails
type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	AppBaseURL  string
}

// LockoutConfig holds the account lockout policy
type LockoutConfig struct {
	MaxFailedAttempts int
	UnlockTokenTTL    time.Duration
}

// NotificationConfig sizes the background email dispatcher and the
// undelivered lock email sweep. A zero RedeliveryInterval disables the sweep.
type NotificationConfig struct {
	Workers            int
	QueueSize          int
	SendTimeout        time.Duration
	RedeliveryInterval time.Duration
	RedeliveryGrace    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "subdivisync"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			ApplicationName:    getEnv("DB_APPLICATION_NAME", "subdivisync"),
			MaxConns:           int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:           int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:    getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:    getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod:  getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:     getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			HealthCheckTimeout: getEnvAsDuration("DB_HEALTH_CHECK_TIMEOUT", 2*time.Second),
			AutoMigrate:        getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			RateLimitPerMinute:  getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
			AdminEmail:          getEnv("ADMIN_EMAIL", ""),
			AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
			AdminName:           getEnv("ADMIN_NAME", "SubdiviSync Admin"),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			AppBaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 3),
			UnlockTokenTTL:    getEnvAsDuration("UNLOCK_TOKEN_TTL", 7*24*time.Hour),
		},
		Notifications: NotificationConfig{
			Workers:            getEnvAsInt("NOTIFICATION_WORKERS", 2),
			QueueSize:          getEnvAsInt("NOTIFICATION_QUEUE_SIZE", 100),
			SendTimeout:        getEnvAsDuration("NOTIFICATION_SEND_TIMEOUT", 10*time.Second),
			RedeliveryInterval: getEnvAsDuration("LOCK_EMAIL_REDELIVERY_INTERVAL", 5*time.Minute),
			RedeliveryGrace:    getEnvAsDuration("LOCK_EMAIL_REDELIVERY_GRACE", 2*time.Minute),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}

	if cfg.Email.FromAddress != "" {
		if _, err := mail.ParseAddress(cfg.Email.FromAddress); err != nil {
			return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is not a valid address: %w", err)
		}
	} else if env == "production" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required in production")
	}

	return cfg, nil
}

// Validate checks the lockout policy bounds. The threshold must fit inside
// the stored failure counter range.
func (c LockoutConfig) Validate() error {
	if c.MaxFailedAttempts < 1 || c.MaxFailedAttempts > 10 {
		return fmt.Errorf("LOCKOUT_MAX_FAILED_ATTEMPTS must be between 1 and 10 (got %d)", c.MaxFailedAttempts)
	}
	if c.UnlockTokenTTL <= 0 {
		return fmt.Errorf("UNLOCK_TOKEN_TTL must be positive")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// PoolConfig builds the pgx pool settings. Sessions are tagged with
// ApplicationName so lockout traffic is identifiable in pg_stat_activity.
func (c *DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if c.MinConns > c.MaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.MinConns, c.MaxConns)
	}

	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	poolConfig.MaxConnLifetime = c.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = c.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout
	if c.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}
	return poolConfig, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
