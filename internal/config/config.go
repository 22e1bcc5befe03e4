package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	HTTPPort   string
	AdminToken string

	// AppBaseURL is the externally reachable origin used to build signing links.
	AppBaseURL    string
	SnowflakeNode int64

	Scheduler SchedulerConfig
	Signature SignatureConfig
	SMTP      SMTPConfig
	Redis     RedisConfig

	ScheduleConfigPath string
}

type SchedulerConfig struct {
	InvoiceTimezone   string
	SignatureTimezone string
	RunOnStartup      bool
	StartupDelay      time.Duration
}

type SignatureConfig struct {
	TokenTTL            time.Duration
	MaxDeliveryAttempts int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:           getenv("APP_NAME", "crmjobs"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "crm"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONNS", 5),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONNS", 20),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),
		HTTPPort:          getenv("HTTP_PORT", "8081"),
		AdminToken:        strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		AppBaseURL:        strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:5173"), "/"),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		Scheduler: SchedulerConfig{
			InvoiceTimezone:   getenv("SCHEDULER_INVOICE_TIMEZONE", "America/New_York"),
			SignatureTimezone: getenv("SCHEDULER_SIGNATURE_TIMEZONE", "America/New_York"),
			RunOnStartup:      getenvBool("SCHEDULER_RUN_ON_STARTUP", isDevEnv(environment)),
			StartupDelay:      getenvDuration("SCHEDULER_STARTUP_DELAY", 5*time.Second),
		},
		Signature: SignatureConfig{
			TokenTTL:            getenvDuration("SIGNING_TOKEN_TTL", 7*24*time.Hour),
			MaxDeliveryAttempts: getenvInt("SIGNATURE_MAX_DELIVERY_ATTEMPTS", 3),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("EMAIL_FROM", "no-reply@localhost"),
			FromName: getenv("EMAIL_FROM_NAME", "CRM"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		ScheduleConfigPath: strings.TrimSpace(getenv("SCHEDULE_CONFIG_PATH", "")),
	}

	return cfg
}

// IsDevelopment reports whether the process runs in a local/dev environment.
func (c Config) IsDevelopment() bool {
	return isDevEnv(c.Environment)
}

// Location resolves an IANA timezone name, falling back to UTC for an empty name.
func Location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
