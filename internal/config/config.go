// Package config provides configuration management for the lead session engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Sweeper    SweeperConfig
	Enrichment EnrichmentConfig
	Metrics    MetricsConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Port              string
	Host              string
	RequestsPerSecond int // Per-client request rate for the API
	Burst             int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MinConnections int

	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// URL returns the postgres:// connection URL used by migrations
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// RedisConfig holds the connection target of the durable queue
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	MinIdleConns   int
}

// Addr returns host:port
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// QueueConfig names the durable queues and sets their claim lease
type QueueConfig struct {
	KeyPrefix  string
	HuntQueue  string
	AuditQueue string

	// LockDuration is how long a claimed job stays owned without renewal
	LockDuration time.Duration
	// MaxStalls is how many lease expiries a job survives before it is failed
	MaxStalls int
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	HuntConcurrency  int
	AuditConcurrency int
	PollInterval     time.Duration
	BatchSize        int // Units loaded per page from the session cursor
	ShutdownTimeout  time.Duration
}

// SweeperConfig holds recovery sweeper configuration.
// An empty Schedule disables the in-worker cron sweep.
type SweeperConfig struct {
	Schedule          string
	VerifyJobLiveness bool
	ListLimit         int
}

// EnrichmentConfig holds outbound site fetch configuration
type EnrichmentConfig struct {
	Scheme            string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	MaxBodyBytes      int64
}

// MetricsConfig holds the metrics listener configuration
type MetricsConfig struct {
	Addr string // Empty disables the /metrics listener
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:              getEnv("SERVER_PORT", "8080"),
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			RequestsPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("SERVER_RATE_LIMIT_BURST", 10),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "lead_engine"),
				User:           getEnv("POSTGRES_USER", "leads"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MinConnections: getEnvAsInt("POSTGRES_MIN_CONNECTIONS", 2),

				MaxConnLifetime:   getEnvAsDuration("POSTGRES_MAX_CONN_LIFETIME", time.Hour),
				MaxConnIdleTime:   getEnvAsDuration("POSTGRES_MAX_CONN_IDLE_TIME", 30*time.Minute),
				HealthCheckPeriod: getEnvAsDuration("POSTGRES_HEALTH_CHECK_PERIOD", time.Minute),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				MinIdleConns:   getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			},
		},
		Queue: QueueConfig{
			KeyPrefix:  getEnv("QUEUE_KEY_PREFIX", "leadq"),
			HuntQueue:  getEnv("QUEUE_HUNT_NAME", "lead-hunt"),
			AuditQueue: getEnv("QUEUE_AUDIT_NAME", "lead-audit"),

			LockDuration: getEnvAsDuration("QUEUE_LOCK_DURATION", 30*time.Second),
			MaxStalls:    getEnvAsInt("QUEUE_MAX_STALLS", 3),
		},
		Worker: WorkerConfig{
			HuntConcurrency:  getEnvAsInt("WORKER_HUNT_CONCURRENCY", 2),
			AuditConcurrency: getEnvAsInt("WORKER_AUDIT_CONCURRENCY", 2),
			PollInterval:     getEnvAsDuration("WORKER_POLL_INTERVAL", time.Second),
			BatchSize:        getEnvAsInt("WORKER_BATCH_SIZE", 100),
			ShutdownTimeout:  getEnvAsDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Sweeper: SweeperConfig{
			Schedule:          getEnv("SWEEPER_SCHEDULE", ""),
			VerifyJobLiveness: getEnvAsBool("SWEEPER_VERIFY_JOB_LIVENESS", false),
			ListLimit:         getEnvAsInt("SWEEPER_LIST_LIMIT", 1000),
		},
		Enrichment: EnrichmentConfig{
			Scheme:            getEnv("ENRICHMENT_SCHEME", "https"),
			Timeout:           getEnvAsDuration("ENRICHMENT_TIMEOUT", 15*time.Second),
			UserAgent:         getEnv("ENRICHMENT_USER_AGENT", "lead-engine/1.0"),
			RequestsPerSecond: getEnvAsFloat("ENRICHMENT_RPS", 5),
			Burst:             getEnvAsInt("ENRICHMENT_BURST", 5),
			MaxAttempts:       getEnvAsInt("ENRICHMENT_MAX_ATTEMPTS", 3),
			MaxBodyBytes:      int64(getEnvAsInt("ENRICHMENT_MAX_BODY_BYTES", 2<<20)),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// QueueNames returns the configured queue names in a stable order
func (c *Config) QueueNames() []string {
	return []string{c.Queue.HuntQueue, c.Queue.AuditQueue}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
