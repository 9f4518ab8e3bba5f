package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("WORKER_POLL_INTERVAL", "250ms"); err != nil {
		t.Fatalf("Failed to set WORKER_POLL_INTERVAL: %v", err)
	}
	if err := os.Setenv("SWEEPER_VERIFY_JOB_LIVENESS", "true"); err != nil {
		t.Fatalf("Failed to set SWEEPER_VERIFY_JOB_LIVENESS: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("WORKER_POLL_INTERVAL")
		_ = os.Unsetenv("SWEEPER_VERIFY_JOB_LIVENESS")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v, want %v", cfg.Worker.PollInterval, 250*time.Millisecond)
	}

	if !cfg.Sweeper.VerifyJobLiveness {
		t.Errorf("Sweeper.VerifyJobLiveness = false, want true")
	}

	if cfg.Sweeper.Schedule != "" {
		t.Errorf("Sweeper.Schedule = %q, want empty (disabled by default)", cfg.Sweeper.Schedule)
	}

	if cfg.Queue.LockDuration != 30*time.Second {
		t.Errorf("Queue.LockDuration = %v, want %v", cfg.Queue.LockDuration, 30*time.Second)
	}

	if cfg.Queue.MaxStalls != 3 {
		t.Errorf("Queue.MaxStalls = %v, want 3", cfg.Queue.MaxStalls)
	}

	if cfg.Database.Postgres.MaxConnLifetime != time.Hour {
		t.Errorf("Database.Postgres.MaxConnLifetime = %v, want %v", cfg.Database.Postgres.MaxConnLifetime, time.Hour)
	}

	names := cfg.QueueNames()
	if len(names) != 2 || names[0] != "lead-hunt" || names[1] != "lead-audit" {
		t.Errorf("QueueNames() = %v, want [lead-hunt lead-audit]", names)
	}
}

func TestLoadConfig_PoolAndLeaseOverrides(t *testing.T) {
	env := map[string]string{
		"POSTGRES_MIN_CONNECTIONS":     "4",
		"POSTGRES_MAX_CONN_IDLE_TIME":  "5m",
		"POSTGRES_HEALTH_CHECK_PERIOD": "15s",
		"QUEUE_LOCK_DURATION":          "2m",
		"QUEUE_MAX_STALLS":             "0",
	}
	for k, v := range env {
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("Failed to set %s: %v", k, err)
		}
	}
	defer func() {
		for k := range env {
			_ = os.Unsetenv(k)
		}
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	pg := cfg.Database.Postgres
	if pg.MinConnections != 4 {
		t.Errorf("MinConnections = %v, want 4", pg.MinConnections)
	}
	if pg.MaxConnIdleTime != 5*time.Minute {
		t.Errorf("MaxConnIdleTime = %v, want %v", pg.MaxConnIdleTime, 5*time.Minute)
	}
	if pg.HealthCheckPeriod != 15*time.Second {
		t.Errorf("HealthCheckPeriod = %v, want %v", pg.HealthCheckPeriod, 15*time.Second)
	}
	if cfg.Queue.LockDuration != 2*time.Minute {
		t.Errorf("Queue.LockDuration = %v, want %v", cfg.Queue.LockDuration, 2*time.Minute)
	}
	if cfg.Queue.MaxStalls != 0 {
		t.Errorf("Queue.MaxStalls = %v, want 0", cfg.Queue.MaxStalls)
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5433", Database: "leads", User: "u", Password: "p"}
	want := "postgres://u:p@db:5433/leads?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "parses true", key: "TEST_BOOL", defaultValue: false, envValue: "true", want: true},
		{name: "parses 0", key: "TEST_BOOL_ZERO", defaultValue: true, envValue: "0", want: false},
		{name: "returns default when invalid", key: "TEST_BOOL_INVALID", defaultValue: true, envValue: "maybe", want: true},
		{name: "returns default when not set", key: "TEST_BOOL_NOTSET", defaultValue: false, envValue: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
