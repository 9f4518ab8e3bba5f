package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lead-engine/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "lead_engine_test",
		User:           "leads",
		Password:       "leads_dev_password",
		MaxConnections: 5,
	}
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEST_POSTGRES_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("TEST_POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	return cfg
}

// setupTestDB connects to the integration database and applies migrations.
// The test is skipped when no database is reachable.
func setupTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), "../../"+DefaultMigrationsPath); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}

	return db
}
