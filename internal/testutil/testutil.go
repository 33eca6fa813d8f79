// Package testutil provides shared helpers for tests that need a real
// Postgres connection. Tests using these helpers are skipped unless a test
// database is reachable, so the default `go test ./...` run never requires
// infrastructure; set TEST_DB_REQUIRE=1 in CI to turn a missing database
// into a hard failure instead of a skip.
package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/migrate"
)

// TestingTB covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Skip(args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig holds test database connection parameters, defaulting to the
// local docker-compose test profile's port.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* environment variables, falling back to
// the local test-profile defaults (port 55432; CI sets TEST_DB_PORT=5432).
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "merrymaker"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "merrymaker"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "merrymaker"),
	}
}

func (c TestDBConfig) dsn() string {
	hostPort := net.JoinHostPort(c.Host, c.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Password, hostPort, c.DBName)
}

// SkipIfNoTestDB skips t (or fails it, if TEST_DB_REQUIRE is set) when no
// test database is reachable within a short timeout.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	cfg := DefaultTestDBConfig()
	pool, err := pgxpool.New(context.Background(), cfg.dsn())
	if err != nil {
		failOrSkip(t, "construct test db pool", err)
		return
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		failOrSkip(t, "test database not available", err)
	}
}

func failOrSkip(t TestingTB, msg string, err error) {
	t.Helper()
	if requireDB() {
		t.Fatalf("%s: %v", msg, err)
		return
	}
	t.Skip(fmt.Sprintf("%s: %v", msg, err))
}

// SetupTestDB opens a pool against the test database, runs migrations, and
// truncates control-plane tables so each test starts from a clean slate.
func SetupTestDB(t TestingTB) *pgxpool.Pool {
	t.Helper()
	SkipIfNoTestDB(t)

	cfg := DefaultTestDBConfig()
	pool, err := pgxpool.New(context.Background(), cfg.dsn())
	if err != nil {
		t.Fatalf("open test db pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, pool); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	CleanupTestDB(t, pool)
	return pool
}

// CleanupTestDB truncates control-plane tables in dependency order.
func CleanupTestDB(t TestingTB, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables := []string{
		"job_results", "jobs", "scheduled_tasks",
		"scan_logs", "alerts", "scans", "sites", "sources",
		"rule_cache_entries", "seen_strings", "allow_list", "iocs",
		"secrets",
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate table %s: %v", table, err)
		}
	}
}

// TeardownTestDB cleans up test data and closes the pool.
func TeardownTestDB(t TestingTB, pool *pgxpool.Pool) {
	t.Helper()
	if pool == nil {
		return
	}
	CleanupTestDB(t, pool)
	pool.Close()
}

// WithTestDB sets up and tears down a test database around fn.
func WithTestDB(t TestingTB, fn func(*pgxpool.Pool)) {
	t.Helper()
	pool := SetupTestDB(t)
	defer TeardownTestDB(t, pool)
	fn(pool)
}

func requireDB() bool {
	v, _ := strconv.ParseBool(os.Getenv("TEST_DB_REQUIRE"))
	return v
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
