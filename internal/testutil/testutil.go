// Package testutil provides PostgreSQL and Redis fixtures plus request builders for tests.
//
// Database tests skip when no server answers unless TEST_REQUIRE_DB (or TEST_REQUIRE_INFRA)
// is set, in which case they fail. TEST_DB_EPHEMERAL gives every test its own schema.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/acme/shelfsort/internal/migrate"
)

// TestDBConfig locates the test database. The default port matches the docker compose
// test profile; CI sets TEST_DB_PORT=5432.
type TestDBConfig struct {
	Host      string `env:"TEST_DB_HOST"       envDefault:"localhost"`
	Port      string `env:"TEST_DB_PORT"       envDefault:"55432"`
	User      string `env:"TEST_DB_USER"       envDefault:"shelfsort"`
	Password  string `env:"TEST_DB_PASSWORD"   envDefault:"shelfsort"`
	DBName    string `env:"TEST_DB_NAME"       envDefault:"shelfsort"`
	SSLMode   string `env:"DB_SSL_MODE"        envDefault:"disable"`
	Ephemeral bool   `env:"TEST_DB_EPHEMERAL"`
	Require   bool   `env:"TEST_REQUIRE_DB"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisDB      int    `env:"TEST_REDIS_DB"      envDefault:"-1"`
	RequireRedis bool   `env:"TEST_REQUIRE_REDIS"`
	RequireInfra bool   `env:"TEST_REQUIRE_INFRA"`
}

// DefaultTestDBConfig reads TestDBConfig from the environment.
func DefaultTestDBConfig() TestDBConfig {
	cfg, err := env.ParseAs[TestDBConfig]()
	if err != nil {
		// only reachable with malformed booleans or ints; fall back to defaults
		cfg = TestDBConfig{Host: "localhost", Port: "55432", User: "shelfsort", Password: "shelfsort",
			DBName: "shelfsort", SSLMode: "disable", RedisDB: -1}
	}
	return cfg
}

// DSN renders a pgx connection string, optionally pinned to schema.
func (c TestDBConfig) DSN(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   c.DBName,
	}
	q := url.Values{"sslmode": {c.SSLMode}}
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c TestDBConfig) requireDB() bool    { return c.Require || c.RequireInfra }
func (c TestDBConfig) requireRedis() bool { return c.RequireRedis || c.RequireInfra }

func skipOrFail(t testing.TB, required bool, args ...any) {
	t.Helper()
	if required {
		t.Fatal(args...)
	}
	t.Skip(args...)
}

func openDB(t testing.TB, dsn string, timeout time.Duration) (*sql.DB, error) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SkipIfNoTestDB skips (or fails, when required) if the test database does not answer.
func SkipIfNoTestDB(t testing.TB) {
	t.Helper()
	cfg := DefaultTestDBConfig()
	db, err := openDB(t, cfg.DSN(""), 2*time.Second)
	if err != nil {
		skipOrFail(t, cfg.requireDB(), "test database not available:", err)
		return
	}
	_ = db.Close()
}

// RunMigrations applies the production migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

func mustMigrate(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

// SetupTestDB connects to the shared test database, migrates it and truncates every table
// before and after the test.
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()
	cfg := DefaultTestDBConfig()
	db, err := openDB(t, cfg.DSN(""), 5*time.Second)
	if err != nil {
		skipOrFail(t, cfg.requireDB(), "test database not available:", err)
	}
	mustMigrate(t, db)
	CleanupTestDB(t, db)
	t.Cleanup(func() {
		CleanupTestDB(t, db)
		_ = db.Close()
	})
	return db
}

// CleanupTestDB deletes all rows, children before parents.
func CleanupTestDB(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx,
		`TRUNCATE products, collections, merchants, bulk_operations, scheduled_jobs, jobs`); err != nil {
		t.Fatalf("clean test database: %v", err)
	}
}

// SetupEphemeralSchemaDB migrates a fresh schema for the test and drops it afterwards.
func SetupEphemeralSchemaDB(t testing.TB) *sql.DB {
	t.Helper()
	cfg := DefaultTestDBConfig()
	admin, err := openDB(t, cfg.DSN(""), 5*time.Second)
	if err != nil {
		skipOrFail(t, cfg.requireDB(), "test database not available:", err)
	}

	schema := "t_" + strings.ToLower(rand.Text()[:10])
	if _, err := admin.ExecContext(context.Background(), "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Logf("using ephemeral schema %s", schema)

	db, err := openDB(t, cfg.DSN(schema), 10*time.Second)
	t.Cleanup(func() {
		if db != nil {
			_ = db.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, derr := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); derr != nil {
			t.Logf("drop schema %s: %v", schema, derr)
		}
		_ = admin.Close()
	})
	if err != nil {
		t.Fatalf("open schema %s: %v", schema, err)
	}
	db.SetMaxOpenConns(10)
	mustMigrate(t, db)
	return db
}

// SetupAutoDB returns an ephemeral schema when TEST_DB_EPHEMERAL is set, the shared
// database otherwise. Either way cleanup is registered on t.
func SetupAutoDB(t testing.TB) *sql.DB {
	t.Helper()
	if DefaultTestDBConfig().Ephemeral {
		return SetupEphemeralSchemaDB(t)
	}
	return SetupTestDB(t)
}

// WithAutoDB runs fn against SetupAutoDB.
func WithAutoDB(t testing.TB, fn func(*sql.DB)) {
	t.Helper()
	fn(SetupAutoDB(t))
}

// TestTime is the fixed clock start used across repository tests.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// ConcurrentTestRunner starts operations together and collects their errors by index.
type ConcurrentTestRunner struct {
	t  testing.TB
	db *sql.DB
}

// NewConcurrentTestRunner returns a runner bound to t.
func NewConcurrentTestRunner(t testing.TB, db *sql.DB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t, db: db}
}

// RunConcurrent runs every fn in its own goroutine and returns their errors in order.
func (r *ConcurrentTestRunner) RunConcurrent(funcs ...func() error) []error {
	r.t.Helper()
	errs := make([]error, len(funcs))
	start := make(chan struct{})
	var g errgroup.Group
	for i, fn := range funcs {
		g.Go(func() error {
			<-start
			errs[i] = fn()
			return nil
		})
	}
	close(start)
	_ = g.Wait()
	return errs
}

// AssertNoErrors fails the test on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("concurrent operation %d failed: %v", i, err)
		}
	}
}

func pingRedis(addr string) error {
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}

// GetTestRedisAddr returns the first answering address among REDIS_ADDR, the compose
// service name, the default port and the test profile port.
func GetTestRedisAddr(t testing.TB) (string, bool) {
	t.Helper()
	candidates := []string{"redis:6379", "localhost:6379", "localhost:56379"}
	if addr := DefaultTestDBConfig().RedisAddr; addr != "" {
		candidates = []string{addr}
	}
	for _, addr := range candidates {
		if err := pingRedis(addr); err == nil {
			return addr, true
		}
	}
	return candidates[len(candidates)-1], false
}

// reserveRedisDB claims a logical database in 1..15 through a lock key in DB 0 so
// packages running in parallel do not flush each other's data.
func reserveRedisDB(t testing.TB, addr string) int {
	t.Helper()
	meta := redis.NewClient(&redis.Options{Addr: addr})
	owner := rand.Text()
	for i := 1; i <= 15; i++ {
		key := fmt.Sprintf("shelfsort:testutil:db_lock:%d", i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, owner, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = meta.Del(ctx, key).Err()
			_ = meta.Close()
		})
		return i
	}
	_ = meta.Close()
	return 1
}

// SetupTestRedis returns a client on an empty, reserved logical database.
// TEST_REDIS_DB pins the database index.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()
	cfg := DefaultTestDBConfig()
	addr, ok := GetTestRedisAddr(t)
	if !ok {
		skipOrFail(t, cfg.requireRedis(), "redis not available for testing at", addr)
	}
	dbIndex := cfg.RedisDB
	if dbIndex < 0 {
		dbIndex = reserveRedisDB(t, addr)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		skipOrFail(t, cfg.requireRedis(), "flush redis:", err)
	}
	return client
}
