// Package testutil starts throwaway Postgres and Redis containers for
// integration tests. Tests using it are skipped under -short.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/roomservice/internal/cache"
	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer is a running, migrated PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgres starts postgres:16-alpine, applies the embedded migrations and
// connects a pool. Everything is torn down when t finishes.
func NewPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	start := time.Now()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	cfg := config.DatabaseConfig{
		Enabled:  true,
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		Name:     "test",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}
	if _, _, err := database.Migrate(cfg.DSN(), "up", 0); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	t.Logf("postgres container started [%s]", time.Since(start))
	return &PostgresContainer{container: container, Pool: pool, Config: cfg}
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return pc.Config.DSN()
}

// Truncate empties the given tables.
func (pc *PostgresContainer) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, tbl := range tables {
		if _, err := pc.Pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s", tbl)); err != nil {
			t.Fatalf("truncating %s: %v", tbl, err)
		}
	}
}

// RedisContainer is a running Redis instance with a connected client.
type RedisContainer struct {
	container testcontainers.Container
	Client    *redis.Client
	Config    config.RedisConfig
}

// NewRedis starts redis:7-alpine and connects a client to it.
func NewRedis(t *testing.T) *RedisContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	start := time.Now()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("getting redis endpoint: %v", err)
	}

	cfg := config.Default().Redis
	cfg.Enabled = true
	cfg.Addr = endpoint
	client, err := cache.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("connecting to test redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	t.Logf("redis container started [%s]", time.Since(start))
	return &RedisContainer{container: container, Client: client, Config: cfg}
}
