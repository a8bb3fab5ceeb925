package testutil

import (
	"context"
	"fmt"
	"time"

	pgutil "github.com/bissquit/wastewatch/internal/pkg/postgres"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	redisImage    = "redis:7-alpine"
	redisPort     = "6379/tcp"

	startupTimeout = 30 * time.Second
)

// PostgresContainer is a throwaway database for store and integration tests.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts an empty database. Apply the schema with Migrate
// or let the app run its migrations.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("wastewatch"),
		postgres.WithUsername("wastewatch"),
		postgres.WithPassword("wastewatch"),
		// The server restarts once after init scripts, so the ready line appears twice.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, terminateOnError(ctx, container, fmt.Errorf("get connection string: %w", err))
	}

	return &PostgresContainer{PostgresContainer: container, ConnectionString: connStr}, nil
}

// Migrate applies the up migrations found at sourceURL, e.g. "file://../../../migrations".
func (c *PostgresContainer) Migrate(sourceURL string) error {
	return pgutil.MigrateUp(sourceURL, c.ConnectionString)
}

// RedisContainer backs the escalation queue in tests.
type RedisContainer struct {
	testcontainers.Container
	Addr string
}

// NewRedisContainer starts a Redis server and resolves its host:port.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{redisPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(redisPort),
				wait.ForLog("Ready to accept connections"),
			).WithDeadline(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start redis container: %w", err)
	}

	addr, err := container.PortEndpoint(ctx, redisPort, "")
	if err != nil {
		return nil, terminateOnError(ctx, container, fmt.Errorf("resolve redis endpoint: %w", err))
	}

	return &RedisContainer{Container: container, Addr: addr}, nil
}

func terminateOnError(ctx context.Context, c testcontainers.Container, err error) error {
	if termErr := c.Terminate(ctx); termErr != nil {
		return fmt.Errorf("%w (terminate: %v)", err, termErr)
	}
	return err
}
