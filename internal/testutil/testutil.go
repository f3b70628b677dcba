package testutil

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/gopherauth/internal/db"
)

const (
	postgresImage    = "postgres:17-alpine"
	postgresDatabase = "gopherauth-test"
	postgresUser     = "gopherauth"
	postgresPassword = "pwd"
)

// RandomPort returns free port on loopback interface
func RandomPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close() // nolint:errcheck

	return ln.Addr().(*net.TCPAddr).Port, nil
}

type PostgresContainer struct {
	Pool *pgxpool.Pool
	DSN  string

	// Terminate may be called early. Also registered as test cleanup
	Terminate func()
}

// StartPostgresContainer runs migrated postgres in docker
// Test is skipped when docker provider is not reachable
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(t.Context(), postgresImage,
		postgres.WithDatabase(postgresDatabase),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword(postgresPassword),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "postgres container did not start")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err, "no connection string for postgres container")

	pool, err := db.ConnectAndMigrate(t.Context(), dsn)
	require.NoError(t, err, "postgres migrations failed, DSN=%s", dsn)

	pc := PostgresContainer{Pool: pool, DSN: dsn}
	closed := false
	pc.Terminate = func() {
		if closed {
			return
		}
		closed = true
		pool.Close()
		_ = container.Terminate(context.Background())
	}
	t.Cleanup(pc.Terminate)

	return pc
}

// StartRedis runs in-memory redis. Stopped automatically when test ends
func StartRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

// NewMockPool returns pgxmock pool that checks expectations at test end
func NewMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create pgxmock pool")
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})

	return mock
}

type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Tx opens transaction that is rolled back when test ends
func Tx(t *testing.T, b beginner) pgx.Tx {
	t.Helper()

	tx, err := b.Begin(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() {
		// t.Context is already cancelled inside cleanup
		require.NoError(t, tx.Rollback(context.Background()))
	})

	return tx
}

// WithTx runs testFunc inside transaction that never commits
func WithTx(b beginner, t *testing.T, testFunc func(tx pgx.Tx)) {
	t.Helper()

	tx, err := b.Begin(t.Context())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, tx.Rollback(t.Context()))
	}()

	testFunc(tx)
}
