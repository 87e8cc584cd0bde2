// Package testutil provides shared test infrastructure: a quiet logger and a
// Postgres container for the journal integration tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    if !testing.Short() {
//	        tc, err := testutil.StartPostgres(context.Background())
//	        ...
//	        defer tc.Terminate()
//	    }
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/migrations"
)

// TestContainer wraps a running container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a throwaway Postgres. It fails when Docker is not
// reachable, which callers treat as a reason to skip.
func StartPostgres(ctx context.Context) (*TestContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "skillcheck",
			"POSTGRES_PASSWORD": "skillcheck",
			"POSTGRES_DB":       "skillcheck",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://skillcheck:skillcheck@%s:%s/skillcheck?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// NewJournalStore connects a journal store to the container and migrates it.
func (tc *TestContainer) NewJournalStore(ctx context.Context, logger *slog.Logger) (*journal.PostgresStore, error) {
	s, err := journal.OpenPostgres(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: open store: %w", err)
	}
	if err := s.RunMigrations(ctx, migrations.FS); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return s, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
