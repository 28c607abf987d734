package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offpost/mailsync"
	"github.com/offpost/mailsync/internal/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestDB creates a new Postgres test container, runs migrations, and returns a connection pool.
// The container is automatically cleaned up when the test finishes.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailsync_test"),
		postgres.WithUsername("mailsync"),
		postgres.WithPassword("mailsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}
	poolConfig.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := runMigrations(ctx, pool); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return pool
}

// runMigrations executes the embedded schema files in filename order.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(mailsync.Migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(mailsync.Migrations, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
	}

	return nil
}

// InsertThread creates a thread row with sensible defaults and returns it.
func InsertThread(t *testing.T, pool *pgxpool.Pool, entityID, title, myEmail string) *models.Thread {
	t.Helper()

	thread := &models.Thread{
		EntityID:      entityID,
		Title:         title,
		MyName:        "Test Requester",
		MyEmail:       myEmail,
		SendingStatus: models.SendingStatusStaging,
		Labels:        []string{},
	}

	err := pool.QueryRow(context.Background(), `
		INSERT INTO threads (entity_id, title, my_name, my_email, sending_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, thread.EntityID, thread.Title, thread.MyName, thread.MyEmail, thread.SendingStatus).Scan(&thread.ID, &thread.CreatedAt)
	if err != nil {
		t.Fatalf("Failed to insert thread: %v", err)
	}

	return thread
}
