// Package testdb provides a PostgreSQL database for integration tests.
//
// Start connects to the database named by CONVERT_TEST_DATABASE_URL or, when
// it is unset, starts a throwaway postgres container with dockertest. Tests
// isolate themselves with WithTx, which rolls back after the test body.
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

// DatabaseURLEnv points tests at an existing database.
const DatabaseURLEnv = "CONVERT_TEST_DATABASE_URL"

// Container settings
const (
	PostgresImage = "postgres"
	PostgresTag   = "16-alpine"
	readyTimeout  = 2 * time.Minute
	// containerTTL bounds how long a leaked container survives a crashed run.
	containerTTL = 10 * 60
)

// Database is a migrated test database.
type Database struct {
	DB  *sql.DB
	URL string

	purge func() error
}

// Start returns a connected database with migrate applied.
func Start(ctx context.Context, migrate func(ctx context.Context, db *sql.DB) error) (*Database, error) {
	d := &Database{URL: os.Getenv(DatabaseURLEnv)}
	if d.URL == "" {
		if err := d.startContainer(ctx); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("pgx", d.URL)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}
	d.DB = db

	if migrate != nil {
		if err := migrate(ctx, db); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("failed to migrate test database: %w", err)
		}
	}
	return d, nil
}

func (d *Database) startContainer(ctx context.Context) error {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return fmt.Errorf("could not connect to docker: %w", err)
	}
	pool.MaxWait = readyTimeout

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: PostgresImage,
		Tag:        PostgresTag,
		Env: []string{
			"POSTGRES_USER=convert",
			"POSTGRES_PASSWORD=convert",
			"POSTGRES_DB=convert",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return fmt.Errorf("could not start postgres container: %w", err)
	}
	_ = resource.Expire(containerTTL)
	d.purge = func() error { return pool.Purge(resource) }

	d.URL = fmt.Sprintf("postgres://convert:convert@%s/convert?sslmode=disable", resource.GetHostPort("5432/tcp"))
	err = pool.Retry(func() error {
		db, err := sql.Open("pgx", d.URL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = d.purge()
		return fmt.Errorf("postgres container did not become ready: %w", err)
	}
	return nil
}

// Close closes the connection and removes the container, if any.
func (d *Database) Close() error {
	var errs []error
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	if d.purge != nil {
		errs = append(errs, d.purge())
	}
	return errors.Join(errs...)
}

// WithTx executes a test function within a transaction, automatically rolling back
// after the test completes. This ensures test isolation and prevents side effects.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "Failed to begin transaction")

	defer func() {
		// sql.ErrTxDone is expected if tx is already committed or rolled back
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}
