// Package postgrescontainer runs the PostgreSQL instance used by the
// repository integration tests.
package postgrescontainer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/adeilh/rakh-sync/internal/testutil/container"
)

const (
	hostPort = "55432"
	user     = "rakh"
	password = "secret"
	dbName   = "rakh_test"
)

var fixture = &container.Fixture{
	Dockerfile:   "Dockerfile.postgres.test",
	Name:         "rakh-sync-postgres-test",
	Ports:        map[string]string{hostPort: "5432"},
	Ready:        ping,
	ReadyTimeout: 15 * time.Second,
}

// Addr returns host:port for connecting to the test Postgres instance.
func Addr() string { return "127.0.0.1:" + hostPort }

// DSN returns a lib/pq formatted connection string.
func DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, Addr(), dbName)
}

// Setup builds and launches the Postgres container if it isn't already running.
func Setup() error { return fixture.Setup() }

// Teardown stops the container launched by Setup.
func Teardown() error { return fixture.Teardown() }

func ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	db, err := sql.Open("postgres", DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
