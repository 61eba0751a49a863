// Package postgres is the Postgres-backed durable queue store: connection setup over
// pgx/v5 stdlib, embedded golang-migrate migrations and the queue repository.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"senseflow/pkg/retry"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// MigrationFS embeds SQL migration files from pkg/store/postgres/migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// ConnectPolicy bounds connection attempts at startup: 10 tries, 2s apart
var ConnectPolicy = retry.Policy{InitialInterval: 2 * time.Second, Multiplier: 1, MaxTries: 10}

// Open opens a Postgres connection using the given DSN and pings it. Caller must call Close when done.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	return retry.Do(ctx, ConnectPolicy, "postgres connect", func() (*sql.DB, error) {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		return db, nil
	})
}
