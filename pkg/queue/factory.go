package queue

import (
	"context"
	"fmt"

	"senseflow/pkg/config"
	"senseflow/pkg/interfaces"
	"senseflow/pkg/logger"
	mysqlqueue "senseflow/pkg/queue/mysql"
	pgqueue "senseflow/pkg/queue/postgres"
	mysqlstore "senseflow/pkg/store/mysql"
	pgstore "senseflow/pkg/store/postgres"
)

// CreateQueueProvider creates queue provider
// The mysql provider shares repo with the registry; the postgres provider opens its own connection.
func CreateQueueProvider(ctx context.Context, cfg *config.Config, repo *mysqlstore.Repository) (interfaces.QueueProvider, error) {
	switch cfg.Queue.Provider {
	case "mysql", "":
		if repo == nil {
			return nil, fmt.Errorf("mysql queue provider requires a mysql repository")
		}
		return mysqlqueue.NewMySQLQueueProvider(repo), nil
	case "postgres":
		if cfg.Postgres.Migrate {
			if err := pgstore.Migrate(cfg.Postgres.DSN, "up"); err != nil {
				return nil, fmt.Errorf("failed to migrate postgres queue: %w", err)
			}
			logger.InfoCtx(ctx, "postgres queue migrations applied")
		}
		db, err := pgstore.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return pgqueue.NewPostgresQueueProvider(db), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider type: %s", cfg.Queue.Provider)
	}
}
