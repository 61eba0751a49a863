package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"senseflow/app/handler"
	"senseflow/app/router"
	"senseflow/internal/service"
	"senseflow/pkg/artifact"
	"senseflow/pkg/cache"
	"senseflow/pkg/config"
	"senseflow/pkg/inference/wasm"
	"senseflow/pkg/logger"
	"senseflow/pkg/queue"
	"senseflow/pkg/registry"
	"senseflow/pkg/store/influx"
	mysqlstore "senseflow/pkg/store/mysql"
	redisstore "senseflow/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		_ = logger.Sync()
	})
	return nil
}

// initMySQL opens MySQL when the queue or the registry lives there
func (app *Application) initMySQL() error {
	if app.config.Queue.Provider != "mysql" && app.config.Registry.Provider != "mysql" {
		logger.InfoCtx(app.ctx, "MySQL not required by queue or registry provider, skipping")
		return nil
	}

	repo, err := mysqlstore.NewRepository(app.ctx, app.config.MySQL.DSN())
	if err != nil {
		return err
	}
	if app.config.MySQL.AutoMigrate {
		if err := repo.GetDatastore().AutoMigrate(app.ctx); err != nil {
			repo.Close()
			return err
		}
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})
	return nil
}

// initRedis connects to Redis; without an address jobs run in single-instance mode
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.WarnCtx(app.ctx, "Redis not configured, background jobs run in single-instance mode")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initStore connects to the time-series store
func (app *Application) initStore() error {
	store, err := influx.NewStore(app.config.Influx)
	if err != nil {
		return err
	}
	if err := store.Ping(app.ctx); err != nil {
		logger.WarnCtx(app.ctx, "time-series store not reachable yet: %v", err)
	}

	app.store = store
	app.registerCleanup(store.Close)
	return nil
}

// initQueue creates the durable queue provider
func (app *Application) initQueue() error {
	q, err := queue.CreateQueueProvider(app.ctx, app.config, app.mysqlRepo)
	if err != nil {
		return err
	}

	app.queue = q
	app.registerCleanup(func() {
		if err := q.Close(); err != nil {
			logger.WarnCtx(app.ctx, "failed to close queue: %v", err)
		}
	})
	return nil
}

// initRegistry creates the model registry client
func (app *Application) initRegistry() error {
	r, err := registry.CreateModelRegistry(app.config, app.mysqlRepo)
	if err != nil {
		return err
	}
	app.registry = r
	return nil
}

// initInference sets up the availability cache, artifact fetcher and wasm runtime
func (app *Application) initInference() error {
	app.availability = cache.NewAvailabilityCache(app.config.Cache.AvailabilitySize, app.config.Cache.AvailabilityTTL)

	fetcher, err := artifact.NewFetcher(app.config.Artifacts)
	if err != nil {
		return err
	}
	app.fetcher = fetcher

	runtime, err := wasm.NewRuntime(app.ctx)
	if err != nil {
		return err
	}
	app.runtime = runtime
	app.registerCleanup(func() {
		if err := runtime.Close(context.Background()); err != nil {
			logger.WarnCtx(app.ctx, "failed to close inference runtime: %v", err)
		}
	})
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.resolverService = service.NewResolverService(app.registry, app.store, app.availability)
	app.ingestService = service.NewIngestService(app.queue, app.store, app.registry).WithCache(app.availability)
	app.resultService = service.NewResultService(app.store, app.availability)

	tensors := service.NewTensorBuilder(app.store, app.config.Execution.MaxRetries, app.config.Execution.RetryDelay)
	app.executionService = service.NewExecutionService(
		app.resolverService,
		tensors,
		app.fetcher,
		app.runtime,
		app.store,
		service.ExecutionOptions{
			Queue:       app.queue,
			Cache:       app.availability,
			AsyncOutput: app.config.Execution.AsyncOutput,
		},
	)
	return nil
}

// initHTTPServer builds the gin engine; drain-only processes serve no HTTP
func (app *Application) initHTTPServer() error {
	if !app.config.RunsAPI() {
		logger.InfoCtx(app.ctx, "role %s serves no HTTP", app.config.Server.Role)
		return nil
	}

	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	checks := map[string]handler.HealthCheck{
		"store": app.store.Ping,
		"queue": func(ctx context.Context) error {
			_, err := app.queue.QueueLength(ctx)
			return err
		},
	}
	if app.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.redisClient.GetClient().Ping(ctx).Err()
		}
	}

	r := router.NewRouter(router.Handlers{
		Telemetry: handler.NewTelemetryHandler(app.ingestService, app.resultService),
		Model:     handler.NewModelHandler(app.resolverService),
		Execution: handler.NewExecutionHandler(app.executionService),
		Result:    handler.NewResultHandler(app.resultService),
		Queue:     handler.NewQueueHandler(app.queue),
		Health:    handler.NewHealthHandler(checks),
	}, app.config.Server.APIKey)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
