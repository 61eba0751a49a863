package router

import (
	"senseflow/app/handler"
	"senseflow/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	telemetryHandler *handler.TelemetryHandler
	modelHandler     *handler.ModelHandler
	executionHandler *handler.ExecutionHandler
	resultHandler    *handler.ResultHandler
	queueHandler     *handler.QueueHandler
	healthHandler    *handler.HealthHandler
	apiKey           string
}

// Handlers groups the route handlers
type Handlers struct {
	Telemetry *handler.TelemetryHandler
	Model     *handler.ModelHandler
	Execution *handler.ExecutionHandler
	Result    *handler.ResultHandler
	Queue     *handler.QueueHandler
	Health    *handler.HealthHandler
}

// NewRouter creates a new Router; apiKey guards mutating routes when set
func NewRouter(h Handlers, apiKey string) *Router {
	return &Router{
		telemetryHandler: h.Telemetry,
		modelHandler:     h.Model,
		executionHandler: h.Execution,
		resultHandler:    h.Result,
		queueHandler:     h.Queue,
		healthHandler:    h.Health,
		apiKey:           apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/health", r.healthHandler.Health)

	auth := middleware.AuthMiddleware(r.apiKey)
	v1 := engine.Group("/v1")
	{
		// Telemetry
		v1.POST("/telemetry", auth, r.telemetryHandler.Ingest)
		v1.POST("/telemetry/sync", auth, r.telemetryHandler.IngestSync)
		v1.GET("/telemetry", r.telemetryHandler.Raw)

		// Model registry
		v1.GET("/models", r.modelHandler.List)
		v1.POST("/models/compatible", r.modelHandler.Compatible)

		// Executions
		v1.POST("/executions", auth, r.executionHandler.Run)
		v1.POST("/executions/ephemeral", auth, r.executionHandler.RunEphemeral)

		// Results and purges
		v1.GET("/results", r.resultHandler.Results)
		v1.DELETE("/data", auth, r.resultHandler.Purge)
		v1.DELETE("/data/all", auth, r.resultHandler.PurgeAll)

		// Queue
		v1.GET("/queue/stats", r.queueHandler.Stats)
	}
}
