package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"senseflow/pkg/interfaces"

	"github.com/gin-gonic/gin"
)

// QueueHandler exposes queue accounting
type QueueHandler struct {
	queue interfaces.QueueProvider
}

// NewQueueHandler creates queue handler
func NewQueueHandler(queue interfaces.QueueProvider) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Stats returns unclaimed/claimed counts and the oldest pending age
// @Summary Queue statistics
// @Tags queue
// @Produce json
// @Success 200 {object} model.QueueStats
// @Router /v1/queue/stats [get]
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HealthCheck named dependency probe
type HealthCheck func(ctx context.Context) error

// HealthHandler reports dependency health
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates health handler
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 3 * time.Second}
}

// Health runs every check; any failure yields 503
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}
