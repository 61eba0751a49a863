package handler

import (
	"net/http"

	"senseflow/internal/model"
	"senseflow/internal/service"
	"senseflow/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// TelemetryHandler handles telemetry ingestion and raw reads
type TelemetryHandler struct {
	ingestService *service.IngestService
	resultService *service.ResultService
}

// NewTelemetryHandler creates telemetry handler
func NewTelemetryHandler(ingestService *service.IngestService, resultService *service.ResultService) *TelemetryHandler {
	return &TelemetryHandler{
		ingestService: ingestService,
		resultService: resultService,
	}
}

// bindBatch decodes a SenML batch body
func bindBatch(c *gin.Context) (*model.Batch, error) {
	var batch model.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		return nil, apperr.MalformedInput("invalid SenML batch: %v", err)
	}
	return &batch, nil
}

// Ingest queues a telemetry batch
// @Summary Ingest telemetry
// @Description Validate a SenML batch and queue it for storage
// @Tags telemetry
// @Accept json
// @Produce json
// @Param request body model.Batch true "SenML batch"
// @Success 202 {object} model.IngestResponse
// @Router /v1/telemetry [post]
func (h *TelemetryHandler) Ingest(c *gin.Context) {
	batch, err := bindBatch(c)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := h.ingestService.Ingest(c.Request.Context(), batch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// IngestSync stores a telemetry batch immediately
// @Summary Ingest telemetry synchronously
// @Tags telemetry
// @Accept json
// @Produce json
// @Param request body model.Batch true "SenML batch"
// @Success 201 {object} model.IngestResponse
// @Router /v1/telemetry/sync [post]
func (h *TelemetryHandler) IngestSync(c *gin.Context) {
	batch, err := bindBatch(c)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := h.ingestService.IngestSync(c.Request.Context(), batch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Raw returns stored raw telemetry of one execution
// @Summary Fetch raw telemetry
// @Tags telemetry
// @Produce json
// @Param user_id query string true "User ID"
// @Param execution_id query string true "Execution ID"
// @Param sensor query string false "Sensor filter"
// @Param hours query int false "Look back window in hours (1-168, default 2)"
// @Success 200 {object} service.RawResponse
// @Router /v1/telemetry [get]
func (h *TelemetryHandler) Raw(c *gin.Context) {
	hours, err := queryInt(c, "hours")
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := h.resultService.RawData(c.Request.Context(), service.ResultFilter{
		UserID:      c.Query("user_id"),
		ExecutionID: c.Query("execution_id"),
		Sensor:      c.Query("sensor"),
		Hours:       hours,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
