package handler

import (
	"net/http"

	"senseflow/internal/model"
	"senseflow/internal/service"
	"senseflow/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// ResultHandler handles stored results and purges
type ResultHandler struct {
	resultService *service.ResultService
}

// NewResultHandler creates result handler
func NewResultHandler(resultService *service.ResultService) *ResultHandler {
	return &ResultHandler{resultService: resultService}
}

// Results returns stored model output
// @Summary Fetch results
// @Tags results
// @Produce json
// @Param user_id query string true "User ID"
// @Param execution_id query string true "Execution ID"
// @Param model_name query string false "Model filter"
// @Param sensor query string false "Sensor filter"
// @Param hours query int false "Look back window in hours (1-168, default 2)"
// @Param format query string false "flat (default) or matrix"
// @Success 200 {object} service.ResultsResponse
// @Router /v1/results [get]
func (h *ResultHandler) Results(c *gin.Context) {
	hours, err := queryInt(c, "hours")
	if err != nil {
		respondError(c, err)
		return
	}
	format := model.OutputFormat(c.DefaultQuery("format", string(model.OutputFlat)))
	if format != model.OutputFlat && format != model.OutputMatrix {
		respondError(c, apperr.MalformedInput("format must be flat or matrix"))
		return
	}

	resp, err := h.resultService.Results(c.Request.Context(), service.ResultFilter{
		UserID:      c.Query("user_id"),
		ExecutionID: c.Query("execution_id"),
		ModelName:   c.Query("model_name"),
		Sensor:      c.Query("sensor"),
		Hours:       hours,
	}, format)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Purge deletes raw and output data of one execution
// @Summary Purge execution data
// @Tags results
// @Param user_id query string true "User ID"
// @Param execution_id query string true "Execution ID"
// @Success 200 {object} map[string]string
// @Router /v1/data [delete]
func (h *ResultHandler) Purge(c *gin.Context) {
	userID, executionID := c.Query("user_id"), c.Query("execution_id")
	if err := h.resultService.Purge(c.Request.Context(), userID, executionID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "execution data purged", "user_id": userID, "execution_id": executionID})
}

// PurgeAll deletes every stored sample
// @Summary Purge all data
// @Tags results
// @Success 200 {object} map[string]string
// @Router /v1/data/all [delete]
func (h *ResultHandler) PurgeAll(c *gin.Context) {
	if err := h.resultService.PurgeAll(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "all data purged"})
}
