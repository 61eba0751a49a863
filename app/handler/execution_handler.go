package handler

import (
	"net/http"

	"senseflow/internal/model"
	"senseflow/internal/service"

	"github.com/gin-gonic/gin"
)

// ExecutionHandler handles model dispatch
type ExecutionHandler struct {
	executionService *service.ExecutionService
}

// NewExecutionHandler creates execution handler
func NewExecutionHandler(executionService *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executionService: executionService}
}

// Run dispatches compatible models and saves their output
// @Summary Run models
// @Tags executions
// @Accept json
// @Produce json
// @Param request body model.Batch true "SenML batch with optional selection_mode/model_name/output_format"
// @Success 200 {object} model.DispatchResponse
// @Router /v1/executions [post]
func (h *ExecutionHandler) Run(c *gin.Context) {
	h.dispatch(c, true)
}

// RunEphemeral dispatches compatible models and purges the execution's data afterwards
// @Summary Run models without saving
// @Tags executions
// @Accept json
// @Produce json
// @Param request body model.Batch true "SenML batch"
// @Success 200 {object} model.DispatchResponse
// @Router /v1/executions/ephemeral [post]
func (h *ExecutionHandler) RunEphemeral(c *gin.Context) {
	h.dispatch(c, false)
}

func (h *ExecutionHandler) dispatch(c *gin.Context, save bool) {
	batch, err := bindBatch(c)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := h.executionService.Dispatch(c.Request.Context(), batch, save)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Status == model.DispatchNoMatch {
		status = http.StatusNotFound
	}
	c.JSON(status, resp)
}
