package handler

import (
	"net/http"

	"senseflow/internal/model"
	"senseflow/internal/service"
	"senseflow/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// ModelHandler handles registry listing and compatibility resolution
type ModelHandler struct {
	resolver *service.ResolverService
}

// NewModelHandler creates model handler
func NewModelHandler(resolver *service.ResolverService) *ModelHandler {
	return &ModelHandler{resolver: resolver}
}

// CompatibleResponse compatible models of a batch or stored execution
type CompatibleResponse struct {
	Models []model.Match `json:"models"`
	Count  int           `json:"count"`
}

// List returns every registered model
// @Summary List models
// @Tags models
// @Produce json
// @Success 200 {array} model.ModelDescriptor
// @Router /v1/models [get]
func (h *ModelHandler) List(c *gin.Context) {
	descriptors, err := h.resolver.Models(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, descriptors)
}

// Compatible resolves the models a batch (or the stored data of its ids) can feed
// @Summary Resolve compatible models
// @Description Records in the body are resolved directly; a body with only user_id/execution_id is resolved against stored data
// @Tags models
// @Accept json
// @Produce json
// @Param request body model.Batch true "SenML batch or ids"
// @Success 200 {object} CompatibleResponse
// @Router /v1/models/compatible [post]
func (h *ModelHandler) Compatible(c *gin.Context) {
	batch, err := bindBatch(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(batch.Records) > 0 {
		if err := batch.Validate(); err != nil {
			respondError(c, err)
			return
		}
	}

	matches, err := h.resolver.ResolveBatch(c.Request.Context(), batch)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(matches) == 0 {
		respondError(c, apperr.NoCompatibleModel("no registered model matches the available sensors and features"))
		return
	}

	c.JSON(http.StatusOK, CompatibleResponse{Models: matches, Count: len(matches)})
}
