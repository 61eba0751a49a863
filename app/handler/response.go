package handler

import (
	"net/http"
	"strconv"

	"senseflow/pkg/apperr"
	"senseflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorResponse error body shared by every route
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Hint  string `json:"hint,omitempty"`
}

// respondError writes err with the status of its category
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), "%s %s failed: %+v", c.Request.Method, c.FullPath(), err)
	} else {
		logger.WarnCtx(c.Request.Context(), "%s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Kind:  apperr.Kind(err),
		Hint:  apperr.Hint(err),
	})
}

// queryInt parses an optional integer query parameter
func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.MalformedInput("query parameter %s must be an integer", key)
	}
	return v, nil
}
