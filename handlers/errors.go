package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scrap-pickup-api/logger"
	"scrap-pickup-api/models"
	"scrap-pickup-api/statemachine"
)

// respondError maps domain errors onto status codes. Anything unexpected is
// logged and hidden behind a generic 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	var te *statemachine.TransitionError
	switch {
	case errors.As(err, &te):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":             err.Error(),
			"code":              "INVALID_TRANSITION",
			"current_status":    te.From,
			"valid_next_states": te.ValidNext(),
		})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "INVALID_TRANSITION"})
	case errors.Is(err, models.ErrInvalidPhone):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_PHONE"})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_INPUT"})
	case errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "UNAUTHORIZED"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "FORBIDDEN"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "CONFLICT"})
	case errors.Is(err, models.ErrTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Backend timed out, retry later", "code": "TIMEOUT"})
	default:
		logger.FromContext(c, h.log).Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "SERVER_ERROR"})
	}
}

func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_BODY"})
}

func (h *Handler) pathID(c *gin.Context) (models.ID, bool) {
	id, err := models.ParseID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return 0, false
	}
	return id, true
}
