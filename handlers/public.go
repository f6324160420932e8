package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scrap-pickup-api/statemachine"
)

// GetStateMachineInfo returns the full state machine for informational purposes
func (h *Handler) GetStateMachineInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state_machine":   statemachine.GetAllTransitions(),
		"terminal_states": statemachine.TerminalStates(),
		"description":     "Scrap pickup request lifecycle state machine",
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "Scrap Pickup API",
		"backend": h.store.BackendName(),
	})
}
