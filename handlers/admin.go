package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scrap-pickup-api/models"
)

// Reconcile runs every reconciliation job and reports what changed.
func (h *Handler) Reconcile(c *gin.Context) {
	report := h.jobs.RunAll(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

// ListUsers returns all users, optionally filtered by role. Admin only.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.Users.List(c.Request.Context(), nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	role := models.UserRole(c.Query("role"))
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, u)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "users": out})
}
