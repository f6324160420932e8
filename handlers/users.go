package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"scrap-pickup-api/identity"
	"scrap-pickup-api/models"
)

// GetUser looks a user up by phone. Unknown phones yield null; the token is
// never included.
func (h *Handler) GetUser(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		h.respondError(c, fmt.Errorf("%w: phone query parameter is required", models.ErrInvalidInput))
		return
	}
	user, err := h.ids.ResolveByPhone(c.Request.Context(), phone)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusOK, nil)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

type CreateUserRequest struct {
	Phone    models.Phone `json:"phone" binding:"required"`
	Name     string       `json:"name"`
	Language string       `json:"language"`
}

// CreateUser is the phone login: it returns the user for the phone, with its
// token, creating it on first use.
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	user, created, err := h.ids.CreateOrGetUser(c.Request.Context(), string(req.Phone), identity.Profile{
		Name:     req.Name,
		Language: req.Language,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, user)
}

type AssignRoleRequest struct {
	Phone    models.Phone `json:"phone" binding:"required"`
	Role     string       `json:"role" binding:"required"`
	DealerID *models.ID   `json:"dealerId"`
}

// AssignRole sets a user's role. Admin only.
func (h *Handler) AssignRole(c *gin.Context) {
	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		h.respondError(c, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, req.Role))
		return
	}
	user, err := h.ids.SetRole(c.Request.Context(), string(req.Phone), role, req.DealerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
