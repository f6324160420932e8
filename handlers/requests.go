package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"scrap-pickup-api/lifecycle"
	"scrap-pickup-api/middleware"
	"scrap-pickup-api/models"
)

// ListRequests returns the caller's requests, newest first. Without a bearer
// token the phone query parameter identifies the customer.
func (h *Handler) ListRequests(c *gin.Context) {
	filter := lifecycle.ListFilter{
		Phone:  c.Query("phone"),
		Status: models.RequestStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.respondError(c, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, filter.Status))
		return
	}

	actor, ok := middleware.GetActor(c)
	if !ok {
		if filter.Phone == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Bearer token or phone required", "code": "UNAUTHORIZED"})
			return
		}
		phone, err := models.NormalizePhone(filter.Phone)
		if err != nil {
			h.respondError(c, err)
			return
		}
		actor = models.User{Phone: models.Phone(phone), Role: models.RoleCustomer}
	}

	reqs, err := h.engine.ListRequests(c.Request.Context(), actor, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	req, err := h.engine.GetRequest(c.Request.Context(), actor, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// CreateRequest files a new pickup request for the caller, or for any phone
// when the caller is an admin.
func (h *Handler) CreateRequest(c *gin.Context) {
	var req models.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	actor, _ := middleware.GetActor(c)
	created, err := h.engine.CreateRequest(c.Request.Context(), actor, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateRequest merges a partial request; status changes go through the
// state machine.
func (h *Handler) UpdateRequest(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var patch lifecycle.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badBody(c, err)
		return
	}
	actor, _ := middleware.GetActor(c)
	updated, err := h.engine.UpdateRequest(c.Request.Context(), actor, id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type AssignDealerRequest struct {
	DealerID models.ID `json:"dealerId" binding:"required"`
}

func (h *Handler) AssignDealer(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req AssignDealerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	actor, _ := middleware.GetActor(c)
	updated, err := h.engine.AssignDealer(c.Request.Context(), actor, id, req.DealerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
