package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scrap-pickup-api/catalog"
	"scrap-pickup-api/models"
)

func (h *Handler) ListDealers(c *gin.Context) {
	dealers, err := h.catalog.ListDealers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dealers)
}

func (h *Handler) CreateDealer(c *gin.Context) {
	var req models.Dealer
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	dealer, err := h.catalog.CreateDealer(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dealer)
}

func (h *Handler) UpdateDealer(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var patch catalog.DealerPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badBody(c, err)
		return
	}
	dealer, err := h.catalog.UpdateDealer(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dealer)
}

// DeleteDealer removes a dealer and downgrades its users to customers.
func (h *Handler) DeleteDealer(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteDealer(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
