package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"scrap-pickup-api/catalog"
	"scrap-pickup-api/models"
)

func (h *Handler) ListScrapTypes(c *gin.Context) {
	types, err := h.catalog.ListScrapTypes(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

func (h *Handler) CreateScrapType(c *gin.Context) {
	var req models.ScrapType
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	st, err := h.catalog.CreateScrapType(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) UpdateScrapType(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var patch catalog.ScrapTypePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badBody(c, err)
		return
	}
	st, err := h.catalog.UpdateScrapType(c.Request.Context(), id, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteScrapType(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteScrapType(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
