package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/mapping"
)

type MappingHandler struct {
	store *mapping.Store
}

func NewMappingHandler(s *mapping.Store) *MappingHandler {
	return &MappingHandler{store: s}
}

// List returns every mapping, or those whose person or company contains q.
func (h *MappingHandler) List(c *gin.Context) {
	var (
		list []models.PayerMapping
		err  error
	)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		list, err = h.store.Search(c.Request.Context(), q)
	} else {
		list, err = h.store.List(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *MappingHandler) Create(c *gin.Context) {
	var in mapping.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m, created, err := h.store.Add(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"mapping": m, "created": created})
}

func (h *MappingHandler) BatchCreate(c *gin.Context) {
	var payload struct {
		Mappings []mapping.Input `json:"mappings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	c.JSON(http.StatusOK, h.store.BatchAdd(c.Request.Context(), payload.Mappings))
}

func (h *MappingHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "mapping")
	if !ok {
		return
	}
	var patch mapping.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m, err := h.store.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mapping": m})
}

func (h *MappingHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "mapping")
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mapping deleted"})
}

func (h *MappingHandler) Deduplicate(c *gin.Context) {
	n, err := h.store.Deduplicate(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "duplicates removed", "removed": n})
}

func (h *MappingHandler) Suggestions(c *gin.Context) {
	var batchID *uuid.UUID
	if raw := c.Query("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch ID"})
			return
		}
		batchID = &id
	}
	names, err := h.store.SuggestCompanyNames(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": names})
}

func (h *MappingHandler) ProxyCandidates(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	list, err := h.store.DetectProxyCandidates(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}
