package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/exception"
)

type ExceptionHandler struct {
	detector *exception.Detector
}

func NewExceptionHandler(d *exception.Detector) *ExceptionHandler {
	return &ExceptionHandler{detector: d}
}

func (h *ExceptionHandler) List(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	status := c.Query("status")
	switch status {
	case "", "all":
		status = ""
	case models.ExceptionPending, models.ExceptionResolved, models.ExceptionIgnored:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}
	list, err := h.detector.List(c.Request.Context(), batchID, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *ExceptionHandler) Resolve(c *gin.Context) {
	id, ok := parseID(c, "id", "exception")
	if !ok {
		return
	}
	var payload struct {
		Status      string `json:"status" binding:"required"`
		Resolution  string `json:"resolution"`
		PerformedBy string `json:"performed_by"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	exc, err := h.detector.Resolve(c.Request.Context(), id, payload.Status, payload.Resolution, operator(payload.PerformedBy))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "exception " + exc.Status, "exception": exc})
}
