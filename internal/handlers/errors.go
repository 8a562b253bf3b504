package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/exception"
	"invoice-reconciliation-engine/internal/services/mapping"
	service "invoice-reconciliation-engine/internal/services/reconciliation"
)

const defaultOperator = "operator"

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case repository.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrBatchRunning), errors.Is(err, exception.ErrNotPending):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidRecord),
		errors.Is(err, exception.ErrInvalidResolution),
		errors.Is(err, mapping.ErrInvalidMapping):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON accepts an empty body and leaves v untouched in that case.
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}

func operator(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return defaultOperator
}
