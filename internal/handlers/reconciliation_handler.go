package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	service "invoice-reconciliation-engine/internal/services/reconciliation"
)

type ReconciliationHandler struct {
	service *service.Service
}

func NewReconciliationHandler(s *service.Service) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

func (h *ReconciliationHandler) CreateBatch(c *gin.Context) {
	var payload struct {
		Name string `json:"name"`
	}
	if !bindOptionalJSON(c, &payload) {
		return
	}
	batch, err := h.service.CreateBatch(c.Request.Context(), payload.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"batch": batch})
}

func (h *ReconciliationHandler) GetBatch(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	batch, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "running": h.service.Running(batchID)})
}

func (h *ReconciliationHandler) GetBatchStats(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconciliationHandler) AddTransactions(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	var payload struct {
		Transactions []service.BankInput `json:"transactions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	n, err := h.service.AddBankTransactions(c.Request.Context(), batchID, payload.Transactions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "transactions added", "count": n})
}

func (h *ReconciliationHandler) AddInvoices(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	var payload struct {
		Invoices []service.InvoiceInput `json:"invoices" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	n, err := h.service.AddInvoices(c.Request.Context(), batchID, payload.Invoices)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "invoices added", "count": n})
}

// Run starts reconciliation in the background and answers 202 right away.
// Clients follow it through the progress endpoint.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	opts := service.Options{EnableAI: h.service.AIEnabled()}
	if !bindOptionalJSON(c, &opts) {
		return
	}
	if err := h.service.Start(batchID, opts); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":  "reconciliation started",
		"batch_id": batchID,
		"options":  opts,
	})
}

func (h *ReconciliationHandler) Stop(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	running := h.service.RequestStop(batchID)
	c.JSON(http.StatusOK, gin.H{"message": "stop requested", "running": running})
}

func (h *ReconciliationHandler) GetProgress(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	progress, err := h.service.Progress(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *ReconciliationHandler) ListMatches(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "batch")
	if !ok {
		return
	}
	matches, err := h.service.ListMatches(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": matches})
}

func (h *ReconciliationHandler) ConfirmMatch(c *gin.Context) {
	id, ok := parseID(c, "id", "match")
	if !ok {
		return
	}
	var payload struct {
		PerformedBy string `json:"performed_by"`
	}
	if !bindOptionalJSON(c, &payload) {
		return
	}
	m, err := h.service.ConfirmMatch(c.Request.Context(), id, operator(payload.PerformedBy))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match confirmed", "match": m})
}
