package routes

import (
	"github.com/gin-gonic/gin"

	handler "invoice-reconciliation-engine/internal/handlers"
	service "invoice-reconciliation-engine/internal/services/reconciliation"
)

func RegisterRoutes(r *gin.Engine, reconService *service.Service) {
	reconHandler := handler.NewReconciliationHandler(reconService)
	exceptionHandler := handler.NewExceptionHandler(reconService.Exceptions())
	mappingHandler := handler.NewMappingHandler(reconService.Mappings())

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "ai": reconService.AIEnabled()})
	})

	// Batch routes
	batches := api.Group("/batches")
	batches.POST("", reconHandler.CreateBatch)
	batches.GET("/:batchId", reconHandler.GetBatch)
	batches.GET("/:batchId/stats", reconHandler.GetBatchStats)
	batches.POST("/:batchId/transactions", reconHandler.AddTransactions)
	batches.POST("/:batchId/invoices", reconHandler.AddInvoices)
	batches.POST("/:batchId/run", reconHandler.Run)
	batches.POST("/:batchId/stop", reconHandler.Stop)
	batches.GET("/:batchId/progress", reconHandler.GetProgress)
	batches.GET("/:batchId/matches", reconHandler.ListMatches)
	batches.GET("/:batchId/exceptions", exceptionHandler.List)
	batches.GET("/:batchId/proxy-candidates", mappingHandler.ProxyCandidates)

	api.POST("/matches/:id/confirm", reconHandler.ConfirmMatch)
	api.POST("/exceptions/:id/resolve", exceptionHandler.Resolve)

	// Payer mapping routes
	mappings := api.Group("/mappings")
	{
		mappings.GET("", mappingHandler.List)
		mappings.POST("", mappingHandler.Create)
		mappings.POST("/batch", mappingHandler.BatchCreate)
		mappings.POST("/dedup", mappingHandler.Deduplicate)
		mappings.GET("/suggestions", mappingHandler.Suggestions)
		mappings.PUT("/:id", mappingHandler.Update)
		mappings.DELETE("/:id", mappingHandler.Delete)
	}
}
