package main

import (
	"flag"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"invoice-reconciliation-engine/internal/config"
	"invoice-reconciliation-engine/internal/llm"
	"invoice-reconciliation-engine/internal/logger"
	"invoice-reconciliation-engine/internal/routes"
	service "invoice-reconciliation-engine/internal/services/reconciliation"
	"invoice-reconciliation-engine/internal/services/semantic"
	"invoice-reconciliation-engine/internal/services/task"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	db, err := config.InitDB(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("database init failed")
	}

	var reasoner semantic.Reasoner
	if cfg.AIReady() {
		reasoner = llm.New(cfg.LLMOptions(), log)
		log.WithField("model", cfg.AI.Model).Info("semantic matching enabled")
	} else {
		log.Warn("no reasoning service configured, semantic matching and diagnosis disabled")
	}
	reconService := service.NewService(db, reasoner, task.NewController(), cfg.Services(), log)

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, reconService)

	log.WithField("port", cfg.Server.Port).Info("server listening")
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
