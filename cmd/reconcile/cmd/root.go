// Package cmd holds the reconcile command-line interface.
package cmd

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/config"
	"invoice-reconciliation-engine/internal/llm"
	"invoice-reconciliation-engine/internal/logger"
	"invoice-reconciliation-engine/internal/services/reconciliation"
	"invoice-reconciliation-engine/internal/services/semantic"
	"invoice-reconciliation-engine/internal/services/task"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// app is the wiring shared by every subcommand.
type app struct {
	cfg *config.Config
	log *logrus.Logger
	db  *gorm.DB
	svc *reconciliation.Service
}

func (o *rootOptions) open() (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	db, err := config.InitDB(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	var reasoner semantic.Reasoner
	if cfg.AIReady() {
		reasoner = llm.New(cfg.LLMOptions(), log)
	}
	svc := reconciliation.NewService(db, reasoner, task.NewController(), cfg.Services(), log)
	return &app{cfg: cfg, log: log, db: db, svc: svc}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "reconcile",
		Short: "Bank transaction and invoice reconciliation",
		Long: `Reconcile matches bank transactions against invoices in three tiers
(deterministic rules, semantic reasoning, exception detection) and manages
the payer mappings the rules rely on.

Examples:
  reconcile run --batch 3f2c... --batch 9a41...
  reconcile run --batch 3f2c... --no-ai --diagnose
  reconcile proxy-candidates --batch 3f2c...
  reconcile mappings dedup
  reconcile mappings suggest --batch 3f2c...`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRunCmd(opts), newProxyCandidatesCmd(opts), newMappingsCmd(opts))
	return root
}

func errMissingBatch() error {
	return errors.New("--batch is required")
}
