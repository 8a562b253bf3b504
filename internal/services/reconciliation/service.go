// Package reconciliation drives a batch through the matching tiers and
// exception detection and keeps the batch record and progress cache current.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/repository"
	"invoice-reconciliation-engine/internal/services/exception"
	"invoice-reconciliation-engine/internal/services/mapping"
	"invoice-reconciliation-engine/internal/services/matching"
	"invoice-reconciliation-engine/internal/services/semantic"
	"invoice-reconciliation-engine/internal/services/task"
)

var ErrBatchRunning = errors.New("batch is already running")

type Config struct {
	Matching   matching.Config
	Semantic   semantic.Config
	Exceptions exception.Config
}

type Options struct {
	EnableAI       bool `json:"enable_ai"`
	SkipExceptions bool `json:"skip_exceptions"`
	Diagnose       bool `json:"diagnose"`
}

// ruleTier is the deterministic matching pass.
type ruleTier interface {
	Run(ctx context.Context, batchID uuid.UUID, token *task.Token, progress task.ProgressFunc) (matching.Stats, error)
}

// Result is the outcome of one Run. Errors lists tier failures that were
// recorded without aborting the run.
type Result struct {
	BatchID          uuid.UUID          `json:"batch_id"`
	Stage            string             `json:"stage"`
	Rule             matching.Stats     `json:"rule"`
	Semantic         *semantic.Stats    `json:"semantic,omitempty"`
	Exceptions       *exception.Summary `json:"exceptions,omitempty"`
	Diagnosed        int                `json:"diagnosed"`
	Matched          int                `json:"matched"`
	UnmatchedBank    int                `json:"unmatched_bank"`
	UnmatchedInvoice int                `json:"unmatched_invoice"`
	Errors           []string           `json:"errors,omitempty"`
	Duration         time.Duration      `json:"duration"`
}

type Service struct {
	batches  *repository.BatchRepository
	banks    *repository.BankTransactionRepository
	invoices *repository.InvoiceRepository
	matches  *repository.MatchRepository

	mappings *mapping.Store
	rules    ruleTier
	semantic *semantic.Matcher
	detector *exception.Detector
	tasks    *task.Controller
	log      logrus.FieldLogger

	running       sync.Map // batchID -> struct{}
	progressCache sync.Map // batchID -> ProgressEvent
}

// NewService wires the tiers. reasoner may be nil, which disables the
// semantic tier and exception diagnosis.
func NewService(db *gorm.DB, reasoner semantic.Reasoner, tasks *task.Controller, cfg Config, log logrus.FieldLogger) *Service {
	mappings := mapping.NewStore(db, log)
	s := &Service{
		batches:  repository.NewBatchRepository(db),
		banks:    repository.NewBankTransactionRepository(db),
		invoices: repository.NewInvoiceRepository(db),
		matches:  repository.NewMatchRepository(db),
		mappings: mappings,
		rules:    matching.NewMatcher(db, mappings, cfg.Matching, log),
		detector: exception.NewDetector(db, mappings, reasoner, cfg.Exceptions, log),
		tasks:    tasks,
		log:      log.WithField("component", "orchestrator"),
	}
	if reasoner != nil {
		s.semantic = semantic.NewMatcher(db, reasoner, mappings, cfg.Semantic, log)
	}
	return s
}

func (s *Service) Mappings() *mapping.Store {
	return s.mappings
}

func (s *Service) Exceptions() *exception.Detector {
	return s.detector
}

func (s *Service) AIEnabled() bool {
	return s.semantic != nil
}

// acquire takes the batch lock and resets any stale stop request.
func (s *Service) acquire(batchID uuid.UUID) bool {
	if _, busy := s.running.LoadOrStore(batchID, struct{}{}); busy {
		return false
	}
	s.tasks.ClearStopFlag(batchID)
	return true
}

// release drops the stop flag before the lock so a finished batch leaves
// nothing behind in the controller.
func (s *Service) release(batchID uuid.UUID) {
	s.tasks.ClearStopFlag(batchID)
	s.running.Delete(batchID)
}

func (s *Service) Running(batchID uuid.UUID) bool {
	_, ok := s.running.Load(batchID)
	return ok
}

// RequestStop asks a running batch to stop at its next checkpoint and
// reports whether a run was in flight. Idle batches are left untouched.
func (s *Service) RequestStop(batchID uuid.UUID) bool {
	if !s.Running(batchID) {
		return false
	}
	s.tasks.RequestStop(batchID)
	return true
}

// Run reconciles a batch synchronously.
func (s *Service) Run(ctx context.Context, batchID uuid.UUID, opts Options, progress ProgressFunc) (*Result, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	if !s.acquire(batchID) {
		return nil, ErrBatchRunning
	}
	defer s.release(batchID)
	return s.run(ctx, batchID, opts, progress)
}

// Start launches Run in the background once the batch lock is held, so a
// second Start of the same batch fails immediately.
func (s *Service) Start(batchID uuid.UUID, opts Options) error {
	ctx := context.Background()
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return err
	}
	if !s.acquire(batchID) {
		return ErrBatchRunning
	}
	go func() {
		defer s.release(batchID)
		if _, err := s.run(ctx, batchID, opts, nil); err != nil {
			s.log.WithError(err).WithField("batch_id", batchID).Error("background reconciliation failed")
		}
	}()
	return nil
}

func (s *Service) run(ctx context.Context, batchID uuid.UUID, opts Options, progress ProgressFunc) (*Result, error) {
	start := time.Now()
	log := s.log.WithField("batch_id", batchID)
	res := &Result{BatchID: batchID}

	token := s.tasks.Token(batchID)

	bankTotal, invoiceTotal, err := s.totals(ctx, batchID)
	if err != nil {
		return s.fail(ctx, res, err)
	}
	now := time.Now()
	err = s.batches.Update(ctx, batchID, map[string]interface{}{
		"status":              models.StageRuleMatching,
		"total_bank_count":    bankTotal,
		"total_invoice_count": invoiceTotal,
		"last_error":          "",
		"started_at":          &now,
		"completed_at":        nil,
	})
	if err != nil {
		return s.fail(ctx, res, err)
	}
	log.WithFields(logrus.Fields{"bank": bankTotal, "invoices": invoiceTotal, "ai": opts.EnableAI}).Info("reconciliation started")

	res.Stage = models.StageRuleMatching
	rule, err := s.rules.Run(ctx, batchID, token, s.reporter(batchID, models.StageRuleMatching, progress))
	res.Rule = rule
	ruleFailed := err != nil
	if ruleFailed {
		// later tiers are skipped, exceptions still cover whatever was matched
		log.WithError(err).Warn("rule matching failed, continuing with exception detection")
		res.Errors = append(res.Errors, errors.Wrap(err, "rule matching").Error())
	}
	stopped := rule.Stopped || token.Stopped()

	if !stopped && !ruleFailed && opts.EnableAI && s.semantic != nil && rule.RemainingBank > 0 && rule.RemainingInvoice > 0 {
		res.Stage = models.StageAIMatching
		s.setStage(ctx, batchID, models.StageAIMatching)
		sem, err := s.semantic.Run(ctx, batchID, token, s.reporter(batchID, models.StageAIMatching, progress))
		res.Semantic = &sem
		if err != nil {
			log.WithError(err).Warn("semantic matching failed, continuing with rule results")
			res.Errors = append(res.Errors, errors.Wrap(err, "semantic matching").Error())
		}
		stopped = sem.Stopped || token.Stopped()
	}

	if !opts.SkipExceptions {
		res.Stage = models.StageExceptionDetection
		s.setStage(ctx, batchID, models.StageExceptionDetection)
		s.emit(batchID, progress, ProgressEvent{Stage: models.StageExceptionDetection, Message: "detecting exceptions"})
		summary, err := s.detector.Detect(ctx, batchID)
		if err != nil {
			return s.fail(ctx, res, errors.Wrap(err, "exception detection"))
		}
		res.Exceptions = &summary

		if opts.Diagnose && !stopped {
			n, err := s.detector.Diagnose(ctx, batchID, token, s.reporter(batchID, models.StageExceptionDetection, progress))
			res.Diagnosed = n
			if err != nil {
				log.WithError(err).Warn("exception diagnosis failed")
				res.Errors = append(res.Errors, errors.Wrap(err, "exception diagnosis").Error())
			}
		}
	}

	if err := s.finish(ctx, res, stopped); err != nil {
		return s.fail(ctx, res, err)
	}
	res.Duration = time.Since(start)
	s.emit(batchID, progress, ProgressEvent{
		Stage:      res.Stage,
		Current:    res.Matched,
		Total:      res.Matched + res.UnmatchedBank,
		Percentage: 100,
		Message:    fmt.Sprintf("%d matched, %d bank and %d invoice records left", res.Matched, res.UnmatchedBank, res.UnmatchedInvoice),
		Stats:      res,
	})
	log.WithFields(logrus.Fields{
		"stage":             res.Stage,
		"matched":           res.Matched,
		"unmatched_bank":    res.UnmatchedBank,
		"unmatched_invoice": res.UnmatchedInvoice,
		"duration":          res.Duration,
	}).Info("reconciliation finished")
	return res, nil
}

// finish recounts the batch and persists the terminal stage.
func (s *Service) finish(ctx context.Context, res *Result, stopped bool) error {
	banks, err := s.banks.CountByStatus(ctx, res.BatchID)
	if err != nil {
		return err
	}
	invoices, err := s.invoices.CountByStatus(ctx, res.BatchID)
	if err != nil {
		return err
	}
	byType, err := s.matches.CountByType(ctx, res.BatchID)
	if err != nil {
		return err
	}
	pendingExceptions, err := s.detector.List(ctx, res.BatchID, models.ExceptionPending)
	if err != nil {
		return err
	}

	res.Matched = 0
	for _, n := range byType {
		res.Matched += int(n)
	}
	res.UnmatchedBank = int(banks[models.StatusPending])
	res.UnmatchedInvoice = int(invoices[models.StatusPending])

	switch {
	case stopped:
		res.Stage = models.StageStopped
	case res.UnmatchedBank == 0 && res.UnmatchedInvoice == 0:
		res.Stage = models.StageCompleted
	default:
		res.Stage = models.StageUnbalanced
	}

	stats, err := json.Marshal(map[string]interface{}{
		"matches_by_type": byType,
		"rule":            res.Rule,
		"semantic":        res.Semantic,
		"exceptions":      res.Exceptions,
		"diagnosed":       res.Diagnosed,
		"errors":          res.Errors,
	})
	if err != nil {
		return errors.Wrap(err, "encode batch stats")
	}
	now := time.Now()
	return s.batches.Update(ctx, res.BatchID, map[string]interface{}{
		"status":          res.Stage,
		"matched_count":   res.Matched,
		"unmatched_count": res.UnmatchedBank + res.UnmatchedInvoice,
		"exception_count": len(pendingExceptions),
		"stats":           datatypes.JSON(stats),
		"completed_at":    &now,
	})
}

func (s *Service) fail(ctx context.Context, res *Result, cause error) (*Result, error) {
	log := s.log.WithField("batch_id", res.BatchID)
	log.WithError(cause).Error("reconciliation failed")
	res.Stage = models.StageFailed
	err := s.batches.Update(ctx, res.BatchID, map[string]interface{}{
		"status":     models.StageFailed,
		"last_error": cause.Error(),
	})
	if err != nil {
		log.WithError(err).Warn("could not record batch failure")
	}
	s.progressCache.Store(res.BatchID, ProgressEvent{Stage: models.StageFailed, Message: cause.Error()})
	return res, cause
}

func (s *Service) setStage(ctx context.Context, batchID uuid.UUID, stage string) {
	if err := s.batches.Update(ctx, batchID, map[string]interface{}{"status": stage}); err != nil {
		s.log.WithError(err).WithField("batch_id", batchID).Warn("could not update batch stage")
	}
}

func (s *Service) totals(ctx context.Context, batchID uuid.UUID) (int, int, error) {
	banks, err := s.banks.CountByStatus(ctx, batchID)
	if err != nil {
		return 0, 0, err
	}
	invoices, err := s.invoices.CountByStatus(ctx, batchID)
	if err != nil {
		return 0, 0, err
	}
	sum := func(m map[string]int64) int {
		n := 0
		for _, v := range m {
			n += int(v)
		}
		return n
	}
	return sum(banks), sum(invoices), nil
}

func (s *Service) ListMatches(ctx context.Context, batchID uuid.UUID) ([]models.MatchResult, error) {
	return s.matches.ListByBatch(ctx, batchID)
}

// ConfirmMatch marks a match operator-confirmed. Confirming an already
// confirmed match is a no-op.
func (s *Service) ConfirmMatch(ctx context.Context, id uuid.UUID, by string) (*models.MatchResult, error) {
	m, err := s.matches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Confirmed {
		return m, nil
	}
	audit := &models.MatchAuditLog{
		ID:          uuid.New(),
		BatchID:     m.BatchID,
		MatchID:     &m.ID,
		Action:      models.AuditConfirmMatch,
		PerformedBy: by,
		Reason:      m.Reason,
		CreatedAt:   time.Now(),
	}
	if err := s.matches.Confirm(ctx, m, audit); err != nil {
		return nil, err
	}
	m.Confirmed = true
	m.NeedsConfirmation = false
	s.log.WithFields(logrus.Fields{"match_id": m.ID, "by": by}).Info("match confirmed")
	return m, nil
}
