package exception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"invoice-reconciliation-engine/internal/llm"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/sanitize"
	"invoice-reconciliation-engine/internal/services/task"
)

const diagnoseSystem = "You are a senior financial auditor diagnosing reconciliation exceptions. Answer with a single JSON object only."

type diagnosis struct {
	Diagnosis  string `json:"diagnosis"`
	Suggestion string `json:"suggestion"`
}

// Diagnose asks the reasoning service to explain up to DiagnoseLimit pending
// exceptions. Failures are logged per exception and do not stop the loop.
// It returns how many exceptions received a diagnosis.
func (d *Detector) Diagnose(ctx context.Context, batchID uuid.UUID, token *task.Token, progress task.ProgressFunc) (int, error) {
	if d.reasoner == nil {
		return 0, nil
	}
	pending, err := d.exceptions.ListByBatch(ctx, batchID, models.ExceptionPending)
	if err != nil {
		return 0, err
	}
	if len(pending) > d.cfg.DiagnoseLimit {
		pending = pending[:d.cfg.DiagnoseLimit]
	}

	log := d.log.WithField("batch_id", batchID)
	done := 0
	for i := range pending {
		if token.Stopped() {
			break
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		progress.Report(i+1, len(pending), fmt.Sprintf("diagnosing exception %d/%d", i+1, len(pending)))

		exc := &pending[i]
		if err := d.diagnoseOne(ctx, exc); err != nil {
			log.WithError(err).WithField("exception_id", exc.ID).Warn("exception diagnosis failed")
			continue
		}
		done++
	}
	return done, nil
}

func (d *Detector) diagnoseOne(ctx context.Context, exc *models.Exception) error {
	payload := map[string]interface{}{}
	if len(exc.Detail) > 0 {
		if err := json.Unmarshal(exc.Detail, &payload); err != nil {
			return errors.Wrap(err, "decode detail")
		}
	}

	snapshot, err := json.MarshalIndent(sanitize.Payload(payload), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode context")
	}
	prompt := fmt.Sprintf(`Analyze this reconciliation exception.

Exception type: %s
Severity: %s
Context:
%s

1. Diagnosis: explain why this may have happened (missing invoice, wrong amount, timing difference, duplicate payment, proxy payer).
2. Suggestion: what the operator should do next.

Reply as {"diagnosis": "...", "suggestion": "..."}`, exc.Type, exc.Severity, snapshot)

	reply, err := d.reasoner.Chat(ctx, diagnoseSystem, prompt, float32(d.cfg.DiagnoseTemperature))
	if err != nil {
		return err
	}
	var out diagnosis
	if err := llm.Decode(reply, &out); err != nil {
		return err
	}
	out.Diagnosis = strings.TrimSpace(out.Diagnosis)
	out.Suggestion = strings.TrimSpace(out.Suggestion)
	if out.Diagnosis == "" || out.Suggestion == "" {
		return errors.Wrap(llm.ErrNoJSON, "diagnosis or suggestion missing")
	}

	payload["diagnosis"] = out.Diagnosis
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode detail")
	}
	exc.Detail = raw
	exc.Suggestion = out.Suggestion
	if err := d.exceptions.UpdateAdvice(ctx, exc); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"exception_id": exc.ID}).Debug("exception diagnosed")
	return nil
}
