package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"invoice-reconciliation-engine/internal/services/reconciliation"
)

type runOptions struct {
	batches        []string
	noAI           bool
	skipExceptions bool
	diagnose       bool
	asJSON         bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	c := &cobra.Command{
		Use:   "run",
		Short: "Reconcile one or more batches",
		Long: `Run drives each batch through rule matching, semantic matching (when a
reasoning service is configured) and exception detection. Batches run
concurrently. Interrupting the command asks every running batch to stop;
exception detection still runs on what was matched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseBatchIDs(o.batches)
			if err != nil {
				return err
			}
			a, err := root.open()
			if err != nil {
				return err
			}
			defer a.close()
			return runBatches(cmd, a, ids, o)
		},
	}
	c.Flags().StringSliceVar(&o.batches, "batch", nil, "batch id (repeatable)")
	c.Flags().BoolVar(&o.noAI, "no-ai", false, "skip the semantic tier")
	c.Flags().BoolVar(&o.skipExceptions, "skip-exceptions", false, "skip exception detection")
	c.Flags().BoolVar(&o.diagnose, "diagnose", false, "ask the reasoning service to explain exceptions")
	c.Flags().BoolVar(&o.asJSON, "json", false, "print results as JSON")
	return c
}

func parseBatchIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, errMissingBatch()
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(strings.TrimSpace(r))
		if err != nil {
			return nil, errors.Errorf("invalid batch id %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runBatches(cmd *cobra.Command, a *app, ids []uuid.UUID, o *runOptions) error {
	opts := reconciliation.Options{
		EnableAI:       !o.noAI,
		SkipExceptions: o.skipExceptions,
		Diagnose:       o.diagnose,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			a.log.Warn("interrupt received, stopping batches")
			for _, id := range ids {
				a.svc.RequestStop(id)
			}
		case <-ctx.Done():
		}
	}()

	// batches are independent, one failing does not cancel the others
	results := make([]*reconciliation.Result, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			log := a.log.WithField("batch_id", id)
			res, err := a.svc.Run(ctx, id, opts, func(ev reconciliation.ProgressEvent) {
				log.WithFields(logrus.Fields{
					"stage":   ev.Stage,
					"current": ev.Current,
					"total":   ev.Total,
				}).Debug(ev.Message)
			})
			if err != nil {
				return errors.Wrapf(err, "batch %s", id)
			}
			results[i] = res
			return nil
		})
	}
	runErr := g.Wait()

	out := cmd.OutOrStdout()
	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
		return runErr
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		exceptions := 0
		if res.Exceptions != nil {
			exceptions = res.Exceptions.Total
		}
		fmt.Fprintf(out, "batch %s: stage=%s matched=%d unmatched_bank=%d unmatched_invoice=%d exceptions=%d\n",
			res.BatchID, res.Stage, res.Matched, res.UnmatchedBank, res.UnmatchedInvoice, exceptions)
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  warning: %s\n", e)
		}
	}
	return runErr
}
