package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newProxyCandidatesCmd(root *rootOptions) *cobra.Command {
	var batch string
	c := &cobra.Command{
		Use:   "proxy-candidates",
		Short: "List payers of a batch that may be paying on behalf of a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch == "" {
				return errMissingBatch()
			}
			batchID, err := uuid.Parse(batch)
			if err != nil {
				return errors.Errorf("invalid batch id %q", batch)
			}
			a, err := root.open()
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.svc.Mappings().DetectProxyCandidates(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PAYER\tCOUNT\tTOTAL\tREASON")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.PayerName, p.TransactionCount, p.TotalAmount.StringFixed(2), p.Reason)
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&batch, "batch", "", "batch id")
	return c
}
