package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newMappingsCmd(root *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "mappings",
		Short: "Maintain payer to company mappings",
	}
	c.AddCommand(newDedupCmd(root), newSuggestCmd(root))
	return c
}

func newDedupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dedup",
		Short: "Remove duplicate person/company mappings, keeping the oldest",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open()
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.svc.Mappings().Deduplicate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicate mappings\n", n)
			return nil
		},
	}
}

func newSuggestCmd(root *rootOptions) *cobra.Command {
	var batch string
	c := &cobra.Command{
		Use:   "suggest",
		Short: "List invoice seller names usable as mapping targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			var batchID *uuid.UUID
			if batch != "" {
				id, err := uuid.Parse(batch)
				if err != nil {
					return errors.Errorf("invalid batch id %q", batch)
				}
				batchID = &id
			}
			a, err := root.open()
			if err != nil {
				return err
			}
			defer a.close()

			names, err := a.svc.Mappings().SuggestCompanyNames(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	c.Flags().StringVar(&batch, "batch", "", "limit suggestions to one batch")
	return c
}
