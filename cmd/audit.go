package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var auditProduct string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show a product's audit trail, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListAudit(ctx, auditProduct)
		if err != nil {
			return eris.Wrap(err, "list audit trail")
		}
		return printJSON(entries)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditProduct, "product", "", "product ID (required)")
	_ = auditCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(auditCmd)
}
