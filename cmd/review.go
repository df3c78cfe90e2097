package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-cli/internal/pipeline"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Human review of conflicts and failed validations",
}

var (
	reviewProduct   string
	reviewAttribute string
	reviewValue     string
	reviewUser      string
)

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List items awaiting review for a product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := pipeline.NewReviewer(st).Pending(ctx, reviewProduct)
		if err != nil {
			return eris.Wrap(err, "pending review items")
		}
		return printJSON(items)
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a conflict by choosing one of the observed values",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := pipeline.NewReviewer(st).ResolveConflict(ctx, reviewProduct, reviewAttribute, reviewValue, reviewUser); err != nil {
			return eris.Wrap(err, "resolve conflict")
		}
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve an attribute's current value",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := pipeline.NewReviewer(st).Approve(ctx, reviewProduct, reviewAttribute, reviewUser); err != nil {
			return eris.Wrap(err, "approve")
		}
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject an attribute's current value and reopen the conflict",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := pipeline.NewReviewer(st).Reject(ctx, reviewProduct, reviewAttribute, reviewUser); err != nil {
			return eris.Wrap(err, "reject")
		}
		return nil
	},
}

var reviewOverrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Replace an attribute's value with a manually supplied one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := pipeline.NewReviewer(st).Override(ctx, reviewProduct, reviewAttribute, reviewValue, reviewUser); err != nil {
			return eris.Wrap(err, "override")
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{
		reviewPendingCmd, reviewResolveCmd, reviewApproveCmd, reviewRejectCmd, reviewOverrideCmd,
	} {
		c.Flags().StringVar(&reviewProduct, "product", "", "product ID (required)")
		_ = c.MarkFlagRequired("product")
	}

	for _, c := range []*cobra.Command{
		reviewResolveCmd, reviewApproveCmd, reviewRejectCmd, reviewOverrideCmd,
	} {
		c.Flags().StringVar(&reviewAttribute, "attribute", "", "attribute name (required)")
		c.Flags().StringVar(&reviewUser, "reviewer", "", "reviewer identity (required)")
		_ = c.MarkFlagRequired("attribute")
		_ = c.MarkFlagRequired("reviewer")
	}

	reviewResolveCmd.Flags().StringVar(&reviewValue, "value", "", "chosen observed value (required)")
	_ = reviewResolveCmd.MarkFlagRequired("value")
	reviewOverrideCmd.Flags().StringVar(&reviewValue, "value", "", "replacement value (required)")
	_ = reviewOverrideCmd.MarkFlagRequired("value")

	reviewCmd.AddCommand(reviewPendingCmd, reviewResolveCmd, reviewApproveCmd, reviewRejectCmd, reviewOverrideCmd)
	rootCmd.AddCommand(reviewCmd)
}
