package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runProject string
	runProduct string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the consolidation pipeline for a single product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runner, st, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := runner.Run(ctx, runProject, runProduct)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("pipeline complete",
			zap.String("product_id", result.ProductID),
			zap.String("sku", result.SKU),
			zap.Int("stages_completed", result.StagesCompleted),
			zap.Int("conflicts", result.Conflicts),
			zap.Int("issues", result.Issues),
			zap.Bool("ready_for_publish", result.ReadyForPublish),
		)

		return printJSON(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "", "project ID (required)")
	runCmd.Flags().StringVar(&runProduct, "product", "", "product ID (required)")
	_ = runCmd.MarkFlagRequired("project")
	_ = runCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(runCmd)
}
