package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/pipeline"
)

var goldenCmd = &cobra.Command{
	Use:   "golden",
	Short: "Inspect and publish golden records",
}

var (
	goldenProduct     string
	goldenPublishable bool
)

var goldenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List golden records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListGoldenRecords(ctx, goldenPublishable)
		if err != nil {
			return eris.Wrap(err, "list golden records")
		}
		return printJSON(records)
	},
}

var goldenGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one product's golden record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		gr, err := st.GetGoldenRecord(ctx, goldenProduct)
		if err != nil {
			return eris.Wrap(err, "get golden record")
		}
		return printJSON(gr)
	},
}

var goldenPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a golden record that passed the publish gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		gr, err := pipeline.NewAssembler(st).Publish(ctx, goldenProduct)
		if err != nil {
			return eris.Wrap(err, "publish")
		}

		zap.L().Info("golden record published",
			zap.String("product_id", gr.ProductID),
			zap.String("sku", gr.SKU),
		)
		return printJSON(gr)
	},
}

func init() {
	goldenListCmd.Flags().BoolVar(&goldenPublishable, "publishable", false, "only records ready to publish and not yet published")

	goldenGetCmd.Flags().StringVar(&goldenProduct, "product", "", "product ID (required)")
	_ = goldenGetCmd.MarkFlagRequired("product")
	goldenPublishCmd.Flags().StringVar(&goldenProduct, "product", "", "product ID (required)")
	_ = goldenPublishCmd.MarkFlagRequired("product")

	goldenCmd.AddCommand(goldenListCmd, goldenGetCmd, goldenPublishCmd)
	rootCmd.AddCommand(goldenCmd)
}
