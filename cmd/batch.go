package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchProject  string
	batchProducts string
	batchAll      bool
	batchWorkers  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the consolidation pipeline for many products concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner, st, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var ids []string
		switch {
		case batchAll:
			products, err := st.ListProducts(ctx)
			if err != nil {
				return eris.Wrap(err, "list products")
			}
			for _, p := range products {
				ids = append(ids, p.ID)
			}
		case batchProducts != "":
			for _, id := range strings.Split(batchProducts, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		default:
			return eris.New("either --products or --all is required")
		}

		workers := batchWorkers
		if workers == 0 {
			workers = cfg.Pipeline.Concurrency
		}

		result, err := runner.RunBatch(ctx, batchProject, ids, workers)
		if err != nil {
			return eris.Wrap(err, "batch run")
		}

		zap.L().Info("batch complete",
			zap.Int64("succeeded", result.Succeeded),
			zap.Int64("failed", result.Failed),
			zap.Int("total", len(ids)),
		)

		return printJSON(result)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchProject, "project", "", "project ID (required)")
	batchCmd.Flags().StringVar(&batchProducts, "products", "", "comma-separated product IDs")
	batchCmd.Flags().BoolVar(&batchAll, "all", false, "process every known product")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "concurrent products (default from config)")
	_ = batchCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(batchCmd)
}
