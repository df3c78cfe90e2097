package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/export"
)

var (
	exportOut         string
	exportPublishable bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export golden records to an XLSX catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		out := exportOut
		if out == "" {
			out = filepath.Join(cfg.Export.Dir, "catalog.xlsx")
		}

		n, err := export.NewExporter(st).WriteCatalog(ctx, export.Options{
			Path:            out,
			SheetName:       cfg.Export.Sheet,
			PublishableOnly: exportPublishable,
		})
		if err != nil {
			return eris.Wrap(err, "export catalog")
		}

		zap.L().Info("catalog exported",
			zap.String("path", out),
			zap.Int("records", n),
		)
		return printJSON(map[string]any{"path": out, "records": n})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output .xlsx path (default <export.dir>/catalog.xlsx)")
	exportCmd.Flags().BoolVar(&exportPublishable, "publishable", false, "only records ready to publish and not yet published")
	rootCmd.AddCommand(exportCmd)
}
