package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage ingestion sources",
}

var projectCreateName string

var projectCreateCmd = &cobra.Command{
	Use:   "create-project",
	Short: "Create a consolidation project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		proj, err := st.CreateProject(ctx, projectCreateName)
		if err != nil {
			return eris.Wrap(err, "create project")
		}
		return printJSON(proj)
	},
}

var (
	sourceAddProject string
	sourceAddType    string
	sourceAddLocator string
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a source within a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		src, err := st.CreateSource(ctx, model.Source{
			ProjectID: sourceAddProject,
			Type:      model.SourceType(sourceAddType),
			Locator:   sourceAddLocator,
		})
		if err != nil {
			return eris.Wrap(err, "create source")
		}
		return printJSON(src)
	},
}

var sourceListProject string

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sources, err := st.ListSources(ctx, sourceListProject)
		if err != nil {
			return eris.Wrap(err, "list sources")
		}
		return printJSON(sources)
	},
}

var (
	sourceStatusID    string
	sourceStatusValue string
)

var sourcesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Advance a source's ingestion status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.UpdateSourceStatus(ctx, sourceStatusID, model.SourceStatus(sourceStatusValue)); err != nil {
			return eris.Wrap(err, "update source status")
		}
		src, err := st.GetSource(ctx, sourceStatusID)
		if err != nil {
			return eris.Wrap(err, "get source")
		}
		return printJSON(src)
	},
}

var observeFile string

// observeCmd ingests already-extracted observations from a JSON file. The
// file holds an array of raw observations; extraction itself happens
// upstream of this tool.
var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Ingest extracted observations from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		data, err := os.ReadFile(observeFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", observeFile)
		}
		var observations []model.RawObservation
		if err := json.Unmarshal(data, &observations); err != nil {
			return eris.Wrap(err, "decode observations")
		}

		n, err := st.InsertObservations(ctx, observations)
		if err != nil {
			return eris.Wrap(err, "insert observations")
		}

		zap.L().Info("observations ingested",
			zap.Int64("inserted", n),
			zap.String("file", observeFile),
		)
		return printJSON(map[string]int64{"inserted": n})
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectCreateName, "name", "", "project name (required)")
	_ = projectCreateCmd.MarkFlagRequired("name")

	sourcesAddCmd.Flags().StringVar(&sourceAddProject, "project", "", "project ID (required)")
	sourcesAddCmd.Flags().StringVar(&sourceAddType, "type", "web", "source type: web, pdf, spreadsheet, csv, image")
	sourcesAddCmd.Flags().StringVar(&sourceAddLocator, "locator", "", "URL or file path (required)")
	_ = sourcesAddCmd.MarkFlagRequired("project")
	_ = sourcesAddCmd.MarkFlagRequired("locator")

	sourcesListCmd.Flags().StringVar(&sourceListProject, "project", "", "project ID (required)")
	_ = sourcesListCmd.MarkFlagRequired("project")

	sourcesStatusCmd.Flags().StringVar(&sourceStatusID, "source", "", "source ID (required)")
	sourcesStatusCmd.Flags().StringVar(&sourceStatusValue, "to", "", "target status: processing, completed, failed (required)")
	_ = sourcesStatusCmd.MarkFlagRequired("source")
	_ = sourcesStatusCmd.MarkFlagRequired("to")

	observeCmd.Flags().StringVar(&observeFile, "file", "", "JSON file with an array of observations (required)")
	_ = observeCmd.MarkFlagRequired("file")

	sourcesCmd.AddCommand(sourcesAddCmd, sourcesListCmd, sourcesStatusCmd)
	rootCmd.AddCommand(projectCreateCmd, sourcesCmd, observeCmd)
}
