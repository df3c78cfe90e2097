package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-cli/internal/priority"
	"github.com/sells-group/catalog-cli/internal/store"
)

var priorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Manage per-project source priorities",
}

var (
	prioProject    string
	prioSource     string
	prioSources    string
	prioScore      float64
	prioEnabled    bool
	prioAttribute  string
	prioAttrWeight int
)

var priorityRankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Assign ranks to sources in the given order (most trusted first)",
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

		var ids []string
		for _, id := range strings.Split(prioSources, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return eris.New("--sources must list at least one source ID")
		}

		mgr := priority.NewManager(st)
		if err := mgr.Rank(ctx, prioProject, ids); err != nil {
			return eris.Wrap(err, "rank sources")
		}
		return listPriorities(cmd, st)
	},
}

var priorityMoveUpCmd = &cobra.Command{
	Use:   "move-up",
	Short: "Move a source one rank up",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := priority.NewManager(st).MoveUp(ctx, prioProject, prioSource); err != nil {
			return eris.Wrap(err, "move up")
		}
		return listPriorities(cmd, st)
	},
}

var priorityMoveDownCmd = &cobra.Command{
	Use:   "move-down",
	Short: "Move a source one rank down",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := priority.NewManager(st).MoveDown(ctx, prioProject, prioSource); err != nil {
			return eris.Wrap(err, "move down")
		}
		return listPriorities(cmd, st)
	},
}

var priorityReliabilityCmd = &cobra.Command{
	Use:   "set-reliability",
	Short: "Set a source's reliability score (0..1)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := priority.NewManager(st).SetReliability(ctx, prioProject, prioSource, prioScore); err != nil {
			return eris.Wrap(err, "set reliability")
		}
		return listPriorities(cmd, st)
	},
}

var priorityAutoSelectCmd = &cobra.Command{
	Use:   "set-autoselect",
	Short: "Enable or disable automatic conflict resolution for a source",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := priority.NewManager(st).SetAutoSelect(ctx, prioProject, prioSource, prioEnabled); err != nil {
			return eris.Wrap(err, "set autoselect")
		}
		return listPriorities(cmd, st)
	},
}

var priorityAttributeCmd = &cobra.Command{
	Use:   "set-attribute",
	Short: "Set a per-attribute priority override (0 clears it)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := priority.NewManager(st).SetAttributePriority(ctx, prioProject, prioSource, prioAttribute, prioAttrWeight); err != nil {
			return eris.Wrap(err, "set attribute priority")
		}
		return listPriorities(cmd, st)
	},
}

var priorityMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show per-source quality metrics for priority decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		metrics, err := priority.NewManager(st).Metrics(ctx, prioProject)
		if err != nil {
			return eris.Wrap(err, "source metrics")
		}
		return printJSON(metrics)
	},
}

var priorityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's source priorities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return listPriorities(cmd, st)
	},
}

func listPriorities(cmd *cobra.Command, st store.Store) error {
	priorities, err := st.ListSourcePriorities(cmd.Context(), prioProject)
	if err != nil {
		return eris.Wrap(err, "list priorities")
	}
	return printJSON(priorities)
}

func init() {
	for _, c := range []*cobra.Command{
		priorityRankCmd, priorityMoveUpCmd, priorityMoveDownCmd,
		priorityReliabilityCmd, priorityAutoSelectCmd, priorityAttributeCmd,
		priorityMetricsCmd, priorityListCmd,
	} {
		c.Flags().StringVar(&prioProject, "project", "", "project ID (required)")
		_ = c.MarkFlagRequired("project")
	}

	priorityRankCmd.Flags().StringVar(&prioSources, "sources", "", "comma-separated source IDs, most trusted first (required)")
	_ = priorityRankCmd.MarkFlagRequired("sources")

	for _, c := range []*cobra.Command{
		priorityMoveUpCmd, priorityMoveDownCmd, priorityReliabilityCmd,
		priorityAutoSelectCmd, priorityAttributeCmd,
	} {
		c.Flags().StringVar(&prioSource, "source", "", "source ID (required)")
		_ = c.MarkFlagRequired("source")
	}

	priorityReliabilityCmd.Flags().Float64Var(&prioScore, "score", 0.5, "reliability score in [0,1]")
	priorityAutoSelectCmd.Flags().BoolVar(&prioEnabled, "enabled", true, "allow automatic resolution to pick this source")
	priorityAttributeCmd.Flags().StringVar(&prioAttribute, "attribute", "", "attribute name (required)")
	priorityAttributeCmd.Flags().IntVar(&prioAttrWeight, "weight", 0, "override weight 1..10; 0 clears")
	_ = priorityAttributeCmd.MarkFlagRequired("attribute")

	priorityCmd.AddCommand(
		priorityRankCmd, priorityMoveUpCmd, priorityMoveDownCmd,
		priorityReliabilityCmd, priorityAutoSelectCmd, priorityAttributeCmd,
		priorityMetricsCmd, priorityListCmd,
	)
	rootCmd.AddCommand(priorityCmd)
}
