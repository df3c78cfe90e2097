package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage business validation rules",
}

var rulesLoadFile string

var rulesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load rule definitions from a YAML file into the store",
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

		path := rulesLoadFile
		if path == "" {
			path = cfg.Rules.Path
		}

		loaded, err := rules.Load(path)
		if err != nil {
			return eris.Wrap(err, "load rules")
		}

		for _, rule := range loaded {
			if err := st.CreateBusinessRule(ctx, rule); err != nil {
				return eris.Wrapf(err, "store rule %s", rule.RuleID)
			}
		}

		zap.L().Info("rules loaded",
			zap.Int("count", len(loaded)),
			zap.String("file", path),
		)
		return printJSON(loaded)
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		active, err := st.ListActiveRules(ctx)
		if err != nil {
			return eris.Wrap(err, "list rules")
		}
		return printJSON(active)
	},
}

func init() {
	rulesLoadCmd.Flags().StringVar(&rulesLoadFile, "file", "", "rules YAML (default from config)")
	rulesCmd.AddCommand(rulesLoadCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}
