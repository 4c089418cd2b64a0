package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/merge"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

var (
	specsStrategy string
	specsOutput   string
	specsFormat   string
)

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "Print or export the master projection",
	Long: `Resolves every known parameter under the selected strategy and prints
the result as JSON, or exports the flattened master sheet.

Examples:
  # Authoritative values, most trusted source wins
  specpipe specs --strategy priority

  # Every stored variant grouped per parameter
  specpipe specs --strategy all

  # Flattened CSV snapshot
  specpipe specs --output master.csv --format csv`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		strategy, err := model.ParseStrategy(specsStrategy)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if specsOutput != "" {
			return exportSpecs(cmd, env, strategy)
		}

		if strategy == model.StrategyAll {
			grouped, err := merge.ProjectGrouped(ctx, env.Store)
			if err != nil {
				return eris.Wrap(err, "specs: grouped projection")
			}
			return printJSON(grouped)
		}

		proj, err := merge.Project(ctx, env.Store, strategy)
		if err != nil {
			return eris.Wrap(err, "specs: projection")
		}
		return printJSON(proj.Records())
	},
}

func exportSpecs(cmd *cobra.Command, env *pipelineEnv, strategy model.Strategy) error {
	proj, err := merge.Project(cmd.Context(), env.Store, strategy)
	if err != nil {
		return eris.Wrap(err, "specs: projection")
	}

	f, err := os.Create(specsOutput)
	if err != nil {
		return eris.Wrap(err, "specs: create output file")
	}
	defer f.Close() //nolint:errcheck

	switch specsFormat {
	case "xlsx":
		err = merge.ExportXLSX(f, proj)
	case "csv", "":
		err = merge.ExportCSV(f, proj)
	default:
		return eris.Errorf("specs: unknown format %q", specsFormat)
	}
	if err != nil {
		return err
	}

	zap.L().Info("specs exported",
		zap.String("path", specsOutput),
		zap.String("strategy", string(strategy)),
		zap.Int("parameters", len(proj)),
	)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	specsCmd.Flags().StringVar(&specsStrategy, "strategy", "priority", "merge strategy: priority, latest or all")
	specsCmd.Flags().StringVar(&specsOutput, "output", "", "write flattened master sheet to file")
	specsCmd.Flags().StringVar(&specsFormat, "format", "csv", "export format: csv or xlsx")
	rootCmd.AddCommand(specsCmd)
}
