package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/ingest"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/merge"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

var (
	classifyEncoding string
	classifyOutput   string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <defects-file>",
	Short: "Judge field-reported defects against the master specs",
	Long: `Reads defect records from a CSV, XLSX or JSON file, resolves the master
projection, and classifies each defect as Repairable, Serviceable or Not
Repairable. A defect whose governing parameter has no resolved value is
reported as Insufficient Data on its own row; it never aborts the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		defects, err := readDefects(args[0])
		if err != nil {
			return err
		}
		if len(defects) == 0 {
			return eris.Errorf("classify: %s holds no defect records", args[0])
		}

		proj, err := merge.Project(ctx, env.Store, model.StrategyPriority)
		if err != nil {
			return eris.Wrap(err, "classify: projection")
		}

		results := env.Classifier.ClassifyBatch(defects, proj)
		if err := env.Store.SaveDefectResults(ctx, results); err != nil {
			return eris.Wrap(err, "classify: persist results")
		}

		tally := map[model.Decision]int{}
		for _, r := range results {
			tally[r.Decision]++
		}
		zap.L().Info("classification complete",
			zap.Int("defects", len(results)),
			zap.Int("repairable", tally[model.DecisionRepairable]),
			zap.Int("serviceable", tally[model.DecisionServiceable]),
			zap.Int("not_repairable", tally[model.DecisionNotRepairable]),
			zap.Int("insufficient_data", tally[model.DecisionInsufficientData]),
		)

		if classifyOutput != "" {
			f, err := os.Create(classifyOutput)
			if err != nil {
				return eris.Wrap(err, "classify: create output file")
			}
			defer f.Close() //nolint:errcheck
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		return printJSON(results)
	},
}

// readDefects dispatches on file extension; CSV honors the configured
// charset for sheets exported by legacy tooling.
func readDefects(path string) ([]model.DefectRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadDefectsXLSX(path)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: read %s", path)
		}
		var defects []model.DefectRecord
		if err := json.Unmarshal(data, &defects); err != nil {
			return nil, eris.Wrapf(err, "classify: parse %s", path)
		}
		return defects, nil
	default:
		encoding := classifyEncoding
		if encoding == "" {
			encoding = cfg.Ingest.CSVEncoding
		}
		return ingest.ReadDefectsCSV(path, encoding)
	}
}

func init() {
	classifyCmd.Flags().StringVar(&classifyEncoding, "encoding", "", "CSV charset, e.g. windows-1252 (default from config)")
	classifyCmd.Flags().StringVar(&classifyOutput, "output", "", "write results JSON to file (default: stdout)")
	rootCmd.AddCommand(classifyCmd)
}
