package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestConcurrency int

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Append extracted variant batches to the store",
	Long: `Reads one or more JSON files of extracted variants (the upstream
extractor output) and appends them to the variant store.

Each file holds an array of tuples:
  [{"parameter":"tear_size_limit","value":"2.8","unit":"mm",
    "source_type":"DOCX","origin":"specs_rev3.docx","raw":"Tear size limit 2.8 mm"}]

History is append-only: re-ingesting a document adds new rows, it never
rewrites earlier observations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := ingestConcurrency
		if concurrency == 0 {
			concurrency = cfg.Ingest.Concurrency
		}

		result, err := env.Ingestor.IngestFiles(ctx, args, concurrency)
		if err != nil {
			return eris.Wrap(err, "ingest: batch failed")
		}

		zap.L().Info("ingest complete",
			zap.Int("accepted", result.Accepted),
			zap.Int("rejected", len(result.Rejections)),
		)
		for _, rej := range result.Rejections {
			zap.L().Warn("ingest: rejected variant",
				zap.String("parameter", rej.Parameter),
				zap.String("reason", rej.Reason),
			)
		}

		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 0, "max files ingested concurrently (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
