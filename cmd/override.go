package main

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

var overrideUnit string

var overrideCmd = &cobra.Command{
	Use:   "override <parameter> <value>",
	Short: "Save a user correction for one parameter",
	Long: `Saves an override that wins over every extracted variant regardless of
merge strategy. The extracted history stays intact and visible as
alternatives; only the chosen value changes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		def := env.Registry.ByName(args[0])
		if def == nil {
			return eris.Wrapf(model.ErrUnknownParameter, "override: %q", args[0])
		}

		value := strings.TrimSpace(args[1])
		if value == "" {
			return eris.New("override: value is empty")
		}

		unit := overrideUnit
		if unit == "" {
			unit = def.CanonicalUnit
		}

		applied, err := env.Store.SaveOverride(ctx, model.Override{
			Parameter: def.Name,
			Value:     value,
			Unit:      unit,
			SavedAt:   time.Now().UTC(),
		})
		if err != nil {
			return eris.Wrap(err, "override: save")
		}
		if !applied {
			zap.L().Warn("override superseded by a newer write",
				zap.String("parameter", def.Name),
			)
			return nil
		}

		zap.L().Info("override saved",
			zap.String("parameter", def.Name),
			zap.String("value", value),
			zap.String("unit", unit),
		)
		return nil
	},
}

func init() {
	overrideCmd.Flags().StringVar(&overrideUnit, "unit", "", "unit of the value (default: the parameter's canonical unit)")
	rootCmd.AddCommand(overrideCmd)
}
