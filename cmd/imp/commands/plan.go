package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan [staged-config]",
		Short: "Show what applying the staged configuration would do",
		Long: `Run a dry-run cycle from the applied configuration to the staged one.

The plan lists every operation in execution order with its classification:
live operations are executed by 'apply', restart_required operations take
effect after the dataplane or routing daemons restart. Guardrail policies are
evaluated; nothing is executed or persisted.`,
		Example: `  # Plan the staged configuration next to the applied one
  imp plan

  # Plan a candidate file and write the dependency graph
  imp plan /tmp/router.json --dot plan.dot`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := stagedPath(args)

			a, err := newApp(ctx, appOptions{policies: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			prev, err := a.applied.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load applied configuration: %w", err)
			}
			next, err := stagedSource(path).Load(ctx)
			if err != nil {
				return err
			}

			log.Debug().Str("staged", path).Msg("Planning staged configuration")

			result, planErr := a.orchestrator.Plan(ctx, prev, next)
			if err := printResult(result); err != nil {
				return err
			}

			if dotFile != "" && result != nil && result.Plan != nil {
				if err := os.WriteFile(dotFile, []byte(result.Plan.ToDOT(result.Steps)), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT graph: %w", err)
				}
				log.Info().Str("file", dotFile).Msg("Plan graph written")
			}
			return planErr
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the plan graph in DOT format")

	return cmd
}
