package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/justindthomas/imp/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply [staged-config]",
		Short: "Apply the staged configuration to the running router",
		Long: `Run an apply cycle from the applied configuration to the staged one.

Live operations are executed one command at a time over the dataplane and
FRR channels. The first failure stops the cycle: earlier operations stay
applied, nothing is rolled back, and the staged configuration is not
persisted. Fix the cause and apply again; the next plan starts from the
last applied configuration.

Restart-required operations are reported but not executed.`,
		Example: `  # Apply the staged configuration
  imp apply

  # Apply on a remote appliance
  imp apply ./edge1.json --remote edge1.example.net --ssh-key ~/.ssh/edge1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := stagedPath(args)

			a, err := newApp(ctx, appOptions{channel: !dryRun, history: true, policies: true})
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

			log.Info().
				Str("staged", path).
				Bool("dry_run", dryRun).
				Msg("Applying staged configuration")

			result, applyErr := a.orchestrator.Apply(ctx, prev, next, engine.ApplyOptions{DryRun: dryRun})
			if err := printResult(result); err != nil {
				return err
			}
			return applyErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, same as 'imp plan'")

	return cmd
}
