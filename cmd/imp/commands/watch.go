package commands

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var (
		dryRun  bool
		metrics string
	)

	cmd := &cobra.Command{
		Use:   "watch [staged-config]",
		Short: "Apply the staged configuration whenever it changes",
		Long: `Watch the staged configuration file and run an apply cycle each time it is
saved. Guardrail policies are reloaded when their files change.`,
		Example: `  # Apply every save of router.json.staged
  imp watch

  # Only log what each save would change
  imp watch --dry-run

  # Expose apply metrics for Prometheus
  imp watch --metrics :9469`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{channel: !dryRun, history: true, policies: true, daemon: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.watch(ctx, stagedPath(args), dryRun); err != nil {
				return err
			}
			if metrics != "" {
				go func() {
					if err := a.tel.Metrics.ServeMetrics(ctx, metrics); err != nil {
						log.Error().Err(err).Str("listen", metrics).Msg("Metrics endpoint stopped")
					}
				}()
			}
			<-ctx.Done()
			log.Info().Msg("Stopped watching")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan each change without applying it")
	cmd.Flags().StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address")

	return cmd
}

// watch starts the staged configuration and policy watchers.
func (a *app) watch(ctx context.Context, path string, dryRun bool) error {
	if a.policy != nil {
		if _, err := os.Stat(policyDir); err == nil {
			if err := a.policy.Watch(ctx, []string{policyDir}); err != nil {
				return err
			}
		}
	}

	watcher := config.NewWatcher(path, a.logger)
	if err := watcher.Watch(ctx, func(next *config.RouterConfig) {
		a.applyStaged(ctx, path, next, dryRun)
	}); err != nil {
		return err
	}

	_ = a.tel.Events.PublishConfigStaged(path)
	return nil
}

func (a *app) applyStaged(ctx context.Context, path string, next *config.RouterConfig, dryRun bool) {
	logger := a.logger.With().Str("staged", path).Logger()

	// A staged file that was moved away loads as the default configuration.
	if _, err := os.Stat(path); err != nil {
		logger.Debug().Err(err).Msg("Staged configuration gone, ignoring")
		return
	}
	_ = a.tel.Events.PublishConfigStaged(path)

	prev, err := a.applied.Load(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load applied configuration")
		return
	}

	result, err := a.orchestrator.Apply(ctx, prev, next, engine.ApplyOptions{DryRun: dryRun})
	if errors.Is(err, engine.ErrCycleInProgress) {
		logger.Warn().Msg("Apply cycle already running, change will be picked up on the next save")
		return
	}
	if perr := printResult(result); perr != nil {
		logger.Error().Err(perr).Msg("Failed to print cycle result")
	}
	if err != nil {
		logger.Error().Err(err).Str("cycle_id", result.ID).Msg("Staged configuration not applied")
	}
}
