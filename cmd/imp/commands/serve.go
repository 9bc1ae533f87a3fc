package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/justindthomas/imp/pkg/api"
	"github.com/justindthomas/imp/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		listen string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and metrics",
		Long: `Serve a read-only HTTP API on the management network:

  GET  /api/v1/runs          recorded apply cycles
  GET  /api/v1/runs/{id}     one cycle with command output
  GET  /api/v1/allocation    CPU and memif allocation (?source=staged)
  GET  /api/v1/plan          dry-run of the staged configuration (?format=dot)
  POST /api/v1/plan          dry-run of the configuration in the body
  GET  /api/v1/events        recent cycle events (?cycle_id=, ?level=warning)
  GET  /metrics              Prometheus metrics

With --watch the staged configuration is also applied on every save.`,
		Example: `  # Status API only
  imp serve --listen 0.0.0.0:9470

  # Status API plus automatic apply
  imp serve --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{channel: watch, history: true, policies: true, daemon: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			staged := stagedPath(nil)
			cfg := api.Config{
				Listen:   listen,
				Planner:  a.orchestrator,
				Applied:  a.applied,
				Staged:   stagedSource(staged),
				Registry: a.registry,
				Topology: a.topology,
				Events:   telemetry.NewEventLog(a.tel.Events, 512),
				Metrics:  a.tel.Metrics.Handler(),
				Logger:   a.logger,
			}
			if a.history != nil {
				cfg.History = a.history
			}

			if watch {
				if err := a.watch(ctx, staged, false); err != nil {
					return err
				}
			}

			log.Info().Str("listen", listen).Bool("watch", watch).Msg("Starting status API")
			return api.NewServer(cfg).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", api.DefaultListen, "status API listen address")
	cmd.Flags().BoolVar(&watch, "watch", false, "apply the staged configuration on every save")

	return cmd
}
