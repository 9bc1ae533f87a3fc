package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/api"
	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/modules"
	"github.com/justindthomas/imp/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var cores int

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a router configuration",
		Long: `Validate a router configuration file.

This command checks:
  - The document schema (types, ranges, unknown fields)
  - Cross-references between interfaces, bridges, routes and protocols
  - Module instance configuration against the module definitions
  - That the enabled modules fit on the host's cores and memif link block`,
		Example: `  # Validate the applied configuration
  imp validate

  # Validate a candidate for an 8-core appliance
  imp validate ./router.json --cores 8`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(false))
			if err != nil {
				return fmt.Errorf("failed to initialise telemetry: %w", err)
			}
			defer tel.Shutdown(context.WithoutCancel(cmd.Context()))

			ctx, task := telemetry.StartTask(tel.WithContext(cmd.Context()), "validate",
				attribute.String("config.path", path))
			defer func() { task.End(err) }()

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			registry, err := modules.LoadDir(modulesDir)
			if err != nil {
				return fmt.Errorf("failed to load module definitions: %w", err)
			}
			topo := alloc.DetectTopology()
			if cores > 0 {
				topo = alloc.Topology{TotalCores: cores}
			}

			src := api.ConfigSourceFunc(func(context.Context) (*config.RouterConfig, error) { return cfg, nil })
			allocation, err := api.Allocate(ctx, src, registry, topo)
			if err != nil {
				return err
			}

			logger := task.Logger.Zerolog()
			logger.Debug().
				Str("path", path).
				Int("cores", topo.TotalCores).
				Int("memif_links", len(allocation.Memif)).
				Msg("Configuration validated")

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"path":       path,
					"valid":      true,
					"allocation": allocation,
				})
			}
			fmt.Printf("%s: valid (%d interfaces, %d routes, %d enabled modules)\n",
				path, len(cfg.Interfaces), len(cfg.Routes), len(cfg.EnabledModules()))
			return nil
		},
	}

	cmd.Flags().IntVar(&cores, "cores", 0, "check allocation for this many cores instead of the local host")

	return cmd
}
