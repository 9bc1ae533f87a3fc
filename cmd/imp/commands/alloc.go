package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/api"
	"github.com/justindthomas/imp/pkg/telemetry"
)

func newAllocCommand() *cobra.Command {
	var (
		staged bool
		cores  int
	)

	cmd := &cobra.Command{
		Use:   "alloc [staged-config]",
		Short: "Show CPU and memif allocation",
		Long: `Show the CPU cores and memif links assigned to the core dataplane and
each enabled module instance. The allocation is derived from the
configuration and the host topology; it is never stored.`,
		Example: `  # Allocation of the applied configuration on this host
  imp alloc

  # Allocation of the staged configuration on a 16-core appliance
  imp alloc --staged --cores 16`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			ctx, task := telemetry.StartTask(a.tel.WithContext(ctx), "alloc",
				attribute.Bool("staged", staged || len(args) > 0))
			defer func() { task.End(err) }()

			var src api.ConfigSource = a.applied
			if staged || len(args) > 0 {
				src = stagedSource(stagedPath(args))
			}
			topo := a.topology
			if cores > 0 {
				topo = alloc.Topology{TotalCores: cores}
			}

			allocation, err := api.Allocate(ctx, src, a.registry, topo)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(&api.AllocationView{Topology: topo, Allocation: allocation})
			}
			printAllocation(topo, allocation)
			return nil
		},
	}

	cmd.Flags().BoolVar(&staged, "staged", false, "use the staged configuration")
	cmd.Flags().IntVar(&cores, "cores", 0, "allocate for this many cores instead of the detected topology")

	return cmd
}

func printAllocation(topo alloc.Topology, a *alloc.Allocation) {
	cpu := a.CPU
	fmt.Printf("Cores: %d\n", topo.TotalCores)
	fmt.Printf("Core dataplane: main %d, workers %q\n", cpu.CoreMain, cpu.CoreWorkerList())
	if len(cpu.ModulePool) > 0 {
		fmt.Printf("Module pool: %s\n", alloc.CompactCorelist(cpu.ModulePool))
	}
	for _, m := range cpu.Modules {
		fmt.Printf("  %-16s main %d, workers %q\n", m.Module, m.Main, m.Corelist())
	}

	if len(a.Memif) == 0 {
		return
	}
	fmt.Println("Memif links:")
	for _, l := range a.Memif {
		fmt.Printf("  %-10s %s/%s  core %s/%d  module %s/%d  %s\n",
			l.InterfaceName(), l.Module, l.Connection, l.CoreIP, l.Prefix, l.ModuleIP, l.Prefix, l.SocketPath)
	}
}
