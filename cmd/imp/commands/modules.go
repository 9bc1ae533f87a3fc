package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/justindthomas/imp/pkg/modules"
)

// moduleInfo is the listing form of a module definition.
type moduleInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Connections []string `json:"connections"`
	MinCores    int      `json:"min_cores"`
	IdealCores  int      `json:"ideal_cores"`
	LiveFields  []string `json:"live_fields,omitempty"`
	CLISocket   string   `json:"cli_socket"`
}

func newModulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List module definitions",
		Long: `List the module definitions loaded from the modules directory with their
memif connections, core requests and the config fields that apply live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := modules.LoadDir(modulesDir)
			if err != nil {
				return fmt.Errorf("failed to load module definitions: %w", err)
			}

			defs := registry.List()
			infos := make([]moduleInfo, 0, len(defs))
			for _, d := range defs {
				info := moduleInfo{
					Name:        d.Name,
					DisplayName: d.DisplayName,
					Description: d.Description,
					Connections: d.ConnectionNames(),
					MinCores:    d.CPU.MinCores,
					IdealCores:  d.CPU.IdealCores,
					CLISocket:   d.CLISocket(),
				}
				for field := range d.Live {
					info.LiveFields = append(info.LiveFields, field)
				}
				sort.Strings(info.LiveFields)
				infos = append(infos, info)
			}

			if jsonOutput {
				return printJSON(infos)
			}
			if len(infos) == 0 {
				fmt.Printf("No module definitions in %s\n", modulesDir)
				return nil
			}
			for _, m := range infos {
				fmt.Printf("%-12s cores %d-%d  connections %s\n",
					m.Name, m.MinCores, m.IdealCores, strings.Join(m.Connections, ","))
				if m.Description != "" {
					fmt.Printf("             %s\n", m.Description)
				}
				if len(m.LiveFields) > 0 {
					fmt.Printf("             live: %s\n", strings.Join(m.LiveFields, ", "))
				}
			}
			return nil
		},
	}

	return cmd
}
