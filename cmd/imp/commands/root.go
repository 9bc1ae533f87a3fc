package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/stores"
)

// DefaultPolicyDir holds site guardrail policies on the appliance.
const DefaultPolicyDir = "/persistent/config/policies"

var (
	// Global flags
	configPath string
	modulesDir string
	stateDB    string
	policyDir  string
	verbose    bool
	jsonOutput bool
	remoteHost string
	sshUser    string
	sshKey     string

	// buildVersion is reported as the telemetry service version.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	if version != "" {
		buildVersion = version
	}

	rootCmd := &cobra.Command{
		Use:   "imp",
		Short: "imp - live configuration for VPP and FRR routers",
		Long: `imp moves a running VPP dataplane and FRR control plane from the applied
router configuration to a staged one without restarting either.

Each apply cycle:
  - Diffs the applied and staged configurations entity by entity
  - Orders the operations by dependency
  - Classifies each operation as live or restart-required
  - Checks the plan against guardrail policies
  - Executes live operations one command at a time, stopping at the first failure
  - Persists the staged configuration only when every live operation succeeded`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "applied configuration path")
	flags.StringVar(&modulesDir, "modules-dir", config.DefaultModulesDir, "module definitions directory")
	flags.StringVar(&stateDB, "state-db", stores.DefaultPath, "apply history database")
	flags.StringVar(&policyDir, "policies", DefaultPolicyDir, "guardrail policy directory")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&remoteHost, "remote", "", "apply to a remote appliance over SSH")
	flags.StringVar(&sshUser, "ssh-user", "root", "SSH user for --remote")
	flags.StringVar(&sshKey, "ssh-key", "", "SSH private key for --remote")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newAllocCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newModulesCommand())

	return rootCmd
}
