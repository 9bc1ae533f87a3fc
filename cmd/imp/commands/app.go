package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/api"
	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
	"github.com/justindthomas/imp/pkg/executor"
	"github.com/justindthomas/imp/pkg/modules"
	"github.com/justindthomas/imp/pkg/policy"
	"github.com/justindthomas/imp/pkg/stores"
	"github.com/justindthomas/imp/pkg/telemetry"
	"github.com/justindthomas/imp/pkg/transports/local"
	"github.com/justindthomas/imp/pkg/transports/ssh"
)

// snapshotStore loads and saves the applied configuration.
type snapshotStore interface {
	Load(ctx context.Context) (*config.RouterConfig, error)
	Save(ctx context.Context, cfg *config.RouterConfig) error
}

// appOptions select the parts of the environment a command needs.
type appOptions struct {
	// channel connects to the dataplane and FRR.
	channel bool

	// history opens the apply history database.
	history bool

	// policies loads guardrail policies.
	policies bool

	// daemon selects the appliance telemetry profile for long-running
	// commands.
	daemon bool
}

// app is the wired environment of one command invocation.
type app struct {
	tel    *telemetry.Telemetry
	logger zerolog.Logger

	client   *ssh.Client
	applied  snapshotStore
	history  *stores.SQLiteStore
	policy   *policy.Engine
	registry *modules.Registry
	topology alloc.Topology

	orchestrator *engine.Orchestrator
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	tel, err := telemetry.NewTelemetry(telemetryConfig(opts.daemon))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	a := &app{tel: tel, logger: log.Logger}

	if err := a.init(ctx, opts); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	registry, err := modules.LoadDir(modulesDir)
	if err != nil {
		return fmt.Errorf("failed to load module definitions: %w", err)
	}
	a.registry = registry

	var channel executor.Channel
	if remoteHost != "" {
		if err := a.connect(ctx); err != nil {
			return err
		}
		a.applied = ssh.NewSnapshotStore(a.client)
		topo, err := ssh.DetectTopology(ctx, a.client)
		if err != nil {
			return err
		}
		a.topology = topo
		channel = ssh.NewChannel(a.client)
	} else {
		a.applied = config.NewFileStore(configPath)
		a.topology = alloc.DetectTopology()
		channel = local.NewChannel()
	}

	if opts.history {
		a.openHistory(ctx)
	}

	if opts.policies {
		eng, err := policy.NewEngine(a.logger)
		if err != nil {
			return err
		}
		if _, err := os.Stat(policyDir); err == nil {
			if err := eng.LoadPolicies(ctx, []string{policyDir}); err != nil {
				return err
			}
		}
		a.policy = eng
	}

	engineOpts := []engine.Option{
		engine.WithModules(a.registry, a.topology),
		engine.WithObserver(telemetry.NewCycleObserver(a.tel)),
		engine.WithLogger(a.tel.Logger.Zerolog().With().Str("component", "orchestrator").Logger()),
	}
	if a.history != nil {
		engineOpts = append(engineOpts, engine.WithHistory(a.history))
	}
	if a.policy != nil {
		engineOpts = append(engineOpts, engine.WithPolicy(a.policy))
	}

	var exec engine.Executor
	if opts.channel {
		exec = executor.New(channel, executor.WithLogger(a.tel.Logger.Zerolog().With().Str("component", "executor").Logger()))
	}
	a.orchestrator = engine.NewOrchestrator(exec, a.applied, engineOpts...)

	a.logger.Debug().
		Str("config", configPath).
		Str("remote", remoteHost).
		Int("cores", a.topology.TotalCores).
		Int("modules", len(a.registry.List())).
		Msg("Environment ready")

	return nil
}

func (a *app) connect(ctx context.Context) error {
	cfg := ssh.DefaultConfig(remoteHost, sshUser)
	cfg.PrivateKeyPath = sshKey
	if configPath != config.DefaultConfigPath {
		cfg.SnapshotPath = configPath
	}

	client, err := ssh.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("invalid SSH settings: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	a.client = client
	return nil
}

// openHistory opens the history database. A history that cannot be opened
// is reported and skipped; cycles still run.
func (a *app) openHistory(ctx context.Context) {
	if err := os.MkdirAll(filepath.Dir(stateDB), 0o755); err != nil {
		a.logger.Warn().Err(err).Str("path", stateDB).Msg("Apply history unavailable")
		return
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: stateDB})
	if err == nil {
		err = store.Init(ctx)
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("path", stateDB).Msg("Apply history unavailable")
		return
	}
	a.history = store
}

// Close releases the environment.
func (a *app) Close(ctx context.Context) {
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Debug().Err(err).Msg("Telemetry shutdown failed")
	}
}

// stagedPath returns the staged configuration named by args, or the one
// next to the applied configuration.
func stagedPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.StagedPath(configPath)
}

// stagedSource loads a staged configuration. Unlike the applied
// configuration, a missing staged file is an error.
func stagedSource(path string) api.ConfigSource {
	return api.ConfigSourceFunc(func(context.Context) (*config.RouterConfig, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no staged configuration: %w", err)
		}
		return config.Load(path)
	})
}

func telemetryConfig(daemon bool) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if daemon {
		cfg = telemetry.ProductionConfig()
	}
	cfg.ServiceVersion = buildVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
		cfg.Tracing.Insecure = true
	}
	return cfg
}
