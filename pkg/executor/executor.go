package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justindthomas/imp/pkg/engine"
)

// DefaultCommandTimeout bounds every command sent over a channel.
const DefaultCommandTimeout = 30 * time.Second

// Targets every channel understands. Module instances are addressed by
// their module name.
const (
	TargetCore = "core"
	TargetFRR  = "frr"
)

// Channel sends one command to one target process and reports whether the
// target accepted it. Implementations must honour ctx cancellation.
type Channel interface {
	Execute(ctx context.Context, command, target string) (ok bool, output string)
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, command, target string) (bool, string)

// Execute calls f.
func (f ChannelFunc) Execute(ctx context.Context, command, target string) (bool, string) {
	return f(ctx, command, target)
}

// errorPatterns are dataplane CLI responses that report failure with a zero
// exit status.
var errorPatterns = []string{
	"unknown input",
	"not specified",
	"not found",
	"failed",
	"error",
	"invalid",
	"already exists",
	"does not exist",
}

// DataplaneFailure returns the first error pattern found in dataplane CLI
// output, or "" when the output looks successful.
func DataplaneFailure(output string) string {
	lower := strings.ToLower(output)
	for _, p := range errorPatterns {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

// Executor renders live operations to commands and runs them over a channel.
type Executor struct {
	channel Channel
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout overrides the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an executor sending commands over ch.
func New(ch Channel, opts ...Option) *Executor {
	e := &Executor{
		channel: ch,
		timeout: DefaultCommandTimeout,
		logger:  log.Logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements engine.Executor. Commands run in order and the first
// failure stops the operation. Nothing is retried.
func (e *Executor) Execute(ctx context.Context, op engine.Operation) (outcome engine.Outcome) {
	outcome = engine.Outcome{
		OperationID: op.ID(),
		Description: op.String(),
		StartedAt:   time.Now(),
		Commands:    make([]engine.CommandResult, 0),
	}
	defer func() { outcome.Duration = time.Since(outcome.StartedAt) }()

	cmds, err := Render(op)
	if err != nil {
		ee := engine.NewInternalError(fmt.Sprintf("failed to render %s", op), err).WithOperation(op.ID())
		outcome.Error = ee.Error()
		outcome.Err = ee
		return outcome
	}

	if len(cmds) == 0 {
		e.logger.Debug().Str("operation", op.String()).Msg("Operation renders to no commands")
	}

	for _, cmd := range cmds {
		result, err := e.run(ctx, cmd)
		outcome.Commands = append(outcome.Commands, result)
		if err != nil {
			var ee *engine.EngineError
			if errors.As(err, &ee) {
				ee.WithOperation(op.ID())
			}
			outcome.Error = err.Error()
			outcome.Err = err
			e.logger.Warn().
				Str("operation", op.String()).
				Str("target", cmd.Target).
				Str("command", cmd.Summary()).
				Str("output", result.Output).
				Msg("Command failed")
			return outcome
		}
	}

	outcome.Success = true
	return outcome
}

// run sends one command bounded by the executor timeout.
func (e *Executor) run(ctx context.Context, cmd Command) (engine.CommandResult, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	ok, output := e.channel.Execute(cctx, cmd.Text, cmd.Target)
	result := engine.CommandResult{
		Target:   cmd.Target,
		Command:  cmd.Text,
		OK:       ok,
		Output:   output,
		Duration: time.Since(start),
	}

	e.logger.Debug().
		Str("target", cmd.Target).
		Str("command", cmd.Summary()).
		Bool("ok", ok).
		Dur("duration", result.Duration).
		Msg("Command executed")

	if !ok && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return result, engine.NewTimeoutError(
			fmt.Sprintf("%s command timed out after %s", cmd.Target, e.timeout), cctx.Err(),
		).WithResource(cmd.Target)
	}
	if !ok {
		return result, engine.NewExecutionError(
			fmt.Sprintf("%s rejected %q: %s", cmd.Target, cmd.Summary(), output), nil,
		).WithResource(cmd.Target)
	}
	if cmd.Target != TargetFRR {
		if pattern := DataplaneFailure(output); pattern != "" {
			result.OK = false
			return result, engine.NewExecutionError(
				fmt.Sprintf("%s rejected %q: %s", cmd.Target, cmd.Text, output), nil,
			).WithResource(cmd.Target).WithDetail("pattern", pattern)
		}
	}
	return result, nil
}
