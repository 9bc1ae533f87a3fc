// Package local delivers commands to the dataplane and routing daemons on
// this host.
package local

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justindthomas/imp/pkg/transports"
)

// waitDelay bounds how long a cancelled command may hold its output pipes.
const waitDelay = time.Second

// Channel runs vppctl and vtysh as child processes.
type Channel struct {
	build  func(command, target string) transports.Invocation
	logger zerolog.Logger
}

// NewChannel creates a channel for the local host.
func NewChannel() *Channel {
	return &Channel{
		build:  transports.Build,
		logger: log.Logger.With().Str("component", "local-channel").Logger(),
	}
}

// Execute implements executor.Channel. A non-zero exit status is a
// rejection; the output is stderr when present, stdout otherwise.
func (c *Channel) Execute(ctx context.Context, command, target string) (bool, string) {
	inv := c.build(command, target)
	if len(inv.Args) == 0 {
		return false, "empty invocation"
	}

	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	// Cancellation kills the whole process group so helpers spawned by the
	// command cannot keep the pipes open past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	c.logger.Debug().
		Str("target", target).
		Str("program", inv.Args[0]).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Command completed")

	out := strings.TrimSpace(stdout.String())
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			out = msg
		}
		if ctxErr := ctx.Err(); ctxErr != nil && out == "" {
			return false, ctxErr.Error()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && out == "" {
			out = err.Error()
		}
		return false, out
	}
	return true, out
}
