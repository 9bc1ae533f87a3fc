package ssh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/transports"
)

// Channel delivers commands to the dataplane and routing daemons of a
// remote appliance. It implements executor.Channel.
type Channel struct {
	client *Client
}

// NewChannel creates a channel over client.
func NewChannel(client *Client) *Channel {
	return &Channel{client: client}
}

// Execute runs the command line for target on the appliance. A non-zero
// exit status is a rejection; the output is stderr when present.
func (c *Channel) Execute(ctx context.Context, command, target string) (bool, string) {
	inv := transports.Build(command, target)
	stdout, stderr, err := c.client.Run(ctx, inv.ShellString(), inv.Stdin)
	if err == nil {
		return true, stdout
	}

	out := stdout
	if stderr != "" {
		out = stderr
	}
	var terr *TransportError
	if !errors.As(err, &terr) || terr.ExitStatus == 0 {
		// The command may not have run at all.
		out = fmt.Sprintf("%v: %s", err, out)
	}
	return false, out
}

// DetectTopology counts the appliance's processors for the allocator.
func DetectTopology(ctx context.Context, client *Client) (alloc.Topology, error) {
	stdout, _, err := client.Run(ctx, "cat "+alloc.CPUInfoPath, "")
	if err != nil {
		return alloc.Topology{}, fmt.Errorf("failed to read remote cpuinfo: %w", err)
	}
	n, err := alloc.CountProcessors(strings.NewReader(stdout))
	if err != nil {
		return alloc.Topology{}, fmt.Errorf("failed to parse remote cpuinfo: %w", err)
	}
	if n == 0 {
		return alloc.Topology{}, fmt.Errorf("no processors reported by %s", client.config.Host)
	}
	return alloc.Topology{TotalCores: n}, nil
}
