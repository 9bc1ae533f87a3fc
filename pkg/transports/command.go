// Package transports builds the command lines that deliver dataplane and
// routing commands to their target processes. The local and ssh
// subpackages run them on this host or on a remote appliance.
package transports

import (
	"strings"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/executor"
)

// DataplaneNamespace is the network namespace FRR runs in.
const DataplaneNamespace = "dataplane"

// Invocation is one process to run for one command.
type Invocation struct {
	Args  []string
	Stdin string
}

// Build returns the invocation delivering command to target. Routing
// scripts are piped to vtysh; everything else is a vppctl call on the
// target instance's CLI socket.
func Build(command, target string) Invocation {
	if target == executor.TargetFRR {
		return Invocation{
			Args:  []string{"ip", "netns", "exec", DataplaneNamespace, "vtysh"},
			Stdin: command,
		}
	}
	return Invocation{
		Args: []string{"vppctl", "-s", alloc.ModuleCLISocket(target), command},
	}
}

// ShellString renders the invocation for a remote shell.
func (i Invocation) ShellString() string {
	quoted := make([]string, 0, len(i.Args))
	for _, a := range i.Args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=,@%+", r)
}
