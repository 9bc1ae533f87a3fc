package transports

import (
	"reflect"
	"testing"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		command string
		target  string
		args    []string
		stdin   string
	}{
		{
			name:    "core",
			command: "ip route add 10.0.0.0/8 via 192.0.2.1",
			target:  "core",
			args:    []string{"vppctl", "-s", "/run/vpp/core-cli.sock", "ip route add 10.0.0.0/8 via 192.0.2.1"},
		},
		{
			name:    "module",
			command: "det44 add in 10.0.0.0/24 out 198.51.100.0/28",
			target:  "nat",
			args:    []string{"vppctl", "-s", "/run/vpp/nat-cli.sock", "det44 add in 10.0.0.0/24 out 198.51.100.0/28"},
		},
		{
			name:    "frr",
			command: "configure terminal\nno router ospf\nend\n",
			target:  "frr",
			args:    []string{"ip", "netns", "exec", "dataplane", "vtysh"},
			stdin:   "configure terminal\nno router ospf\nend\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Build(tt.command, tt.target)
			if !reflect.DeepEqual(inv.Args, tt.args) {
				t.Errorf("Expected args %q, got: %q", tt.args, inv.Args)
			}
			if inv.Stdin != tt.stdin {
				t.Errorf("Expected stdin %q, got: %q", tt.stdin, inv.Stdin)
			}
		})
	}
}

func TestShellString(t *testing.T) {
	inv := Build("lcp create wan.100 host-if wan-v100", "core")
	want := "vppctl -s /run/vpp/core-cli.sock 'lcp create wan.100 host-if wan-v100'"
	if got := inv.ShellString(); got != want {
		t.Errorf("Expected %q, got: %q", want, got)
	}

	inv = Invocation{Args: []string{"echo", "it's"}}
	if got := inv.ShellString(); got != `echo 'it'\''s'` {
		t.Errorf("Expected quote escaping, got: %q", got)
	}
}
