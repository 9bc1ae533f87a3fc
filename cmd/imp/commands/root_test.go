package commands

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand("test", "abc", "today")

	for _, name := range []string{"validate", "plan", "apply", "alloc", "history", "watch", "serve", "modules"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s, got: %v", name, err)
		}
	}

	for _, flag := range []string{"config", "modules-dir", "state-db", "policies", "verbose", "json", "remote", "ssh-user", "ssh-key"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Expected persistent flag --%s", flag)
		}
	}
}

func TestStagedPath(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()
	configPath = "/persistent/config/router.json"

	if got := stagedPath(nil); got != "/persistent/config/router.json.staged" {
		t.Errorf("Expected staged path next to the applied config, got: %s", got)
	}
	if got := stagedPath([]string{"/tmp/candidate.json"}); got != "/tmp/candidate.json" {
		t.Errorf("Expected explicit staged path, got: %s", got)
	}
}

func TestStagedSource_Missing(t *testing.T) {
	_, err := stagedSource(filepath.Join(t.TempDir(), "router.json.staged")).Load(context.Background())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected a missing staged file to be an error, got: %v", err)
	}
}

func TestStagedSource_Loads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.json.staged")
	doc := `{
  "hostname": "edge2",
  "management": {"iface": "eth0", "mode": "dhcp"},
  "interfaces": [{"name": "wan", "iface": "enp1s0", "pci": "0000:01:00.0"}]
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	got, err := stagedSource(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Expected staged config to load, got: %v", err)
	}
	if got.Hostname != "edge2" {
		t.Errorf("Expected hostname edge2, got: %s", got.Hostname)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("configure terminal\nrouter bgp 65000\nend"); got != "configure terminal ..." {
		t.Errorf("Expected truncated script, got: %s", got)
	}
	if got := firstLine("show version"); got != "show version" {
		t.Errorf("Expected single line unchanged, got: %s", got)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "router.json")
	if err := os.WriteFile(valid, []byte(`{
  "hostname": "edge2",
  "management": {"iface": "eth0", "mode": "dhcp"},
  "interfaces": [{"name": "wan", "iface": "enp1s0", "pci": "0000:01:00.0"}]
}`), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{
  "hostname": "edge2",
  "management": {"iface": "eth0", "mode": "static"}
}`), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	malformed := filepath.Join(dir, "malformed.json")
	if err := os.WriteFile(malformed, []byte(`{"hostname": `), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "valid", path: valid},
		{name: "static management without address", path: invalid, wantErr: true},
		{name: "malformed", path: malformed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand("test", "abc", "today")
			root.SetArgs([]string{"validate", tt.path, "--cores", "4", "--verbose", "--modules-dir", filepath.Join(dir, "modules")})

			err := root.ExecuteContext(context.Background())
			if tt.wantErr && err == nil {
				t.Error("Expected validation to fail")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected configuration to validate, got: %v", err)
			}
		})
	}
}
