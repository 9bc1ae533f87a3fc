package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("edge1.example.net", "root")

	if cfg.Address() != "edge1.example.net:22" {
		t.Errorf("expected port 22 address, got '%s'", cfg.Address())
	}
	if cfg.AuthMethod != AuthMethodKey || !cfg.StrictHostKeyChecking {
		t.Errorf("expected key auth with host key checking, got %s/%v", cfg.AuthMethod, cfg.StrictHostKeyChecking)
	}
	if cfg.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", cfg.ConnectionTimeout)
	}
	if cfg.SnapshotPath != DefaultSnapshotPath {
		t.Errorf("expected snapshot path '%s', got '%s'", DefaultSnapshotPath, cfg.SnapshotPath)
	}
}

func TestConfigValidation(t *testing.T) {
	keyPath := writeTestKey(t)

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"password", func(c *Config) {}, ""},
		{"key", func(c *Config) {
			c.AuthMethod = AuthMethodKey
			c.PrivateKeyPath = keyPath
		}, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "Host"},
		{"port out of range", func(c *Config) { c.Port = 70000 }, "Port"},
		{"missing user", func(c *Config) { c.User = "" }, "User"},
		{"password auth without password", func(c *Config) { c.Password = "" }, "Password"},
		{"unsupported auth method", func(c *Config) { c.AuthMethod = "agent" }, "AuthMethod"},
		{"zero connection timeout", func(c *Config) { c.ConnectionTimeout = 0 }, "ConnectionTimeout"},
		{"negative keep-alive", func(c *Config) { c.KeepAliveInterval = -time.Second }, "KeepAliveInterval"},
		{"relative snapshot path", func(c *Config) { c.SnapshotPath = "router.json" }, "SnapshotPath"},
		{"missing key file", func(c *Config) {
			c.AuthMethod = AuthMethodKey
			c.PrivateKeyPath = "/nonexistent/key"
		}, "private key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("192.0.2.1", "root")
			cfg.AuthMethod = AuthMethodPassword
			cfg.Password = "secret"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning '%s', got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestFindDefaultKey(t *testing.T) {
	dir := t.TempDir()
	if got := findDefaultKey(dir); got != "" {
		t.Errorf("expected no key in empty dir, got '%s'", got)
	}

	for _, name := range []string{"id_rsa", "id_ecdsa"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("key"), 0o600); err != nil {
			t.Fatalf("failed to write key: %v", err)
		}
	}
	if got := findDefaultKey(dir); got != filepath.Join(dir, "id_ecdsa") {
		t.Errorf("expected id_ecdsa to be preferred over id_rsa, got '%s'", got)
	}
}

func TestConfigAddressIPv6(t *testing.T) {
	cfg := DefaultConfig("2001:db8::1", "root")
	cfg.Port = 2222

	if got := cfg.Address(); got != "[2001:db8::1]:2222" {
		t.Errorf("expected bracketed address, got '%s'", got)
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantAuth  int
		wantError bool
	}{
		{"password offers keyboard-interactive too", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = "secret"
		}, 2, false},
		{"private key", func(c *Config) {
			c.PrivateKeyPath = writeTestKey(t)
		}, 1, false},
		{"unparseable key", func(c *Config) {
			path := filepath.Join(t.TempDir(), "garbage")
			if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
				t.Fatalf("failed to write key: %v", err)
			}
			c.PrivateKeyPath = path
		}, 0, true},
		{"strict checking with missing known_hosts", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = "secret"
			c.StrictHostKeyChecking = true
			c.KnownHostsPath = filepath.Join(t.TempDir(), "missing")
		}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("192.0.2.1", "root")
			cfg.StrictHostKeyChecking = false
			tt.modify(cfg)

			clientConfig, err := cfg.BuildSSHClientConfig()
			if tt.wantError {
				if err == nil {
					t.Error("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if clientConfig.User != "root" {
				t.Errorf("expected user 'root', got '%s'", clientConfig.User)
			}
			if len(clientConfig.Auth) != tt.wantAuth {
				t.Errorf("expected %d auth methods, got %d", tt.wantAuth, len(clientConfig.Auth))
			}
			if clientConfig.Timeout != 30*time.Second {
				t.Errorf("expected timeout 30s, got %v", clientConfig.Timeout)
			}
		})
	}
}

// writeTestKey writes a fresh unencrypted ed25519 key in OpenSSH format.
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}
