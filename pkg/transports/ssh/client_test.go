package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/justindthomas/imp/pkg/config"
)

// testSSHServer is a minimal appliance: it answers a few fixed commands
// and serves SFTP from the local filesystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, hostKey, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   cfg,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()
	t.Cleanup(server.close)
	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	stop := make(chan struct{})
	defer close(stop)

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go s.exec(channel, payload.Command, stop)

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(channel)
				if err != nil {
					channel.Close()
					return
				}
				_ = server.Serve()
				server.Close()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) exec(channel ssh.Channel, command string, stop <-chan struct{}) {
	status := uint32(0)
	switch {
	case command == "true":
	case command == "cat /proc/cpuinfo":
		for i := 0; i < 4; i++ {
			fmt.Fprintf(channel, "processor\t: %d\nmodel name\t: test\n\n", i)
		}
	case command == "ip netns exec dataplane vtysh":
		script, _ := io.ReadAll(channel)
		channel.Write(script)
	case command == "sleep":
		select {
		case <-stop:
		case <-time.After(10 * time.Second):
		}
		return
	case command == "stream":
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				if _, err := channel.Write([]byte("tick\n")); err != nil {
					return
				}
			}
		}
	case strings.Contains(command, "bogus"):
		channel.Stderr().Write([]byte("unknown input `bogus'\n"))
		status = 1
	case command == "exit 1":
		status = 1
	default:
		fmt.Fprintf(channel, "command: %s\n", command)
	}
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	channel.Close()
}

func (s *testSSHServer) close() {
	close(s.done)
	s.listener.Close()
}

func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}
	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}
	return publicKey, signer, nil
}

// connectedClient returns a client connected to a fresh test server.
func connectedClient(t *testing.T, modify ...func(*Config)) *Client {
	t.Helper()
	server := newTestSSHServer(t)
	host, port := parseAddress(server.addr)

	cfg := DefaultConfig(host, "testuser")
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "testpass"
	cfg.StrictHostKeyChecking = false
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.KeepAliveInterval = 0
	for _, m := range modify {
		m(cfg)
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func parseAddress(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func TestClientConnect(t *testing.T) {
	client := connectedClient(t)

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	if client.ConnectedAt().IsZero() {
		t.Error("expected connection time to be recorded")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
	// Reconnecting a healthy client keeps the connection.
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("reconnect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail after close")
	}
}

func TestClientConnect_BadPassword(t *testing.T) {
	server := newTestSSHServer(t)
	host, port := parseAddress(server.addr)

	cfg := DefaultConfig(host, "testuser")
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "wrong"
	cfg.StrictHostKeyChecking = false

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	err = client.Connect(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got: %v", err)
	}
	if !terr.IsAuthError {
		t.Errorf("expected authentication failure, got: %v", err)
	}
}

func TestClientKeyBasedAuth(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "test_key")

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	client := connectedClient(t, func(c *Config) {
		c.AuthMethod = AuthMethodKey
		c.PrivateKeyPath = keyPath
	})
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

func TestClientRun(t *testing.T) {
	client := connectedClient(t)
	ctx := context.Background()

	t.Run("stdout", func(t *testing.T) {
		stdout, stderr, err := client.Run(ctx, "show version", "")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if stdout != "command: show version" {
			t.Errorf("expected echoed command, got '%s'", stdout)
		}
		if stderr != "" {
			t.Errorf("expected empty stderr, got '%s'", stderr)
		}
	})

	t.Run("exit status", func(t *testing.T) {
		_, _, err := client.Run(ctx, "exit 1", "")
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("expected TransportError, got: %v", err)
		}
		if terr.ExitStatus != 1 {
			t.Errorf("expected exit status 1, got %d", terr.ExitStatus)
		}
	})

	t.Run("stdin", func(t *testing.T) {
		stdout, _, err := client.Run(ctx, "ip netns exec dataplane vtysh", "configure terminal\nend\n")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if stdout != "configure terminal\nend" {
			t.Errorf("expected script echoed back, got '%s'", stdout)
		}
	})
}

func TestClientRun_ContextCancelled(t *testing.T) {
	client := connectedClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := client.Run(ctx, "sleep", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("expected run to return at the deadline, took %s", time.Since(start))
	}
}

func TestClientRun_CancelledWhileStreaming(t *testing.T) {
	client := connectedClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	stdout, _, err := client.Run(ctx, "stream", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected run to return at the deadline, took %s", elapsed)
	}
	if !strings.HasPrefix(stdout, "tick") {
		t.Errorf("expected output streamed before the deadline, got: %q", stdout)
	}
}

func TestClientRun_NotConnected(t *testing.T) {
	cfg := DefaultConfig("192.0.2.1", "testuser")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	_, _, err = client.Run(context.Background(), "true", "")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Errorf("expected TransportError, got: %v", err)
	}
}

func TestChannelExecute(t *testing.T) {
	ch := NewChannel(connectedClient(t))
	ctx := context.Background()

	ok, out := ch.Execute(ctx, "show interface", "core")
	if !ok {
		t.Fatalf("expected success, got: %s", out)
	}
	if out != "command: vppctl -s /run/vpp/core-cli.sock 'show interface'" {
		t.Errorf("unexpected output '%s'", out)
	}

	ok, out = ch.Execute(ctx, "bogus", "nat")
	if ok {
		t.Fatal("expected rejection")
	}
	if out != "unknown input `bogus'" {
		t.Errorf("expected stderr as output, got '%s'", out)
	}

	ok, out = ch.Execute(ctx, "configure terminal\nno router ospf\nend\n", "frr")
	if !ok {
		t.Fatalf("expected success, got: %s", out)
	}
	if out != "configure terminal\nno router ospf\nend" {
		t.Errorf("expected vtysh script on stdin, got '%s'", out)
	}
}

func TestDetectTopology(t *testing.T) {
	topo, err := DetectTopology(context.Background(), connectedClient(t))
	if err != nil {
		t.Fatalf("failed to detect topology: %v", err)
	}
	if topo.TotalCores != 4 {
		t.Errorf("expected 4 cores, got %d", topo.TotalCores)
	}
}

func TestSnapshotStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config", "router.json")
	store := NewSnapshotStore(connectedClient(t, func(c *Config) { c.SnapshotPath = path }))
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load missing snapshot: %v", err)
	}
	if cfg.Hostname != config.DefaultHostname {
		t.Errorf("expected default config, got hostname '%s'", cfg.Hostname)
	}

	cfg.Hostname = "edge2"
	cfg.Routes = []config.Route{{Destination: "0.0.0.0/0", Via: "203.0.113.1"}}
	if err := store.Save(ctx, cfg); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to list snapshot dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "router.json" {
		t.Errorf("expected only router.json after save, got %v", entries)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if loaded.Hostname != "edge2" || len(loaded.Routes) != 1 {
		t.Errorf("expected saved snapshot, got hostname '%s' with %d routes", loaded.Hostname, len(loaded.Routes))
	}
}
