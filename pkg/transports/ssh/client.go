// Package ssh drives a remote appliance: commands run over SSH sessions and
// the applied configuration is read and written over SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "sftp")
	Op string

	// Err is the underlying error
	Err error

	// ExitStatus is the remote exit status when a command ran and failed
	ExitStatus int

	// IsTemporary indicates the connection may recover
	IsTemporary bool

	// IsAuthError indicates the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Client is a single SSH connection to an appliance. Sessions are opened
// per command and are safe for concurrent use.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu          sync.RWMutex
	client      *ssh.Client
	connectedAt time.Time
	stop        chan struct{}
}

// NewClient creates a client for the appliance described by config.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: config,
		logger: log.Logger.With().Str("component", "ssh").Str("host", config.Host).Logger(),
	}, nil
}

// Connect establishes the connection. Connecting an already healthy client
// is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if err := ping(c.client); err == nil {
			return nil
		}
		c.logger.Warn().Msg("Existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	c.logger.Debug().Str("address", address).Msg("Establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine still owns any connection it completes.
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true, IsAuthError: isAuthFailure(err)}
	case client := <-connChan:
		c.client = client
		c.connectedAt = time.Now()
		c.stop = make(chan struct{})
		if c.config.KeepAliveInterval > 0 {
			go c.keepAlive(client, c.stop)
		}
		c.logger.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.client == nil {
		return nil
	}
	close(c.stop)
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected reports whether the client holds a connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// ConnectedAt returns when the current connection was established.
func (c *Client) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// HealthCheck verifies the connection can still open sessions.
func (c *Client) HealthCheck(ctx context.Context) error {
	client, err := c.sshClient()
	if err != nil {
		return err
	}
	return ping(client)
}

func ping(client *ssh.Client) error {
	session, err := client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.logger.Warn().Err(err).Int("retries", retries).Msg("Keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("Keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

// Run executes cmd in a new session, feeding stdin when non-empty. A
// non-zero exit status is a TransportError carrying the status. When ctx
// ends first the remote process is signalled and ctx.Err() is returned.
func (c *Client) Run(ctx context.Context, cmd, stdin string) (stdout string, stderr string, err error) {
	client, err := c.sshClient()
	if err != nil {
		return "", "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf lockedBuffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		select {
		case <-doneChan:
		case <-time.After(drainTimeout):
			c.logger.Warn().Str("command", cmd).Msg("Session did not close after cancellation")
		}
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", time.Since(start)).
		Err(execErr).
		Msg("Command completed")

	if execErr == nil {
		return stdout, stderr, nil
	}
	if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
		return stdout, stderr, execErr
	}

	var exitErr *ssh.ExitError
	if errors.As(execErr, &exitErr) {
		return stdout, stderr, &TransportError{
			Op:         "exec",
			Err:        fmt.Errorf("command exited with code %d", exitErr.ExitStatus()),
			ExitStatus: exitErr.ExitStatus(),
		}
	}
	return stdout, stderr, &TransportError{Op: "exec", Err: execErr, IsTemporary: true}
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// drainTimeout bounds the wait for a cancelled session to stop copying output.
const drainTimeout = 2 * time.Second

// lockedBuffer is a bytes.Buffer safe for the session's copy goroutines and
// a concurrent reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
