package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSnapshotPath is where a remote appliance keeps its applied
// configuration.
const DefaultSnapshotPath = "/persistent/config/router.json"

// AuthMethod selects how the client authenticates to the appliance.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// defaultKeys are tried in order when key authentication has no key path.
var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

var validate = validator.New()

// Config holds the connection settings for a remote appliance. The remote
// user needs to run vppctl and ip netns exec.
type Config struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`
	User string `validate:"required"`

	AuthMethod           AuthMethod `validate:"oneof=password key"`
	Password             string     `validate:"required_if=AuthMethod password"`
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is consulted when StrictHostKeyChecking is set.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration `validate:"gt=0"`

	// KeepAliveInterval of zero disables keep-alives.
	KeepAliveInterval   time.Duration `validate:"gte=0"`
	MaxKeepAliveRetries int           `validate:"gte=0"`

	// SnapshotPath is the applied configuration on the appliance.
	SnapshotPath string `validate:"required,startswith=/"`
}

// DefaultConfig returns key-authenticated settings with host key checking
// against ~/.ssh/known_hosts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		KeepAliveInterval:     30 * time.Second,
		MaxKeepAliveRetries:   3,
		SnapshotPath:          DefaultSnapshotPath,
	}
}

// Validate checks the settings. Key authentication without a key path
// picks the first of the user's default keys that exists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid ssh config: %s", strings.Join(problems, "; "))
	}

	if c.AuthMethod != AuthMethodKey {
		return nil
	}
	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = findDefaultKey(filepath.Join(os.Getenv("HOME"), ".ssh"))
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("invalid ssh config: no private key given and none of %s found", strings.Join(defaultKeys, ", "))
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); err != nil {
		return fmt.Errorf("invalid ssh config: private key: %w", err)
	}
	return nil
}

func findDefaultKey(dir string) string {
	for _, name := range defaultKeys {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// BuildSSHClientConfig creates the x/crypto/ssh client configuration.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Some appliances only offer keyboard-interactive for passwords.
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
