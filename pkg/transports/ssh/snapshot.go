package ssh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"

	"github.com/justindthomas/imp/pkg/config"
)

// SnapshotStore reads and writes the applied configuration of a remote
// appliance over SFTP. It implements engine.SnapshotStore.
type SnapshotStore struct {
	client *Client
	path   string
}

// NewSnapshotStore creates a store for the configuration at the client's
// SnapshotPath.
func NewSnapshotStore(client *Client) *SnapshotStore {
	return &SnapshotStore{client: client, path: client.config.SnapshotPath}
}

func (s *SnapshotStore) sftpClient() (*sftp.Client, error) {
	client, err := s.client.sshClient()
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	return sc, nil
}

// Load returns the applied configuration. A missing file yields the
// default configuration, as for a local file.
func (s *SnapshotStore) Load(ctx context.Context) (*config.RouterConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	f, err := sc.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to open %s: %w", s.path, err)}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to read %s: %w", s.path, err), IsTemporary: true}
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote config %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save replaces the applied configuration. The document is written next
// to the target and renamed over it.
func (s *SnapshotStore) Save(ctx context.Context, cfg *config.RouterConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	sc, err := s.sftpClient()
	if err != nil {
		return err
	}
	defer sc.Close()

	dir := path.Dir(s.path)
	if err := sc.MkdirAll(dir); err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create %s: %w", dir, err)}
	}

	tmp := path.Join(dir, fmt.Sprintf(".router-%d.json", time.Now().UnixNano()))
	f, err := sc.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create %s: %w", tmp, err)}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = sc.Remove(tmp)
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to write %s: %w", tmp, err), IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		_ = sc.Remove(tmp)
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to close %s: %w", tmp, err)}
	}

	if err := sc.PosixRename(tmp, s.path); err != nil {
		_ = sc.Remove(tmp)
		return &TransportError{Op: "sftp", Err: fmt.Errorf("failed to replace %s: %w", s.path, err)}
	}
	return nil
}
