package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a router configuration from path.
// A missing file yields the default configuration.
func Load(path string) (*RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a router configuration document after checking it against
// the document schema.
func Parse(data []byte) (*RouterConfig, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically: the document is written to a temporary
// file in the same directory and renamed over the target.
func Save(path string, cfg *RouterConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".router-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config %s: %w", path, err)
	}
	return nil
}

// FileStore persists the applied configuration on the local filesystem.
type FileStore struct {
	Path string
}

// NewFileStore creates a store for the configuration at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load returns the applied configuration.
func (s *FileStore) Load(ctx context.Context) (*RouterConfig, error) {
	return Load(s.Path)
}

// Save replaces the applied configuration.
func (s *FileStore) Save(ctx context.Context, cfg *RouterConfig) error {
	return Save(s.Path, cfg)
}

// StagedPath returns the conventional staged-configuration path next to path.
func StagedPath(path string) string {
	return path + ".staged"
}
