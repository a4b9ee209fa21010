package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes objects under a local directory. It is meant for
// development and single-host deployments.
type FSStore struct {
	root   string
	prefix string
}

// NewFS creates a store rooted at root.
func NewFS(root, prefix string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("fs storage: root directory not configured")
	}
	return &FSStore{root: root, prefix: prefix}, nil
}

// Path returns where key is stored on disk.
func (s *FSStore) Path(key string) (string, error) {
	name := objectName(s.prefix, key)
	p := filepath.Join(s.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("fs storage: key %q escapes root", key)
	}
	return p, nil
}

// Put writes the object atomically via a temp file and rename.
func (s *FSStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename object: %w", err)
	}
	return nil
}
