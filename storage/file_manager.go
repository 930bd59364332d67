package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

// FileManager exposes a Provider under a fixed key prefix. Callers use
// paths relative to the prefix and never see it.
type FileManager struct {
	provider Provider
	prefix   string
	logger   *slog.Logger
}

// NewFileManager creates a FileManager. The prefix may be empty.
func NewFileManager(p Provider, prefix string, logger *slog.Logger) *FileManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileManager{
		provider: p,
		prefix:   strings.Trim(path.Clean("/"+prefix), "/"),
		logger:   logger,
	}
}

// cleanPath normalizes a caller path. Leading slashes and ".." segments
// cannot climb above the prefix.
func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (m *FileManager) key(p string) string {
	if m.prefix == "" {
		return p
	}
	return m.prefix + "/" + p
}

// Write stores content at p, replacing any existing file, and returns the
// normalized path.
func (m *FileManager) Write(ctx context.Context, p string, content []byte) (string, error) {
	clean := cleanPath(p)
	if clean == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	m.logger.Info("Writing file", "path", clean, "bytes", len(content))
	if err := m.provider.Put(ctx, m.key(clean), bytes.NewReader(content)); err != nil {
		return "", err
	}
	return clean, nil
}

// Read returns the contents of the file at p.
func (m *FileManager) Read(ctx context.Context, p string) ([]byte, error) {
	clean := cleanPath(p)
	if clean == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	rc, err := m.provider.Get(ctx, m.key(clean))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	return data, nil
}

// List returns the paths of every file under directory, relative to the
// prefix. An empty directory lists everything.
func (m *FileManager) List(ctx context.Context, directory string) ([]string, error) {
	dir := cleanPath(directory)
	var listPrefix string
	switch {
	case dir != "":
		listPrefix = m.key(dir) + "/"
	case m.prefix != "":
		listPrefix = m.prefix + "/"
	}
	keys, err := m.provider.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if m.prefix != "" {
			k = strings.TrimPrefix(k, m.prefix+"/")
		}
		out = append(out, k)
	}
	return out, nil
}

// Delete removes the file at p and returns the normalized path.
func (m *FileManager) Delete(ctx context.Context, p string) (string, error) {
	clean := cleanPath(p)
	if clean == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	m.logger.Info("Deleting file", "path", clean)
	if err := m.provider.Delete(ctx, m.key(clean)); err != nil {
		return "", err
	}
	return clean, nil
}
