package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileTokenStore stores the CRM refresh token in a local file.
// Blank lines and lines starting with # are ignored; the first other line is the token.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a new FileTokenStore that reads/writes to the given path.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	return &FileTokenStore{path: path}, nil
}

// RefreshToken returns the current refresh token from the file.
func (s *FileTokenStore) RefreshToken(_ context.Context) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("token file not found: %s (paste a refresh token there or set crm.token_file)", s.path)
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("token file %s is accessible by other users (mode %o), run chmod 600", s.path, info.Mode().Perm())
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}

	return "", fmt.Errorf("token file is empty: %s", s.path)
}

// SaveRefreshToken saves the refresh token to the file.
func (s *FileTokenStore) SaveRefreshToken(_ context.Context, token string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}
