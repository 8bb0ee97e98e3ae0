package clients

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StorageClient keeps finished export workbooks on local disk and hands out
// the URLs they are served under. It is the fallback archive when no S3
// bucket is configured; files are short-lived and reaped by CleanupOlderThan.
type StorageClient struct {
	BaseDir      string // directory holding export files
	PublicPrefix string // URL prefix the download handler serves from, e.g. "/files"
	BaseURL      string // optional scheme+host for absolute URLs
}

// NewLocalStorage creates the export directory if it does not exist yet.
func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir %q: %w", baseDir, err)
	}

	return &StorageClient{BaseDir: baseDir, PublicPrefix: publicPrefix, BaseURL: baseURL}, nil
}

// Save writes an export file under a collision-proof name and returns that
// name. The caller's name survives as the suffix so the download handler can
// restore it in Content-Disposition.
func (s *StorageClient) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	// filepath.Base strips any path the caller smuggled in
	final := uuid.NewString() + "_" + filepath.Base(fileName)

	path := filepath.Join(s.BaseDir, final)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize export file: %w", err)
	}

	return final, nil
}

// GetURL builds the download URL for a saved file: absolute when BaseURL is
// configured, otherwise a path relative to the serving host.
func (s *StorageClient) GetURL(fileName string) string {
	prefix := s.PublicPrefix
	if prefix == "" {
		prefix = "/files"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	if s.BaseURL != "" {
		return strings.TrimSuffix(s.BaseURL, "/") + prefix + "/" + fileName
	}
	return prefix + "/" + fileName
}

// CleanupOlderThan removes export files past their useful life. Errors on
// individual files are ignored; a file that cannot be removed now will be
// caught by the next sweep.
func (s *StorageClient) CleanupOlderThan(d time.Duration) error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return fmt.Errorf("read export dir: %w", err)
	}

	cutoff := time.Now().Add(-d)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.BaseDir, de.Name()))
		}
	}
	return nil
}
