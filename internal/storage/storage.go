// Package storage persists uploaded files and hands out temporary copies for download.
package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/domain"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var ErrNotFound = errors.New("file not found")

// FileStorage is the capability the transfer subsystem persists to and reads from.
type FileStorage interface {
	// Store persists the file at path and returns the id it can be found by.
	Store(ctx context.Context, path, name, user, domain string) (string, error)
	// Find returns a Download whose Path is a temporary copy owned by the caller.
	Find(ctx context.Context, id, domain string) (*domain.Download, error)
	Delete(ctx context.Context, id, domain string) (bool, error)
}

// New builds the backend selected by cfg.Backend. tempDir receives the copies handed
// out by Find; an empty value means os.TempDir().
func New(ctx context.Context, cfg config.StorageConfig, tempDir string, log *slog.Logger) (FileStorage, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Location, tempDir, log)
	case "minio":
		return NewMinio(ctx, cfg.Minio, tempDir, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)

// SanitizeName replaces every character outside [a-zA-Z0-9._-] with an underscore.
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")
	if s == "" || strings.Trim(s, ".") == "" {
		return "file"
	}
	return s
}

// domainDir maps a domain to a single safe path segment.
func domainDir(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		d = "default"
	}
	return SanitizeName(strings.ReplaceAll(d, " ", "_"))
}

func copyFile(src, dst string, log *slog.Logger) error {
	s, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file %s: %w", src, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error("failed to close source file", "file", src, "err", err)
		}
	}()
	d, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination file %s: %w", dst, err)
	}
	if _, err = io.Copy(d, s); err != nil {
		_ = d.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copying file %s to %s: %w", src, dst, err)
	}
	if err = d.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("closing destination file %s: %w", dst, err)
	}
	return nil
}

func tempCopyPath(tempDir string) (string, error) {
	f, err := os.CreateTemp(tempDir, "download_*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temporary download file: %w", err)
	}
	name := f.Name()
	if err = f.Close(); err != nil {
		return "", err
	}
	return name, nil
}
