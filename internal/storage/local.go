package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/domain"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/google/uuid"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Local keeps files under <root>/<domain>/<id>_<sanitized name>.
type Local struct {
	root    string
	tempDir string
	log     *slog.Logger
}

func NewLocal(root, tempDir string, log *slog.Logger) (*Local, error) {
	if log == nil {
		log = logging.Discard()
	}
	if root == "" {
		root = filepath.Join(os.TempDir(), "adminplane", "files")
		log.Warn("Storage location is empty, using temporary directory", "location", root)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage location: %w", err)
	}
	log.Info("Local file storage", "location", root)
	return &Local{root: root, tempDir: tempDir, log: log}, nil
}

func (l *Local) Store(_ context.Context, path, name, _ string, d string) (string, error) {
	dir := filepath.Join(l.root, domainDir(d))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating domain directory: %w", err)
	}
	id := uuid.NewString()
	dst := filepath.Join(dir, id+"_"+SanitizeName(name))
	if err := copyFile(path, dst, l.log); err != nil {
		return "", fmt.Errorf("storing file: %w", err)
	}
	return id, nil
}

func (l *Local) Find(_ context.Context, id, d string) (*domain.Download, error) {
	src, name, err := l.locate(id, d)
	if err != nil {
		return nil, err
	}
	tmp, err := tempCopyPath(l.tempDir)
	if err != nil {
		return nil, err
	}
	if err = copyFile(src, tmp, l.log); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return &domain.Download{FileID: id, FileName: name, Path: tmp, Domain: d}, nil
}

func (l *Local) Delete(_ context.Context, id, d string) (bool, error) {
	src, _, err := l.locate(id, d)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			l.log.Warn("File not found and not deleted", "id", id, "domain", d)
			return false, nil
		}
		return false, err
	}
	if err = os.Remove(src); err != nil {
		return false, fmt.Errorf("deleting file: %w", err)
	}
	return true, nil
}

// locate returns the stored path and the original (sanitized) name of id.
func (l *Local) locate(id, d string) (string, string, error) {
	if uuid.Validate(id) != nil {
		return "", "", ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(l.root, domainDir(d), id+"_*"))
	if err != nil {
		return "", "", fmt.Errorf("looking up file: %w", err)
	}
	if len(matches) == 0 {
		return "", "", ErrNotFound
	}
	return matches[0], strings.TrimPrefix(filepath.Base(matches[0]), id+"_"), nil
}
