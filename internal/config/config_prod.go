//go:build !dev

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDir returns <user config dir>/.adminplane, where Path looks for config.toml when
// neither --config nor $ADMINPLANE_CONFIG is given. The directory is created on first use.
func GetDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	d := filepath.Join(base, appConfDir)
	if err = os.MkdirAll(d, 0o750); err != nil {
		return "", fmt.Errorf("creating %s: %w", d, err)
	}
	return d, nil
}
