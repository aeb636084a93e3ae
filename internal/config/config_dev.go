//go:build dev

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const devConfDir = ".adminplane-dev"

// GetDir returns the development config directory, keeping dev nodes away from the
// user's real configuration. It is created if missing.
func GetDir() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config directory look-up: %v", err)
	}
	d = filepath.Join(d, devConfDir)
	if err = os.MkdirAll(d, 0o750); err != nil {
		return "", fmt.Errorf("creating user config directory: %v", err)
	}
	return d, nil
}
