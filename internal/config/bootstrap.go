package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureUserConfig seeds dataDir with a copy of the bundled defaults on first
// run and returns the path of the user's editable copy. An existing copy is
// never touched.
func EnsureUserConfig(dataDir string, defaultPath string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	switch _, err := os.Stat(userPath); {
	case err == nil:
		return userPath, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	raw, err := os.ReadFile(defaultPath)
	if err != nil {
		return "", fmt.Errorf("read default config: %w", err)
	}
	if err := os.WriteFile(userPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("seed user config: %w", err)
	}
	return userPath, nil
}
