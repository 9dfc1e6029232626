// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const fileName = "actiongate.jsonc"

// GlobalDir returns the global config directory. ACTIONGATE_CONFIG_DIR wins,
// then ~/.actiongate if it exists, then the XDG location.
func GlobalDir() string {
	if dir := os.Getenv("ACTIONGATE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home != "" {
		dotDir := filepath.Join(home, ".actiongate")
		if _, err := os.Stat(dotDir); err == nil {
			return dotDir
		}
	}
	return filepath.Join(configHome(), "actiongate")
}

// GlobalPath returns the global config file path.
func GlobalPath() string {
	return filepath.Join(GlobalDir(), fileName)
}

// ProjectPaths returns the candidate project config file paths for a
// workspace directory, in load order.
func ProjectPaths(directory string) []string {
	return []string{
		filepath.Join(directory, fileName),
		filepath.Join(directory, ".actiongate", fileName),
	}
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}
