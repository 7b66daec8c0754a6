// Package paths resolves the configuration and data directories used by anon.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user platform directories.
const AppName = "anon"

// CWD-relative defaults.
const (
	DefaultConfigDirName = ".anon"
	DefaultDataDirName   = "db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "ANON_CONFIG_DIR"
	EnvDataDir   = "ANON_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the per-user configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/anon (fallback ~/.config/anon)
// macOS:   ~/Library/Application Support/anon
// Windows: %APPDATA%/anon
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultDataDir returns the per-user data directory.
//
// Linux:   $XDG_DATA_HOME/anon (fallback ~/.local/share/anon)
// macOS and Windows: same as DefaultConfigDir.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

func xdgDir(env, homeRel string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, AppName), nil
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > ANON_CONFIG_DIR > $(CWD)/.anon.
func ResolveConfigDir(flag string) (string, error) {
	return resolve(DefaultConfigDirName, flag, os.Getenv(EnvConfigDir))
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > store.data_dir from config.yaml > ANON_DATA_DIR > $(CWD)/db.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	return resolve(DefaultDataDirName, flag, configYAMLValue, os.Getenv(EnvDataDir))
}

// resolve returns the first non-empty candidate as an absolute path, or
// cwdName under the working directory.
func resolve(cwdName string, candidates ...string) (string, error) {
	for _, c := range candidates {
		if c != "" {
			return filepath.Abs(c)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, cwdName), nil
}
