package config

import (
	"os"
	"path/filepath"
)

// ConfigDir returns the mealplan config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/mealplan/.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mealplan"), nil
}

// GlobalConfigPath returns the path to the global config file,
// ~/.config/mealplan/config.toml unless XDG_CONFIG_HOME is set.
func GlobalConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the mealplan data directory, respecting XDG_DATA_HOME.
// Defaults to ~/.local/share/mealplan/.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "mealplan"), nil
}

// StateDir returns the mealplan state directory, respecting XDG_STATE_HOME.
// Defaults to ~/.local/state/mealplan/.
func StateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "mealplan"), nil
}
