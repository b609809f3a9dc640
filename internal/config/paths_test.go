package config

import (
	"path/filepath"
	"testing"
)

func TestGlobalConfigPathUsesConfigDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	got, err := GlobalConfigPath()
	if err != nil {
		t.Fatalf("global config path: %v", err)
	}
	want := filepath.Join(tmp, "mealplan", "config.toml")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestStateDirUsesXDGStateHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmp)

	got, err := StateDir()
	if err != nil {
		t.Fatalf("state dir: %v", err)
	}
	if want := filepath.Join(tmp, "mealplan"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
