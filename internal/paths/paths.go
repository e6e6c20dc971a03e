// ABOUTME: Filesystem path helpers for bot state
// ABOUTME: Expands a leading ~/ and picks the XDG state directory default

package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoHome is returned when a path needs the home directory and none is known.
var ErrNoHome = errors.New("home directory unknown")

// ExpandTilde replaces a leading "~/" (or a bare "~") with the user's home directory.
func ExpandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", fmt.Errorf("expanding %q: %w", path, ErrNoHome)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// StateDir resolves where a bot keeps its session file and encrypted store.
// A non-empty override wins (after tilde expansion); otherwise the directory is
// $XDG_STATE_HOME/<name>, falling back to ~/.local/state/<name>.
func StateDir(override, name string) (string, error) {
	if override != "" {
		return ExpandTilde(override)
	}
	if name == "" {
		return "", errors.New("state directory needs a bot name")
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", fmt.Errorf("default state directory: %w", ErrNoHome)
	}
	return filepath.Join(home, ".local", "state", name), nil
}
