// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for libreload.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "libreload"

// ConfigDir returns the XDG config directory for libreload.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// CacheDir returns the XDG cache directory for libreload.
// Checks XDG_CACHE_HOME first, falls back to ~/.cache.
func CacheDir() string {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".cache")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ShadowRoot returns the default parent of shadow copy directories.
// Shadow copies are disposable, so they live under the cache directory.
func ShadowRoot() string {
	return filepath.Join(CacheDir(), "shadow")
}
