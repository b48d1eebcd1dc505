// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads libreload settings from a YAML file and command-line
// flags.
//
// Keys match flag names. A flag set on the command line wins over the file;
// a flag left at its default only fills keys the file does not set.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/libreload/internal/logging"
	"github.com/holomush/libreload/internal/shadow"
	"github.com/holomush/libreload/internal/watch"
	"github.com/holomush/libreload/internal/xdg"
	"github.com/holomush/libreload/pkg/reload"
)

// CodeInvalid marks configuration errors.
const CodeInvalid = "CONFIG_INVALID"

// Search mode names accepted by the search key.
const (
	SearchAncestors  = "ancestors"
	SearchExecutable = "executable"
)

// Config is the effective libreload configuration.
type Config struct {
	SearchPaths      []string      `koanf:"search-path"`
	ShadowRoot       string        `koanf:"shadow-root"`
	NoShadow         bool          `koanf:"no-shadow"`
	PlainShadowNames bool          `koanf:"plain-shadow-names"`
	Debounce         time.Duration `koanf:"debounce"`
	NeverUnload      bool          `koanf:"never-unload"`
	Search           string        `koanf:"search"`
	CopyAttempts     int           `koanf:"copy-attempts"`
	CopyInterval     time.Duration `koanf:"copy-interval"`
	LogFormat        string        `koanf:"log-format"`
	LogLevel         string        `koanf:"log-level"`
	MetricsAddr      string        `koanf:"metrics-addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	rc := reload.DefaultConfig()
	return Config{
		ShadowRoot:   xdg.ShadowRoot(),
		Debounce:     watch.DefaultDebounce,
		NeverUnload:  rc.NeverUnload,
		Search:       SearchAncestors,
		CopyAttempts: shadow.DefaultAttempts,
		CopyInterval: shadow.DefaultInterval,
		LogFormat:    "json",
		LogLevel:     "info",
	}
}

// RegisterFlags adds a flag for every configuration key to fs, defaulting to
// the values from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringSlice("search-path", d.SearchPaths, "extra directory to search for libraries (repeatable)")
	fs.String("shadow-root", d.ShadowRoot, "directory that holds shadow copies")
	fs.Bool("no-shadow", d.NoShadow, "load libraries in place (disables reloading)")
	fs.Bool("plain-shadow-names", d.PlainShadowNames, "stage shadow copies without a timestamp prefix")
	fs.Duration("debounce", d.Debounce, "quiet period after the last write before reloading")
	fs.Bool("never-unload", d.NeverUnload, "keep replaced libraries mapped")
	fs.String("search", d.Search, "executable directory search: ancestors or executable")
	fs.Int("copy-attempts", d.CopyAttempts, "shadow copy attempts while the source is empty")
	fs.Duration("copy-interval", d.CopyInterval, "delay between shadow copy attempts")
	fs.String("log-format", d.LogFormat, "log format (json, text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.MetricsAddr, "observability server address (empty disables)")
}

// Load reads path, then overlays flags from fs. An empty path falls back to
// xdg.ConfigFile when that file exists. fs may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if err := loadFile(k, path, explicit); err != nil {
		return Config{}, err
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code(CodeInvalid).With("path", path).Wrapf(err, "config file")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeInvalid).With("path", path).Wrapf(err, "parse config file")
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Debounce < 0:
		return invalid("debounce", c.Debounce, "must not be negative")
	case c.CopyAttempts < 1:
		return invalid("copy-attempts", c.CopyAttempts, "must be at least 1")
	case c.CopyInterval <= 0:
		return invalid("copy-interval", c.CopyInterval, "must be positive")
	case c.Search != SearchAncestors && c.Search != SearchExecutable:
		return invalid("search", c.Search, "must be ancestors or executable")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return invalid("log-format", c.LogFormat, "must be json or text")
	case !c.NoShadow && c.ShadowRoot == "":
		return invalid("shadow-root", c.ShadowRoot, "must be set unless no-shadow is true")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level", c.LogLevel, "must be debug, info, warn or error")
	}
	return nil
}

func invalid(key string, value any, reason string) error {
	return oops.Code(CodeInvalid).
		With("key", key).
		With("value", value).
		Errorf("invalid %s: %s", key, reason)
}

// Reload converts c to the Manager configuration.
func (c Config) Reload() reload.Config {
	rc := reload.DefaultConfig()
	rc.SearchPaths = append([]string(nil), c.SearchPaths...)
	if !c.NoShadow {
		rc.ShadowRoot = c.ShadowRoot
	}
	rc.Debounce = c.Debounce
	rc.NeverUnload = rc.NeverUnload || c.NeverUnload
	rc.PlainShadowNames = c.PlainShadowNames
	rc.CopyAttempts = c.CopyAttempts
	rc.CopyInterval = c.CopyInterval
	if c.Search == SearchExecutable {
		rc.Search = reload.SearchExecutableDir
	} else {
		rc.Search = reload.SearchAncestors
	}
	return rc
}

// MarshalYAML renders durations in their string form.
func (c Config) MarshalYAML() (any, error) {
	return struct {
		SearchPaths      []string `yaml:"search-path"`
		ShadowRoot       string   `yaml:"shadow-root"`
		NoShadow         bool     `yaml:"no-shadow"`
		PlainShadowNames bool     `yaml:"plain-shadow-names"`
		Debounce         string   `yaml:"debounce"`
		NeverUnload      bool     `yaml:"never-unload"`
		Search           string   `yaml:"search"`
		CopyAttempts     int      `yaml:"copy-attempts"`
		CopyInterval     string   `yaml:"copy-interval"`
		LogFormat        string   `yaml:"log-format"`
		LogLevel         string   `yaml:"log-level"`
		MetricsAddr      string   `yaml:"metrics-addr"`
	}{
		SearchPaths:      c.SearchPaths,
		ShadowRoot:       c.ShadowRoot,
		NoShadow:         c.NoShadow,
		PlainShadowNames: c.PlainShadowNames,
		Debounce:         c.Debounce.String(),
		NeverUnload:      c.NeverUnload,
		Search:           c.Search,
		CopyAttempts:     c.CopyAttempts,
		CopyInterval:     c.CopyInterval.String(),
		LogFormat:        c.LogFormat,
		LogLevel:         c.LogLevel,
		MetricsAddr:      c.MetricsAddr,
	}, nil
}
