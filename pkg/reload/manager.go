// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package reload replaces shared libraries in a running process when their
// files change on disk.
//
// A Manager resolves and loads libraries, optionally through a private shadow
// copy so the original file stays writable, and watches each library's
// directory. The host calls PollForReloads from its main loop; for each
// changed library the Manager hands control to the host before unloading the
// old generation and again after loading the new one or failing to.
//
//	m, err := reload.New(reload.Config{
//		SearchPaths: []string{"target/debug"},
//		ShadowRoot:  "target/debug",
//		Debounce:    2 * time.Second,
//	})
//	lib, err := m.AddLibrary(ctx, "test_shared", reload.PlatformName)
//	for range ticker.C {
//		m.PollForReloads(ctx, host)
//	}
//
// The Manager does not carry state across generations and does not stop
// other goroutines from calling into a library during a reload; the host
// quiesces them in its Before handler.
package reload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/libreload/internal/libname"
	"github.com/holomush/libreload/internal/resolve"
	"github.com/holomush/libreload/internal/shadow"
	"github.com/holomush/libreload/internal/watch"
	"github.com/holomush/libreload/pkg/errutil"
	"github.com/holomush/libreload/pkg/reload/dynload"
)

// NameMode controls how AddLibrary interprets a library name.
type NameMode = libname.Mode

const (
	// PlatformName formats the name by platform convention:
	// Windows foobar.dll, Linux libfoobar.so, macOS libfoobar.dylib.
	PlatformName NameMode = libname.Format
	// ExactName uses the name unchanged.
	ExactName NameMode = libname.AsIs
)

// SearchMode controls how far the resolver searches from the executable.
type SearchMode = resolve.SearchMode

const (
	// SearchAncestors searches the executable's directory and every ancestor.
	SearchAncestors SearchMode = resolve.SearchAncestors
	// SearchExecutableDir searches only the executable's directory.
	SearchExecutableDir SearchMode = resolve.SearchExecutableDir
)

// Event is one debounced filesystem change.
type Event = watch.Event

// EventSource delivers debounced change events for watched directories.
type EventSource interface {
	Watch(dir string, recursive bool) error
	// Drain returns queued events without blocking.
	Drain() []Event
	// Ready is signalled when events are queued.
	Ready() <-chan struct{}
	Close() error
}

// Config holds constructor-time settings. Fields are read-only afterwards.
type Config struct {
	// SearchPaths are extra directories consulted after the working directory.
	SearchPaths []string
	// ShadowRoot is where the shadow directory is created. Empty disables
	// shadow copies: libraries load from their resolved path and are never
	// reloaded.
	ShadowRoot string
	// Debounce is the quiet period after the last write before a change is
	// reported.
	Debounce time.Duration
	// NeverUnload keeps replaced libraries mapped instead of closing them.
	// Always on when built with the libreload_never_unload tag.
	NeverUnload bool
	// Search bounds the executable directory search.
	Search SearchMode
	// PlainShadowNames stages copies without the millisecond prefix, so
	// every generation of a library loads from the same path. The host
	// should release the old generation in its Before handler: the platform
	// loader may hand back the still-open old image for a path it already
	// has mapped.
	PlainShadowNames bool
	// CopyAttempts and CopyInterval override the shadow copy retry budget.
	CopyAttempts int
	CopyInterval time.Duration
}

// DefaultConfig returns a Config with the default debounce and no shadow root.
func DefaultConfig() Config {
	return Config{
		Debounce:     watch.DefaultDebounce,
		NeverUnload:  neverUnloadBuild,
		CopyAttempts: shadow.DefaultAttempts,
		CopyInterval: shadow.DefaultInterval,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoader replaces the platform loader.
func WithLoader(l dynload.Loader) Option {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithEventSource replaces the filesystem watcher.
func WithEventSource(src EventSource) Option {
	return func(m *Manager) {
		m.newSource = func(Config, *slog.Logger) (EventSource, error) {
			return src, nil
		}
	}
}

// WithEventSourceFactory replaces how the event source is built. An error
// from factory puts the Manager in load-only mode.
func WithEventSourceFactory(factory func(Config, *slog.Logger) (EventSource, error)) Option {
	return func(m *Manager) {
		m.newSource = factory
	}
}

// WithExecutable overrides how the resolver finds the running binary.
func WithExecutable(fn func() (string, error)) Option {
	return func(m *Manager) {
		m.executable = fn
	}
}

func newWatchSource(cfg Config, logger *slog.Logger) (EventSource, error) {
	return watch.New(watch.Options{Debounce: cfg.Debounce, Logger: logger})
}

// Manager owns the registry of loaded libraries and drives reloads.
type Manager struct {
	cfg         Config
	neverUnload bool
	loader      dynload.Loader
	logger      *slog.Logger
	executable  func() (string, error)
	newSource   func(Config, *slog.Logger) (EventSource, error)

	resolver *resolve.Resolver
	copier   *shadow.Copier
	shadow   *shadow.Dir
	source   EventSource

	mu     sync.Mutex
	reg    registry
	closed bool

	pollMu sync.Mutex
}

// New creates a Manager. It fails only when the shadow directory cannot be
// created. If the filesystem watcher cannot be created the Manager still
// loads libraries but never reloads them; Watching reports false.
func New(cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:         cfg,
		neverUnload: cfg.NeverUnload || neverUnloadBuild,
		loader:      dynload.System(),
		logger:      slog.Default(),
		executable:  os.Executable,
		newSource:   newWatchSource,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "reload")

	m.resolver = &resolve.Resolver{
		SearchPaths: resolve.NormalizeSearchPaths(cfg.SearchPaths),
		Platform:    libname.Current(),
		Search:      cfg.Search,
		Executable:  m.executable,
	}
	m.copier = shadow.NewCopier(shadow.Policy{
		Attempts:   cfg.CopyAttempts,
		Interval:   cfg.CopyInterval,
		PlainNames: cfg.PlainShadowNames,
	})

	if cfg.ShadowRoot != "" {
		dir, err := shadow.NewDir(cfg.ShadowRoot)
		if err != nil {
			return nil, err
		}
		m.shadow = dir
	}

	src, err := m.newSource(cfg, m.logger)
	switch {
	case err != nil:
		errutil.LogWarn(m.logger, "file watcher unavailable, libraries will load but not reload", err)
	case src == nil:
		m.logger.Warn("no event source configured, libraries will load but not reload")
	default:
		m.source = src
	}

	m.logger.Debug("reload manager created",
		"search_paths", m.resolver.SearchPaths,
		"shadow_dir", m.ShadowDir(),
		"watching", m.Watching(),
		"never_unload", m.neverUnload)
	return m, nil
}

// AddLibrary resolves, stages and loads a library and starts watching its
// directory. The returned library carries a reference for the caller; call
// Release when done with it.
//
// Errors carry CodeNotFound, CodeLoad, CodeCopy or CodeCopyTimeout.
func (m *Manager) AddLibrary(ctx context.Context, name string, mode NameMode) (*Library, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}

	path, ok := m.resolver.Resolve(name, mode)
	if !ok {
		err := errNotFound(name, libname.Name(m.resolver.Platform, mode, name))
		recordLoad(name, err)
		return nil, err
	}

	lib, err := m.load(ctx, name, path)
	if err == nil {
		// The caller's reference is taken before the library becomes
		// visible to a concurrent poll.
		lib.Retain()
		if err = m.track(lib); err != nil {
			_ = lib.Release()
		}
	}
	recordLoad(name, err)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "library added", lib.logAttrs()...)
	return lib, nil
}

// load stages src when shadowing is on and opens the result.
func (m *Manager) load(ctx context.Context, name, src string) (*Library, error) {
	loadPath := src
	if m.shadow != nil {
		staged, err := m.copier.Stage(ctx, src, m.shadow.Path())
		if err != nil {
			return nil, oops.With("library", name).Wrap(err)
		}
		loadPath = staged
	}

	h, err := m.loader.Open(loadPath)
	if err != nil {
		if m.shadow != nil {
			_ = os.Remove(loadPath)
		}
		return nil, errLoad(name, loadPath, err)
	}

	if m.shadow == nil {
		return newLibrary(name, loadPath, "", false, h, m.logger), nil
	}
	return newLibrary(name, loadPath, src, true, h, m.logger), nil
}

// track watches lib's source directory and appends it to the registry,
// replacing any library with the same original path.
func (m *Manager) track(lib *Library) error {
	if original, ok := lib.OriginalPath(); ok && m.source != nil {
		dir := watchDir(original)
		if err := m.source.Watch(dir, false); err != nil {
			WatchFailures.WithLabelValues(lib.name).Inc()
			errutil.LogWarn(m.logger, "unable to watch library directory, it will not reload", err, "dir", dir, "library", lib.name)
		} else {
			lib.watched.Store(true)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = lib.Release()
		return ErrClosed
	}
	replaced := m.reg.add(lib)
	m.mu.Unlock()

	if replaced != nil {
		m.logger.Info("replacing tracked library", replaced.logAttrs()...)
		m.drop(replaced)
	}
	return nil
}

// watchDir returns the directory to watch for changes to path, with symlinks
// resolved so the watch lands on the directory that actually receives
// writes. The unresolved directory is used when resolution fails.
func watchDir(path string) string {
	dir := filepath.Dir(path)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved
	}
	return dir
}

// drop releases the registry's reference, or leaks it under never-unload.
func (m *Manager) drop(lib *Library) {
	if m.neverUnload {
		m.logger.Debug("keeping library mapped", lib.logAttrs()...)
		return
	}
	if err := lib.Release(); err != nil {
		m.logger.Warn("library unload failed", append(lib.logAttrs(), "error", err)...)
	}
}

// Libraries returns the tracked libraries, most recently added last. The
// slice holds no references; Retain any library kept past the next poll.
func (m *Manager) Libraries() []*Library {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.snapshot()
}

// Events is signalled when change events are waiting for PollForReloads. It
// is nil when the Manager is not watching.
func (m *Manager) Events() <-chan struct{} {
	if m.source == nil {
		return nil
	}
	return m.source.Ready()
}

// Watching reports whether change detection is active.
func (m *Manager) Watching() bool {
	return m.source != nil && !m.isClosed()
}

// ShadowDir returns the directory staged copies are loaded from, or "" when
// shadowing is disabled.
func (m *Manager) ShadowDir() string {
	if m.shadow == nil {
		return ""
	}
	return m.shadow.Path()
}

// SearchPaths returns the normalized search paths.
func (m *Manager) SearchPaths() []string {
	return append([]string(nil), m.resolver.SearchPaths...)
}

// Resolve reports where AddLibrary would find name, without loading it.
func (m *Manager) Resolve(name string, mode NameMode) (string, bool) {
	return m.resolver.Resolve(name, mode)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close drops every tracked library, stops the watcher and removes the
// shadow directory. References still held by the host stay valid until
// released.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	libs := m.reg.drain()
	m.mu.Unlock()

	for _, lib := range libs {
		m.drop(lib)
	}

	var errs []error
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.shadow != nil {
		if err := m.shadow.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Debug("reload manager closed", "libraries", len(libs))
	return errors.Join(errs...)
}
