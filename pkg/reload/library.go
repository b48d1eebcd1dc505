// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reload

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/libreload/pkg/reload/dynload"
)

// Library is one loaded generation of a shared library.
//
// A Library is reference counted. The registry holds one reference while the
// library is tracked; AddLibrary returns with an extra reference for the
// caller. The platform handle is closed when the last reference is released.
type Library struct {
	name         string
	loadedPath   string
	originalPath string
	shadowed     bool
	generation   ulid.ULID
	loadedAt     time.Time
	logger       *slog.Logger
	// staged identifies the shadow copy this generation loaded, so Release
	// leaves alone a later copy staged under the same path.
	staged  os.FileInfo
	watched atomic.Bool

	mu       sync.Mutex
	handle   dynload.Handle
	refs     int
	unloaded bool
}

func newLibrary(name, loadedPath, originalPath string, shadowed bool, h dynload.Handle, logger *slog.Logger) *Library {
	loadedLibraries.Inc()
	var staged os.FileInfo
	if shadowed {
		staged, _ = os.Stat(loadedPath)
	}
	return &Library{
		name:         name,
		loadedPath:   loadedPath,
		originalPath: originalPath,
		shadowed:     shadowed,
		generation:   ulid.Make(),
		loadedAt:     time.Now(),
		logger:       logger,
		staged:       staged,
		handle:       h,
		refs:         1,
	}
}

// Name returns the logical name the library was added under.
func (l *Library) Name() string { return l.name }

// LoadedPath returns the path handed to the platform loader.
func (l *Library) LoadedPath() string { return l.loadedPath }

// OriginalPath returns the watched source path. It is false for libraries
// loaded without a shadow copy, which are never reloaded.
func (l *Library) OriginalPath() (string, bool) {
	return l.originalPath, l.shadowed
}

// Watched reports whether the library's source directory is under watch.
// A shadowed library whose directory could not be watched stays loaded but
// is never reloaded.
func (l *Library) Watched() bool { return l.watched.Load() }

// Generation identifies this load of the library.
func (l *Library) Generation() ulid.ULID { return l.generation }

// LoadedAt returns when this generation was loaded.
func (l *Library) LoadedAt() time.Time { return l.loadedAt }

// Equal reports whether l and other come from the same on-disk source.
// Identity is the original path alone; handles and loaded paths are ignored.
func (l *Library) Equal(other *Library) bool {
	if l == nil || other == nil {
		return l == other
	}
	return l.shadowed == other.shadowed && l.originalPath == other.originalPath
}

// Symbol returns the address of the named symbol.
func (l *Library) Symbol(name string) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unloaded {
		return 0, ErrUnloaded
	}
	addr, err := l.handle.Symbol(name)
	if err != nil {
		return 0, fmt.Errorf("symbol %s in %s: %w", name, l.loadedPath, err)
	}
	return addr, nil
}

// Bind resolves a symbol and binds it to fnPtr, a pointer to a func variable.
func (l *Library) Bind(name string, fnPtr any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unloaded {
		return ErrUnloaded
	}
	return dynload.Bind(l.handle, name, fnPtr)
}

// Loaded reports whether the handle is still open.
func (l *Library) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.unloaded
}

// Retain adds a reference. Retaining an unloaded library has no effect.
func (l *Library) Retain() *Library {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.unloaded {
		l.refs++
	}
	return l
}

// Release drops a reference. Dropping the last one closes the handle and
// removes the staged shadow copy, unless a newer generation has since been
// staged over the same path.
func (l *Library) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unloaded || l.refs == 0 {
		return nil
	}
	l.refs--
	if l.refs > 0 {
		return nil
	}

	l.unloaded = true
	loadedLibraries.Dec()
	err := l.handle.Close()
	l.handle = nil
	if err != nil {
		return fmt.Errorf("unload %s: %w", l.loadedPath, err)
	}

	if l.shadowed {
		l.removeStaged()
	}
	l.logger.Debug("library unloaded",
		"library", l.name,
		"generation", l.generation.String(),
		"loaded_path", l.loadedPath)
	return nil
}

func (l *Library) removeStaged() {
	cur, err := os.Stat(l.loadedPath)
	if err != nil {
		return
	}
	if l.staged == nil || !os.SameFile(l.staged, cur) {
		l.logger.Debug("shadow copy replaced by a newer generation, keeping it", "path", l.loadedPath)
		return
	}
	if err := os.Remove(l.loadedPath); err != nil && !os.IsNotExist(err) {
		l.logger.Debug("could not remove shadow copy", "path", l.loadedPath, "error", err)
	}
}

func (l *Library) String() string {
	return fmt.Sprintf("%s (%s)", l.name, l.loadedPath)
}

func (l *Library) logAttrs() []any {
	return []any{
		"library", l.name,
		"original_path", l.originalPath,
		"loaded_path", l.loadedPath,
		"generation", l.generation.String(),
	}
}
